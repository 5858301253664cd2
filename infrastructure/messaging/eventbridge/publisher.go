// Package eventbridge publishes graph change events to an AWS EventBridge
// bus, one PutEvents entry per change.
package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"graphbridge/domain/events"
	appErrors "graphbridge/pkg/errors"
)

// Client is the part of the EventBridge API the publisher uses
type Client interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Config configures the publisher and its circuit breaker
type Config struct {
	EventBusName string
	Source       string

	// Breaker settings
	MaxRequests      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	FailureThreshold uint32
}

// Publisher sends change events to EventBridge. Repeated failures open a
// circuit breaker so a broken bus costs nothing until it recovers.
type Publisher struct {
	client  Client
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewPublisher creates a publisher
func NewPublisher(client Client, cfg Config, logger *zap.Logger) *Publisher {
	if cfg.Source == "" {
		cfg.Source = events.SourceGraphBridge
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}

	p := &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "eventbridge:" + cfg.EventBusName,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// a cancelled caller says nothing about the bus
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return p
}

// detail is the JSON body of an entry
type detail struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Module    string         `json:"module"`
	TenantID  string         `json:"tenant_id"`
	Action    events.Action  `json:"action"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publish sends one event. The detail type is the change action.
func (p *Publisher) Publish(ctx context.Context, topic string, event events.ChangeEvent) error {
	body, err := json.Marshal(detail{
		ID:        event.ID,
		Topic:     topic,
		Module:    event.Module,
		TenantID:  event.TenantID,
		Action:    event.Action,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}

	entry := types.PutEventsRequestEntry{
		EventBusName: aws.String(p.cfg.EventBusName),
		Source:       aws.String(p.cfg.Source),
		DetailType:   aws.String(string(event.Action)),
		Detail:       aws.String(string(body)),
		Resources:    []string{fmt.Sprintf("graphbridge:%s", topic)},
	}
	if !event.Timestamp.IsZero() {
		entry.Time = aws.Time(event.Timestamp)
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.put(ctx, entry)
	})
	switch {
	case err == nil:
		p.logger.Debug("Event published to EventBridge",
			zap.String("event_id", event.ID),
			zap.String("eventBus", p.cfg.EventBusName))
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return appErrors.Unavailable("event bus").WithCause(err)
	default:
		return err
	}
}

// State reports the circuit breaker state
func (p *Publisher) State() gobreaker.State {
	return p.breaker.State()
}

func (p *Publisher) put(ctx context.Context, entry types.PutEventsRequestEntry) error {
	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{entry},
	})
	if err != nil {
		return classify(err)
	}

	if result.FailedEntryCount > 0 {
		for _, e := range result.Entries {
			if e.ErrorCode != nil {
				p.logger.Error("Failed to publish event",
					zap.String("detailType", aws.ToString(entry.DetailType)),
					zap.String("errorCode", aws.ToString(e.ErrorCode)),
					zap.String("errorMessage", aws.ToString(e.ErrorMessage)))
			}
		}
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}
	return nil
}

// classify maps AWS API errors onto domain error types
func classify(err error) error {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return fmt.Errorf("failed to publish events to EventBridge: %w", err)
	}

	switch ae.ErrorCode() {
	case "ResourceNotFoundException":
		return appErrors.New(appErrors.ErrorTypeNotFound, "EVENT_BUS_NOT_FOUND", ae.ErrorMessage()).WithCause(err)
	case "AccessDeniedException", "UnrecognizedClientException":
		return appErrors.Internal("event bus access denied", err)
	case "ThrottlingException", "LimitExceededException":
		return appErrors.Unavailable("event bus").WithCause(err).WithDetail("code", ae.ErrorCode())
	default:
		return fmt.Errorf("EventBridge error %s: %w", ae.ErrorCode(), err)
	}
}
