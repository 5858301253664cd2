// Package memory is an in-process pub/sub fabric. Subscribers receive the
// change events of the topics they join on buffered channels; a subscriber
// that falls behind loses events rather than slowing down the publisher.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"graphbridge/domain/events"
)

const defaultBuffer = 64

// Subscription is one subscriber's view of a topic
type Subscription struct {
	Topic string
	C     <-chan events.ChangeEvent

	ch     chan events.ChangeEvent
	bus    *Bus
	id     uint64
	once   sync.Once
	missed uint64
}

// Cancel leaves the topic and closes C
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}

// Missed returns how many events were dropped because C was full
func (s *Subscription) Missed() uint64 {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	return s.missed
}

// Bus maps topics to subscriber channels
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	topics map[string]map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates an empty bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		topics: make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe joins topic. buffer <= 0 uses a default size.
func (b *Bus) Subscribe(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan events.ChangeEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{Topic: topic, C: ch, ch: ch, bus: b, id: b.nextID}
	if b.closed {
		close(ch)
		return sub
	}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]*Subscription)
	}
	b.topics[topic][sub.id] = sub
	return sub
}

// Publish hands event to every subscriber of topic without blocking. It
// never fails; a topic nobody listens to simply drops the event.
func (b *Bus) Publish(_ context.Context, topic string, event events.ChangeEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- event:
		default:
			sub.missed++
			b.logger.Debug("Subscriber buffer full, dropping event",
				zap.String("topic", topic),
				zap.String("event_id", event.ID))
		}
	}
	return nil
}

// Subscribers returns how many subscribers topic has
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Close closes every subscription. Later subscriptions are closed at once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.topics {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(b.topics, topic)
	}
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[s.Topic]
	if !ok {
		return
	}
	if _, ok := subs[s.id]; !ok {
		return
	}
	delete(subs, s.id)
	close(s.ch)
	if len(subs) == 0 {
		delete(b.topics, s.Topic)
	}
}
