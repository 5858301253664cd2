// Package dynamodb keeps tenant snapshots in a DynamoDB table keyed by
// tenant (PK) and snapshot time (SK). Exports larger than one part are
// split across PART# items written before their TAKEN# header, so a visible
// header always has all of its parts.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"graphbridge/application/ports"
	appErrors "graphbridge/pkg/errors"
)

// Client is the part of the DynamoDB API the store uses
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDB rejects items over 400 KB; a part leaves room for keys and
// attribute names
const defaultPartSize = 300 * 1024

const (
	headerPrefix = "TAKEN#"
	partPrefix   = "PART#"
)

// snapshotItem is the stored header of a snapshot. Data is inline when
// Parts is 0.
type snapshotItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Module    string `dynamodbav:"Module"`
	TenantID  string `dynamodbav:"TenantID"`
	TakenAt   string `dynamodbav:"TakenAt"`
	NodeCount int    `dynamodbav:"NodeCount"`
	EdgeCount int    `dynamodbav:"EdgeCount"`
	Parts     int    `dynamodbav:"Parts,omitempty"`
	Data      []byte `dynamodbav:"Data,omitempty"`
	// TTL lets the table expire old snapshots; 0 omits it
	TTL int64 `dynamodbav:"TTL,omitempty"`
}

// partItem holds one slice of a split export
type partItem struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	Part int    `dynamodbav:"Part"`
	Data []byte `dynamodbav:"Data"`
	TTL  int64  `dynamodbav:"TTL,omitempty"`
}

// SnapshotStore implements ports.SnapshotStore on DynamoDB
type SnapshotStore struct {
	client    Client
	tableName string
	retention time.Duration
	partSize  int
	logger    *zap.Logger
}

var _ ports.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a store on tableName. A positive retention sets
// a TTL on every item.
func NewSnapshotStore(client Client, tableName string, retention time.Duration, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{
		client:    client,
		tableName: tableName,
		retention: retention,
		partSize:  defaultPartSize,
		logger:    logger,
	}
}

func partitionKey(module, tenantID string) string {
	return fmt.Sprintf("SNAPSHOT#%s#%s", module, tenantID)
}

// sortKey sorts lexically in time order
func sortKey(t time.Time) string {
	return fmt.Sprintf("%s%020d", headerPrefix, t.UTC().UnixNano())
}

func partPrefixFor(t time.Time) string {
	return fmt.Sprintf("%s%020d#", partPrefix, t.UTC().UnixNano())
}

func partKey(t time.Time, part int) string {
	return fmt.Sprintf("%s%05d", partPrefixFor(t), part)
}

// split cuts data into parts of at most size bytes
func split(data []byte, size int) [][]byte {
	var parts [][]byte
	for len(data) > size {
		parts = append(parts, data[:size])
		data = data[size:]
	}
	return append(parts, data)
}

// Save stores a snapshot. Two snapshots of a tenant with the same time
// are a conflict.
func (s *SnapshotStore) Save(ctx context.Context, snapshot ports.Snapshot) error {
	pk := partitionKey(snapshot.Module, snapshot.TenantID)
	item := snapshotItem{
		PK:        pk,
		SK:        sortKey(snapshot.TakenAt),
		Module:    snapshot.Module,
		TenantID:  snapshot.TenantID,
		TakenAt:   snapshot.TakenAt.UTC().Format(time.RFC3339Nano),
		NodeCount: snapshot.NodeCount,
		EdgeCount: snapshot.EdgeCount,
	}
	if s.retention > 0 {
		item.TTL = snapshot.TakenAt.Add(s.retention).Unix()
	}

	if len(snapshot.Data) <= s.partSize {
		item.Data = snapshot.Data
	} else {
		parts := split(snapshot.Data, s.partSize)
		for i, data := range parts {
			part := partItem{
				PK:   pk,
				SK:   partKey(snapshot.TakenAt, i),
				Part: i,
				Data: data,
				TTL:  item.TTL,
			}
			if err := s.put(ctx, part, snapshot.TenantID, item.TakenAt); err != nil {
				return err
			}
		}
		item.Parts = len(parts)
	}

	if err := s.put(ctx, item, snapshot.TenantID, item.TakenAt); err != nil {
		return err
	}

	s.logger.Debug("Saved snapshot to DynamoDB",
		zap.String("table", s.tableName),
		zap.String("tenant_id", snapshot.TenantID),
		zap.Int("bytes", len(snapshot.Data)),
		zap.Int("parts", item.Parts))
	return nil
}

// put writes one item unless its key is already taken
func (s *SnapshotStore) put(ctx context.Context, item any, tenantID, takenAt string) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	condition := expression.Name("PK").AttributeNotExists()
	expr, err := expression.NewBuilder().WithCondition(condition).Build()
	if err != nil {
		return fmt.Errorf("failed to build condition: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return appErrors.Conflict("SNAPSHOT_EXISTS",
				fmt.Sprintf("snapshot for tenant %s at %s already exists", tenantID, takenAt))
		}
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Latest returns the newest snapshot of a tenant
func (s *SnapshotStore) Latest(ctx context.Context, module, tenantID string) (*ports.Snapshot, error) {
	pk := partitionKey(module, tenantID)
	keyExpr := expression.Key("PK").Equal(expression.Value(pk)).
		And(expression.KeyBeginsWith(expression.Key("SK"), headerPrefix))
	expr, err := expression.NewBuilder().WithKeyCondition(keyExpr).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, appErrors.New(appErrors.ErrorTypeNotFound, "SNAPSHOT_NOT_FOUND",
			fmt.Sprintf("no snapshot for tenant %s", tenantID))
	}

	var item snapshotItem
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	takenAt, err := time.Parse(time.RFC3339Nano, item.TakenAt)
	if err != nil {
		return nil, fmt.Errorf("snapshot has invalid time %q: %w", item.TakenAt, err)
	}

	data := item.Data
	if item.Parts > 0 {
		if data, err = s.loadParts(ctx, pk, takenAt, item.Parts); err != nil {
			return nil, err
		}
	}

	return &ports.Snapshot{
		Module:    item.Module,
		TenantID:  item.TenantID,
		TakenAt:   takenAt,
		NodeCount: item.NodeCount,
		EdgeCount: item.EdgeCount,
		Data:      data,
	}, nil
}

// loadParts reads the parts of a split snapshot in order
func (s *SnapshotStore) loadParts(ctx context.Context, pk string, takenAt time.Time, want int) ([]byte, error) {
	keyExpr := expression.Key("PK").Equal(expression.Value(pk)).
		And(expression.KeyBeginsWith(expression.Key("SK"), partPrefixFor(takenAt)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyExpr).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build key condition: %w", err)
	}

	var (
		data  []byte
		count int
		start map[string]types.AttributeValue
	)
	for {
		result, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ScanIndexForward:          aws.Bool(true),
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query snapshot parts: %w", err)
		}

		for _, av := range result.Items {
			var part partItem
			if err := attributevalue.UnmarshalMap(av, &part); err != nil {
				return nil, fmt.Errorf("failed to unmarshal snapshot part: %w", err)
			}
			if part.Part != count {
				return nil, appErrors.Internal(fmt.Sprintf("snapshot part %d missing", count), nil)
			}
			data = append(data, part.Data...)
			count++
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		start = result.LastEvaluatedKey
	}

	if count != want {
		return nil, appErrors.Internal(fmt.Sprintf("snapshot has %d of %d parts", count, want), nil)
	}
	return data, nil
}
