package dynamodb

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphbridge/application/ports"
	appErrors "graphbridge/pkg/errors"
)

const maxItemSize = 400 * 1024

// fakeTable keeps items by PK then SK. It understands the key conditions the
// store issues, rejects items over the DynamoDB size limit and returns
// pageSize items per query page when set.
type fakeTable struct {
	mu       sync.Mutex
	items    map[string]map[string]map[string]types.AttributeValue
	queries  []*dynamodb.QueryInput
	pageSize int
}

func itemSize(item map[string]types.AttributeValue) int {
	size := 0
	for name, v := range item {
		size += len(name)
		switch v := v.(type) {
		case *types.AttributeValueMemberS:
			size += len(v.Value)
		case *types.AttributeValueMemberN:
			size += len(v.Value)
		case *types.AttributeValueMemberB:
			size += len(v.Value)
		}
	}
	return size
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeTable) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if itemSize(params.Item) > maxItemSize {
		return nil, &smithy.GenericAPIError{Code: "ValidationException", Message: "Item size has exceeded the maximum allowed size"}
	}
	if f.items == nil {
		f.items = make(map[string]map[string]map[string]types.AttributeValue)
	}
	pk, sk := stringAttr(params.Item, "PK"), stringAttr(params.Item, "SK")
	if f.items[pk] == nil {
		f.items[pk] = make(map[string]map[string]types.AttributeValue)
	}
	if _, exists := f.items[pk][sk]; exists && params.ConditionExpression != nil {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[pk][sk] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, params)

	var pk, prefix string
	for _, v := range params.ExpressionAttributeValues {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			if strings.HasPrefix(s.Value, "SNAPSHOT#") {
				pk = s.Value
			} else {
				prefix = s.Value
			}
		}
	}

	keys := make([]string, 0, len(f.items[pk]))
	for sk := range f.items[pk] {
		if strings.HasPrefix(sk, prefix) {
			keys = append(keys, sk)
		}
	}
	sort.Strings(keys)
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	}
	if start := stringAttr(params.ExclusiveStartKey, "SK"); start != "" {
		for i, sk := range keys {
			if sk == start {
				keys = keys[i+1:]
				break
			}
		}
	}

	limit := len(keys)
	if params.Limit != nil && int(*params.Limit) < limit {
		limit = int(*params.Limit)
	}
	out := &dynamodb.QueryOutput{}
	if f.pageSize > 0 && f.pageSize < limit {
		limit = f.pageSize
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: keys[limit-1]},
		}
	}
	for _, sk := range keys[:limit] {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	return out, nil
}

func snapshotAt(tenantID string, at time.Time, nodes int) ports.Snapshot {
	return ports.Snapshot{
		Module:    "knowledge_graph",
		TenantID:  tenantID,
		TakenAt:   at,
		NodeCount: nodes,
		EdgeCount: 0,
		Data:      []byte(`{"nodes":{}}`),
	}
}

func TestSnapshotStoreLatest(t *testing.T) {
	table := &fakeTable{}
	store := NewSnapshotStore(table, "graphbridge-snapshots", 0, zap.NewNop())
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 500, time.UTC)

	// out of order on purpose
	require.NoError(t, store.Save(ctx, snapshotAt("alpha", base.Add(time.Hour), 7)))
	require.NoError(t, store.Save(ctx, snapshotAt("alpha", base, 3)))
	require.NoError(t, store.Save(ctx, snapshotAt("beta", base.Add(2*time.Hour), 1)))

	latest, err := store.Latest(ctx, "knowledge_graph", "alpha")
	require.NoError(t, err)
	assert.Equal(t, 7, latest.NodeCount)
	assert.True(t, base.Add(time.Hour).Equal(latest.TakenAt))
	assert.Equal(t, "alpha", latest.TenantID)
	assert.Equal(t, []byte(`{"nodes":{}}`), latest.Data)

	require.NotEmpty(t, table.queries)
	q := table.queries[len(table.queries)-1]
	assert.Equal(t, "graphbridge-snapshots", aws.ToString(q.TableName))
	assert.False(t, aws.ToBool(q.ScanIndexForward))
	assert.Equal(t, int32(1), aws.ToInt32(q.Limit))

	_, err = store.Latest(ctx, "knowledge_graph", "gamma")
	assert.True(t, appErrors.IsNotFound(err))
}

func TestSnapshotStoreConflict(t *testing.T) {
	store := NewSnapshotStore(&fakeTable{}, "graphbridge-snapshots", 0, zap.NewNop())
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, snapshotAt("alpha", at, 1)))
	err := store.Save(ctx, snapshotAt("alpha", at, 2))
	assert.True(t, appErrors.IsConflict(err))
}

func TestSnapshotStoreRetentionSetsTTL(t *testing.T) {
	table := &fakeTable{}
	store := NewSnapshotStore(table, "graphbridge-snapshots", 24*time.Hour, zap.NewNop())
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(context.Background(), snapshotAt("alpha", at, 1)))

	item := table.items[partitionKey("knowledge_graph", "alpha")][sortKey(at)]
	require.NotNil(t, item)
	ttl, ok := item["TTL"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "1714644000", ttl.Value)
}

func TestSnapshotStoreSplitsLargeExports(t *testing.T) {
	table := &fakeTable{pageSize: 2}
	store := NewSnapshotStore(table, "graphbridge-snapshots", time.Hour, zap.NewNop())
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// well past a single item, as a few thousand nodes would be
	data := bytes.Repeat([]byte(`{"id":"file:lib/graph.ex","type":"file"},`), 30000)
	require.Greater(t, len(data), maxItemSize)

	snapshot := snapshotAt("alpha", at, 3000)
	snapshot.Data = data
	require.NoError(t, store.Save(ctx, snapshot))
	require.NoError(t, store.Save(ctx, snapshotAt("alpha", at.Add(-time.Hour), 1)))

	header := table.items[partitionKey("knowledge_graph", "alpha")][sortKey(at)]
	require.NotNil(t, header)
	assert.NotContains(t, header, "Data")
	parts, ok := header["Parts"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "5", parts.Value)

	latest, err := store.Latest(ctx, "knowledge_graph", "alpha")
	require.NoError(t, err)
	assert.Equal(t, 3000, latest.NodeCount)
	assert.Equal(t, data, latest.Data)
}

func TestSnapshotStoreReportsMissingParts(t *testing.T) {
	table := &fakeTable{}
	store := NewSnapshotStore(table, "graphbridge-snapshots", 0, zap.NewNop())
	store.partSize = 4
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	snapshot := snapshotAt("alpha", at, 1)
	snapshot.Data = []byte("0123456789")
	require.NoError(t, store.Save(ctx, snapshot))

	got, err := store.Latest(ctx, "knowledge_graph", "alpha")
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), got.Data)

	delete(table.items[partitionKey("knowledge_graph", "alpha")], partKey(at, 1))
	_, err = store.Latest(ctx, "knowledge_graph", "alpha")
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}
