package graph

import (
	"fmt"
	"regexp"
	"testing"

	"graphbridge/domain/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSearchStore(t *testing.T) *Store {
	t.Helper()
	store, _, _ := newTestStore(nil)
	seed := []struct {
		id    string
		typ   NodeType
		attrs Attributes
	}{
		{"task:1", NodeTypeTask, Attributes{"name": "fix login", "priority": "high", "estimate": 3}},
		{"task:2", NodeTypeTask, Attributes{"name": "write docs", "priority": "low"}},
		{"task:3", NodeTypeTask, Attributes{"name": "fix search", "priority": "high", "estimate": 5.0}},
		{"file:1", NodeTypeFile, Attributes{"name": "login.go", "priority": "high"}},
		{"file:2", NodeTypeFile, Attributes{"name": "search.go"}},
		{"entity:1", NodeTypeEntity, Attributes{"kind": "person"}},
	}
	for _, s := range seed {
		_, err := store.AddNode(s.id, s.typ, s.attrs)
		require.NoError(t, err)
	}
	return store
}

func TestSearch(t *testing.T) {
	store := seedSearchStore(t)

	tests := []struct {
		name  string
		query SearchQuery
		want  []string
	}{
		{
			name:  "type and attribute",
			query: SearchQuery{Type: NodeTypeTask, Attrs: Attributes{"priority": "high"}},
			want:  []string{"task:1", "task:3"},
		},
		{
			name:  "attribute across types",
			query: SearchQuery{Attrs: Attributes{"priority": "high"}},
			want:  []string{"file:1", "task:1", "task:3"},
		},
		{
			name:  "name substring",
			query: SearchQuery{NamePattern: "search"},
			want:  []string{"file:2", "task:3"},
		},
		{
			name:  "name regex",
			query: SearchQuery{NameRegex: regexp.MustCompile(`^fix `)},
			want:  []string{"task:1", "task:3"},
		},
		{
			name:  "name filter skips nodes without a name",
			query: SearchQuery{NameRegex: regexp.MustCompile(`.*`)},
			want:  []string{"file:1", "file:2", "task:1", "task:2", "task:3"},
		},
		{
			name:  "numeric attributes compare by value",
			query: SearchQuery{Attrs: Attributes{"estimate": float64(3)}},
			want:  []string{"task:1"},
		},
		{
			name:  "float attribute matches int query",
			query: SearchQuery{Attrs: Attributes{"estimate": 5}},
			want:  []string{"task:3"},
		},
		{
			name:  "missing attribute never matches",
			query: SearchQuery{Attrs: Attributes{"owner": nil}},
			want:  []string{},
		},
		{
			name:  "limit",
			query: SearchQuery{Type: NodeTypeTask, Limit: 2},
			want:  []string{"task:1", "task:2"},
		},
		{
			name:  "type with no nodes",
			query: SearchQuery{Type: NodeTypePattern},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := store.Search(tt.query)
			assert.Equal(t, tt.want, ids(results))
			for _, n := range results {
				if tt.query.Type != "" {
					assert.Equal(t, tt.query.Type, n.Type)
				}
			}
		})
	}
}

func TestSearchDefaultLimit(t *testing.T) {
	store := NewStore(&config.DomainConfig{DefaultSearchLimit: 5})
	for i := 0; i < 12; i++ {
		_, err := store.AddNode(fmt.Sprintf("n%02d", i), NodeTypeContext, nil)
		require.NoError(t, err)
	}

	assert.Len(t, store.Search(SearchQuery{}), 5)
	assert.Len(t, store.Search(SearchQuery{Limit: 20}), 12)
	assert.Equal(t, "n00", store.Search(SearchQuery{})[0].ID)
}
