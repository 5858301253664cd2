package graph

import (
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// SearchQuery filters nodes. Every non-zero field must match.
type SearchQuery struct {
	Type NodeType
	// NamePattern is a substring of attrs["name"]
	NamePattern string
	// NameRegex is matched against attrs["name"]
	NameRegex *regexp.Regexp
	// Attrs requires each key to be present with an equal value
	Attrs Attributes
	// Limit caps the result; zero or negative means the configured default
	Limit int
}

// Search scans the tenant's nodes, narrowed first by the type index when a
// type is given. Matches are id-sorted before the limit is applied.
func (s *Store) Search(q SearchQuery) []*Node {
	limit := q.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultSearchLimit
	}

	var candidates []string
	if q.Type != "" {
		candidates = sortedIDs(s.byType[q.Type])
	} else {
		candidates = make([]string, 0, len(s.nodes))
		for id := range s.nodes {
			candidates = append(candidates, id)
		}
		sort.Strings(candidates)
	}

	results := make([]*Node, 0)
	for _, id := range candidates {
		if len(results) >= limit {
			break
		}
		node := s.nodes[id]
		if q.matches(node) {
			results = append(results, node.Clone())
		}
	}
	return results
}

func (q SearchQuery) matches(node *Node) bool {
	if q.Type != "" && node.Type != q.Type {
		return false
	}

	if q.NamePattern != "" || q.NameRegex != nil {
		name, ok := node.Attrs.Name()
		if !ok {
			return false
		}
		if q.NamePattern != "" && !strings.Contains(name, q.NamePattern) {
			return false
		}
		if q.NameRegex != nil && !q.NameRegex.MatchString(name) {
			return false
		}
	}

	for k, expected := range q.Attrs {
		actual, ok := node.Attrs[k]
		if !ok || !matchValue(expected, actual) {
			return false
		}
	}
	return true
}

// matchValue compares attribute values, treating all numeric kinds as equal
// when they hold the same value
func matchValue(expected, actual any) bool {
	expectedNum, ok1 := toFloat64(expected)
	actualNum, ok2 := toFloat64(actual)
	if ok1 && ok2 {
		return expectedNum == actualNum
	}
	return reflect.DeepEqual(expected, actual)
}

// toFloat64 converts the numeric kinds a JSON decode or a Go caller produces
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
