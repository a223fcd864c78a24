package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evactor/internal/ir"
	"github.com/roach88/evactor/internal/queryir"
)

var searchFields = []string{"owner", "balance", "open", "tags", "address.city"}

func indexAccounts(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	accounts := map[string]ir.Record{
		"acc-1": {"owner": "ann", "balance": int64(100), "open": true, "tags": []any{"vip", "eu"}, "address": ir.Record{"city": "Oslo"}},
		"acc-2": {"owner": "bob", "balance": int64(250), "open": true, "tags": []any{"eu"}, "address": ir.Record{"city": "Bergen"}},
		"acc-3": {"owner": "annika", "balance": 12.5, "open": false, "tags": []any{}, "address": ir.Record{"city": "Oslo"}},
	}
	for id, state := range accounts {
		require.NoError(t, s.Update(ctx, "account", id, searchFields, state, nil))
	}
}

func TestSearch_Find(t *testing.T) {
	s := createTestStore(t)
	indexAccounts(t, s)

	tests := []struct {
		name     string
		criteria queryir.Criteria
		want     []string
	}{
		{"equals string", queryir.Criteria{"owner": "ann"}, []string{"acc-1"}},
		{"equals bool", queryir.Criteria{"open": true}, []string{"acc-1", "acc-2"}},
		{"nested path", queryir.Criteria{"address.city": "Oslo"}, []string{"acc-1", "acc-3"}},
		{"list element", queryir.Criteria{"tags": "eu"}, []string{"acc-1", "acc-2"}},
		{"between", queryir.Criteria{"balance": []any{50, 300}}, []string{"acc-1", "acc-2"}},
		{"compare", queryir.Criteria{"balance": map[string]any{"gt": 100}}, []string{"acc-2"}},
		{"contains", queryir.Criteria{"owner": map[string]any{"contains": "ann"}}, []string{"acc-1", "acc-3"}},
		{"match", queryir.Criteria{"owner": map[string]any{"match": "^b"}}, []string{"acc-2"}},
		{"in", queryir.Criteria{"owner": map[string]any{"in": []any{"bob", "annika"}}}, []string{"acc-2", "acc-3"}},
		{"not", queryir.Criteria{"owner": map[string]any{"not": []any{"ann"}}}, []string{"acc-2", "acc-3"}},
		{"conjunction", queryir.Criteria{"open": true, "address.city": "Oslo"}, []string{"acc-1"}},
		{"no match", queryir.Criteria{"owner": "zed"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Find(context.Background(), "account", tt.criteria)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearch_UpdateReplacesChangedFields(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	indexAccounts(t, s)

	original := ir.Record{"owner": "bob", "balance": int64(250), "open": true, "tags": []any{"eu"}, "address": ir.Record{"city": "Bergen"}}
	updated := original.Clone()
	updated["balance"] = int64(0)
	updated["open"] = false
	require.NoError(t, s.Update(ctx, "account", "acc-2", searchFields, updated, original))

	got, err := s.Find(ctx, "account", queryir.Criteria{"open": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"acc-1"}, got)

	got, err = s.Find(ctx, "account", queryir.Criteria{"balance": 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"acc-2"}, got)

	got, err = s.Find(ctx, "account", queryir.Criteria{"owner": "bob"})
	require.NoError(t, err)
	assert.Equal(t, []string{"acc-2"}, got, "unchanged fields stay indexed")
}

func TestSearch_TypesAreIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	indexAccounts(t, s)

	require.NoError(t, s.Update(ctx, "vehicle", "v-1", []string{"owner"}, ir.Record{"owner": "ann"}, nil))

	got, err := s.Find(ctx, "vehicle", queryir.Criteria{"owner": "ann"})
	require.NoError(t, err)
	assert.Equal(t, []string{"v-1"}, got)
}

func TestSearch_InvalidCriteria(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Find(context.Background(), "account", queryir.Criteria{"_vector": "x"})
	assert.Error(t, err)
}

func TestIndexRows(t *testing.T) {
	rows := indexRows([]any{"a", int64(2), true, ir.Record{"x": 1}})
	require.Len(t, rows, 3, "objects are not indexed")
	assert.Equal(t, "a", rows[0].value)
	assert.False(t, rows[0].num.Valid)
	assert.Equal(t, "2", rows[1].value)
	assert.Equal(t, 2.0, rows[1].num.Float64)
	assert.Equal(t, "true", rows[2].value)

	assert.Empty(t, indexRows(nil))
}
