package queryir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evactor/internal/ir"
)

func TestParse_Grammar(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		want     []Condition
	}{
		{
			name:     "scalar equality",
			criteria: Criteria{"state": "open"},
			want:     []Condition{Equals{Field: "state", Value: "open"}},
		},
		{
			name:     "integers become float64",
			criteria: Criteria{"balance": int64(100)},
			want:     []Condition{Equals{Field: "balance", Value: float64(100)}},
		},
		{
			name:     "two element list is an exclusive range",
			criteria: Criteria{"balance": []any{10, 20}},
			want:     []Condition{Between{Field: "balance", Low: float64(10), High: float64(20)}},
		},
		{
			name:     "contains",
			criteria: Criteria{"owner.name": map[string]any{"contains": "ali"}},
			want:     []Condition{Contains{Field: "owner.name", Value: "ali"}},
		},
		{
			name:     "match",
			criteria: Criteria{"owner.name": ir.Record{"match": "^a.*e$"}},
			want:     []Condition{Match{Field: "owner.name", Pattern: "^a.*e$"}},
		},
		{
			name:     "in list",
			criteria: Criteria{"state": map[string]any{"in": []any{"open", "frozen"}}},
			want:     []Condition{In{Field: "state", Values: []any{"open", "frozen"}}},
		},
		{
			name:     "in scalar targets list fields",
			criteria: Criteria{"tags": map[string]any{"in": "vip"}},
			want:     []Condition{In{Field: "tags", Values: []any{"vip"}}},
		},
		{
			name:     "not scalar",
			criteria: Criteria{"state": map[string]any{"not": "closed"}},
			want:     []Condition{Not{Field: "state", Values: []any{"closed"}}},
		},
		{
			name:     "several operators on one field",
			criteria: Criteria{"balance": map[string]any{"lt": 50, "gte": 5}},
			want: []Condition{
				Compare{Field: "balance", Op: OpGTE, Value: float64(5)},
				Compare{Field: "balance", Op: OpLT, Value: float64(50)},
			},
		},
		{
			name:     "fields are ordered",
			criteria: Criteria{"state": "open", "balance": json.Number("3")},
			want: []Condition{
				Equals{Field: "balance", Value: float64(3)},
				Equals{Field: "state", Value: "open"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Parse(tt.criteria)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Conditions)
		})
	}
}

func TestParse_EmptyCriteria(t *testing.T) {
	q, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, q.Conditions)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		contains string
	}{
		{"three element range", Criteria{"n": []any{1, 2, 3}}, "exactly two bounds"},
		{"unknown operator", Criteria{"n": map[string]any{"near": 1}}, `unknown operator "near"`},
		{"empty operator object", Criteria{"n": map[string]any{}}, "operator object is empty"},
		{"null value", Criteria{"n": nil}, "null is not searchable"},
		{"contains non-string", Criteria{"n": map[string]any{"contains": 3}}, "contains needs a string"},
		{"bad pattern", Criteria{"n": map[string]any{"match": "("}}, "match on"},
		{"mixed range", Criteria{"n": []any{1, "z"}}, "mix number and string"},
		{"reserved field", Criteria{"_version": 3}, "reserved field"},
		{"empty in", Criteria{"n": map[string]any{"in": []any{}}}, "needs at least one value"},
		{"object value", Criteria{"n": map[string]any{"gt": map[string]any{}}}, "unsupported value type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.criteria)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCriteria)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestValidate_HandBuiltQuery(t *testing.T) {
	ok := Query{Conditions: []Condition{
		Equals{Field: "state", Value: "open"},
		Compare{Field: "balance", Op: OpGT, Value: float64(1)},
	}}
	assert.NoError(t, Validate(ok))

	bad := Query{Conditions: []Condition{Compare{Field: "balance", Op: "ne", Value: float64(1)}}}
	assert.ErrorContains(t, Validate(bad), `unknown comparison "ne"`)

	raw := Query{Conditions: []Condition{Equals{Field: "balance", Value: 3}}}
	assert.ErrorContains(t, Validate(raw), "unsupported value type int")
}

func TestCondition_Sealed(t *testing.T) {
	var c Condition = Between{Field: "n", Low: float64(1), High: float64(2)}

	switch c.(type) {
	case Between:
	case Equals, Contains, Match, In, Not, Compare:
		t.Fatal("unexpected type")
	}
	assert.Equal(t, "n", c.Path())
}

func TestCompareOp_Symbol(t *testing.T) {
	assert.Equal(t, ">", OpGT.Symbol())
	assert.Equal(t, ">=", OpGTE.Symbol())
	assert.Equal(t, "<", OpLT.Symbol())
	assert.Equal(t, "<=", OpLTE.Symbol())
	assert.Equal(t, "", CompareOp("eq").Symbol())
}
