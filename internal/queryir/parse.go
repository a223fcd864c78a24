package queryir

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/evactor/internal/ir"
)

// ErrInvalidCriteria wraps every Parse and Validate failure.
var ErrInvalidCriteria = errors.New("invalid criteria")

// Parse converts criteria into a validated Query. Conditions are ordered
// by field path, then by operator, so equal criteria always produce equal
// queries.
func Parse(criteria Criteria) (Query, error) {
	fields := make([]string, 0, len(criteria))
	for f := range criteria {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var q Query
	for _, field := range fields {
		conds, err := parseField(field, criteria[field])
		if err != nil {
			return Query{}, fmt.Errorf("%w: field %q: %v", ErrInvalidCriteria, field, err)
		}
		q.Conditions = append(q.Conditions, conds...)
	}

	if err := Validate(q); err != nil {
		return Query{}, err
	}
	return q, nil
}

func parseField(field string, v any) ([]Condition, error) {
	if ops, ok := ir.AsRecord(v); ok {
		return parseOperators(field, ops)
	}
	if list, ok := asList(v); ok {
		if len(list) != 2 {
			return nil, fmt.Errorf("range needs exactly two bounds, got %d", len(list))
		}
		low, err := scalar(list[0])
		if err != nil {
			return nil, err
		}
		high, err := scalar(list[1])
		if err != nil {
			return nil, err
		}
		return []Condition{Between{Field: field, Low: low, High: high}}, nil
	}
	val, err := scalar(v)
	if err != nil {
		return nil, err
	}
	return []Condition{Equals{Field: field, Value: val}}, nil
}

func parseOperators(field string, ops ir.Record) ([]Condition, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("operator object is empty")
	}
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	conds := make([]Condition, 0, len(names))
	for _, name := range names {
		arg := ops[name]
		switch name {
		case "contains":
			s, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("contains needs a string, got %T", arg)
			}
			conds = append(conds, Contains{Field: field, Value: s})
		case "match":
			s, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("match needs a pattern string, got %T", arg)
			}
			conds = append(conds, Match{Field: field, Pattern: s})
		case "in":
			values, err := scalars(arg)
			if err != nil {
				return nil, fmt.Errorf("in: %w", err)
			}
			conds = append(conds, In{Field: field, Values: values})
		case "not":
			values, err := scalars(arg)
			if err != nil {
				return nil, fmt.Errorf("not: %w", err)
			}
			conds = append(conds, Not{Field: field, Values: values})
		case string(OpGT), string(OpGTE), string(OpLT), string(OpLTE):
			val, err := scalar(arg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			conds = append(conds, Compare{Field: field, Op: CompareOp(name), Value: val})
		default:
			return nil, fmt.Errorf("unknown operator %q", name)
		}
	}
	return conds, nil
}

// scalar normalizes a searchable value.
func scalar(v any) (any, error) {
	switch val := v.(type) {
	case string, bool:
		return val, nil
	case nil:
		return nil, fmt.Errorf("null is not searchable")
	}
	if f, ok := ir.AsFloat(v); ok {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// scalars normalizes a scalar or a list of scalars.
func scalars(v any) ([]any, error) {
	list, ok := asList(v)
	if !ok {
		list = []any{v}
	}
	out := make([]any, 0, len(list))
	for _, elem := range list {
		val, err := scalar(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}

func asList(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(val))
		for i, n := range val {
			out[i] = n
		}
		return out, true
	default:
		return nil, false
	}
}
