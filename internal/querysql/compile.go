// Package querysql compiles search queries to parameterized SQLite over
// the search index table.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/evactor/internal/queryir"
)

// DefaultTable is the search index table created by the store schema.
const DefaultTable = "search_index"

// SQLCompiler compiles queryir.Query values to parameterized SQL.
//
// The index holds one row per (actor_type, actor_id, field, element):
// strings and booleans live in the value column, numbers additionally in
// the num column. Every condition becomes an actor_id subquery; the outer
// query intersects them.
//
// All values are parameterized, never interpolated, and every query
// carries an ORDER BY for deterministic results.
type SQLCompiler struct {
	Table string
}

// NewSQLCompiler creates a compiler over DefaultTable.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{Table: DefaultTable}
}

// Compile converts q into a query returning matching actor ids of
// actorType. Returns (sql, params, error).
func (c *SQLCompiler) Compile(actorType string, q queryir.Query) (string, []any, error) {
	if actorType == "" {
		return "", nil, fmt.Errorf("cannot compile query without actor type")
	}
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	params := []any{actorType}
	fmt.Fprintf(&b, "SELECT DISTINCT actor_id FROM %s WHERE actor_type = ?", c.table())

	for _, cond := range q.Conditions {
		sub, subParams, err := c.compileCondition(actorType, cond)
		if err != nil {
			return "", nil, err
		}
		b.WriteString(" AND actor_id IN (")
		b.WriteString(sub)
		b.WriteString(")")
		params = append(params, subParams...)
	}

	b.WriteString(" ORDER BY actor_id ASC COLLATE BINARY")
	return b.String(), params, nil
}

// compileCondition returns a subquery selecting the actor ids that
// satisfy cond.
func (c *SQLCompiler) compileCondition(actorType string, cond queryir.Condition) (string, []any, error) {
	var pred string
	var params []any

	switch cd := cond.(type) {
	case queryir.Equals:
		pred, params = compareValue("=", cd.Value)
	case queryir.Between:
		col := column(cd.Low)
		pred = fmt.Sprintf("%s > ? AND %s < ?", col, col)
		params = []any{cd.Low, cd.High}
	case queryir.Contains:
		pred = "instr(value, ?) > 0"
		params = []any{cd.Value}
	case queryir.Match:
		pred = "value REGEXP ?"
		params = []any{cd.Pattern}
	case queryir.In:
		pred, params = membership(cd.Values)
		pred = "(" + pred + ")"
	case queryir.Not:
		excluded, exParams := membership(cd.Values)
		sub := fmt.Sprintf(
			"SELECT actor_id FROM %s WHERE actor_type = ? AND field = ? AND actor_id NOT IN (SELECT actor_id FROM %s WHERE actor_type = ? AND field = ? AND (%s))",
			c.table(), c.table(), excluded)
		return sub, append([]any{actorType, cd.Field, actorType, cd.Field}, exParams...), nil
	case queryir.Compare:
		pred, params = compareValue(cd.Op.Symbol(), cd.Value)
	default:
		return "", nil, fmt.Errorf("unsupported condition type: %T", cond)
	}

	sub := fmt.Sprintf("SELECT actor_id FROM %s WHERE actor_type = ? AND field = ? AND %s", c.table(), pred)
	return sub, append([]any{actorType, cond.Path()}, params...), nil
}

func (c *SQLCompiler) table() string {
	if c.Table == "" {
		return DefaultTable
	}
	return c.Table
}

// compareValue compiles "<column> <op> ?" choosing the numeric column for
// numbers.
func compareValue(op string, v any) (string, []any) {
	return fmt.Sprintf("%s %s ?", column(v), op), []any{Param(v)}
}

// membership compiles an IN over mixed strings and numbers.
func membership(values []any) (string, []any) {
	var texts, nums []any
	for _, v := range values {
		if queryir.IsNumber(v) {
			nums = append(nums, v)
		} else {
			texts = append(texts, Param(v))
		}
	}

	var parts []string
	var params []any
	if len(texts) > 0 {
		parts = append(parts, "value IN ("+placeholders(len(texts))+")")
		params = append(params, texts...)
	}
	if len(nums) > 0 {
		parts = append(parts, "num IN ("+placeholders(len(nums))+")")
		params = append(params, nums...)
	}
	return strings.Join(parts, " OR "), params
}

func column(v any) string {
	if queryir.IsNumber(v) {
		return "num"
	}
	return "value"
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Param converts a normalized condition value to its stored SQL form.
// Booleans are stored as the text "true" or "false".
func Param(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return "true"
		}
		return "false"
	}
	return v
}
