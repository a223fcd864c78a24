package queryir

// Criteria is the raw field-keyed search map.
type Criteria map[string]any

// Query is a conjunction of conditions. An empty Query matches every
// indexed actor of a type.
type Query struct {
	Conditions []Condition
}

// Condition constrains one indexed field.
//
// This is a sealed interface - only types in this package implement it.
type Condition interface {
	conditionNode() // Marker method - seals interface to this package

	// Path returns the dotted state path the condition applies to.
	Path() string
}

// Equals holds when the field equals Value.
type Equals struct {
	Field string
	Value any
}

// Between holds when Low < field < High.
type Between struct {
	Field string
	Low   any
	High  any
}

// Contains holds when the string field contains Value.
type Contains struct {
	Field string
	Value string
}

// Match holds when the string field matches the regular expression
// Pattern (RE2 syntax).
type Match struct {
	Field   string
	Pattern string
}

// In holds when the field equals any of Values. For list-valued fields it
// holds when any element does.
type In struct {
	Field  string
	Values []any
}

// Not holds when the field is indexed and equals none of Values.
type Not struct {
	Field  string
	Values []any
}

// CompareOp is an ordering operator.
type CompareOp string

const (
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
)

// Symbol returns the SQL-style operator symbol.
func (op CompareOp) Symbol() string {
	switch op {
	case OpGT:
		return ">"
	case OpGTE:
		return ">="
	case OpLT:
		return "<"
	case OpLTE:
		return "<="
	default:
		return ""
	}
}

// Compare holds when field Op Value.
type Compare struct {
	Field string
	Op    CompareOp
	Value any
}

func (Equals) conditionNode()   {}
func (Between) conditionNode()  {}
func (Contains) conditionNode() {}
func (Match) conditionNode()    {}
func (In) conditionNode()       {}
func (Not) conditionNode()      {}
func (Compare) conditionNode()  {}

func (c Equals) Path() string   { return c.Field }
func (c Between) Path() string  { return c.Field }
func (c Contains) Path() string { return c.Field }
func (c Match) Path() string    { return c.Field }
func (c In) Path() string       { return c.Field }
func (c Not) Path() string      { return c.Field }
func (c Compare) Path() string  { return c.Field }
