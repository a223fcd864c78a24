// Package queryir is the intermediate representation of search criteria.
//
// Criteria arrive as a field-keyed map (from the CLI, from YAML scenarios
// or from Go callers). Parse turns that map into a Query: a flat list of
// typed conditions that all must hold. Backends compile a Query; they
// never look at the raw map.
//
// GRAMMAR:
//
// Each criteria key is a dotted state path. Its value is one of:
//
//	"open"                    equality
//	[10, 20]                  exclusive range: 10 < v < 20
//	{"contains": "ali"}       substring
//	{"match": "^a.*e$"}       regular expression
//	{"in": ["a", "b"]}        membership in a list
//	{"in": "a"}               list-valued field holds "a"
//	{"not": "closed"}         exclusion (scalar or list)
//	{"gt": 5}, {"gte": 5}, {"lt": 5}, {"lte": 5}
//
// An operator object may carry several operators; each becomes its own
// condition. Every condition intersects the result set.
//
// SEALED INTERFACES:
//
// Condition is a sealed interface using the marker method pattern, so
// backends can switch over it exhaustively:
//
//	switch c := cond.(type) {
//	case Equals:
//	case Between:
//	...
//	}
//
// VALUES:
//
// Condition values are normalized scalars: string, bool or float64.
// Integers of any width become float64 so backends compare numbers on a
// single numeric column.
package queryir
