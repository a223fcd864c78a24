package compiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/evactor/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidType       = "E101" // actor type missing or malformed
	ErrNoHandlers        = "E102" // no command or event handlers
	ErrMissingAction     = "E103" // handler without an action name
	ErrInvalidTopic      = "E104" // malformed topic
	ErrDuplicateName     = "E105" // duplicate actor type or topic clash
	ErrReservedField     = "E106" // reserved field used as identity or search field
	ErrUnknownSource     = "E107" // aggregateFrom names an unknown type
	ErrUnknownAction     = "E108" // action or predicate not registered
	ErrInvalidAggregate  = "E109" // actor aggregates from itself
	ErrUnreachableHandle = "E110" // exclusive handler after an unguarded one
)

// ValidationError represents a manifest validation error.
type ValidationError struct {
	Type    string `json:"type,omitempty"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Line > 0 {
		prefix += fmt.Sprintf(" line %d:", e.Line)
	}
	field := e.Field
	if e.Type != "" {
		field = e.Type + "." + field
	}
	return fmt.Sprintf("%s %s: %s", prefix, field, e.Message)
}

// ValidationErrors is a list of validation errors returned as one error.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

var typePattern = regexp.MustCompile(`^[a-z][a-zA-Z0-9_]*$`)

// ValidateManifest checks one manifest in isolation.
// Returns all errors found (does not fail-fast).
func ValidateManifest(m *Manifest) ValidationErrors {
	var errs ValidationErrors
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Type:    m.Type,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    code,
			Line:    m.Pos.Line(),
		})
	}

	if !typePattern.MatchString(m.Type) {
		add("type", ErrInvalidType, "actor type %q must be a lower camel identifier", m.Type)
	}
	if len(m.Commands) == 0 && len(m.Events) == 0 {
		add("commands", ErrNoHandlers, "at least one command or event handler is required")
	}
	if m.Identity != "" && ir.IsReserved(m.Identity) {
		add("identity", ErrReservedField, "identity field %q is reserved", m.Identity)
	}
	for i, f := range m.SearchFields {
		if f == "" || ir.IsReserved(f) {
			add(fmt.Sprintf("searchFields[%d]", i), ErrReservedField, "search field %q is empty or reserved", f)
		}
	}
	for i, src := range m.AggregateFrom {
		if src == m.Type {
			add(fmt.Sprintf("aggregateFrom[%d]", i), ErrInvalidAggregate, "actor cannot aggregate from itself")
		}
	}

	qualified := make(map[string]string)
	for _, table := range []struct {
		name     string
		handlers map[string][]HandlerSpec
	}{{"commands", m.Commands}, {"events", m.Events}} {
		for _, topic := range sortedTopics(table.handlers) {
			field := table.name + "." + topic
			full := ir.Qualify(m.Type, topic)
			if _, err := ir.ParseTopic(full); err != nil || strings.Count(full, ".") != 1 {
				add(field, ErrInvalidTopic, "topic %q must be <name> or <type>.<name>", topic)
				continue
			}
			if table.name == "commands" && !strings.HasPrefix(full, m.Type+".") {
				add(field, ErrInvalidTopic, "command %q must belong to %s", topic, m.Type)
			}
			if prev, dup := qualified[full]; dup {
				add(field, ErrDuplicateName, "topic %q is also declared under %s", full, prev)
			}
			qualified[full] = table.name

			unguarded := false
			for i, h := range table.handlers[topic] {
				if strings.TrimSpace(h.Action) == "" {
					add(fmt.Sprintf("%s[%d].action", field, i), ErrMissingAction, "action is required")
				}
				if h.Exclusive && unguarded {
					add(fmt.Sprintf("%s[%d]", field, i), ErrUnreachableHandle,
						"exclusive handler can never run after an unguarded one")
				}
				if h.Guard == (GuardSpec{}) {
					unguarded = true
				}
			}
		}
	}
	return errs
}

// ValidateSet checks a set of manifests together: every manifest on its
// own, duplicate types, and aggregation sources that are neither in the
// set nor in known.
func ValidateSet(manifests []*Manifest, known []string) ValidationErrors {
	var errs ValidationErrors
	types := make(map[string]bool, len(manifests)+len(known))
	for _, t := range known {
		types[t] = true
	}

	for _, m := range manifests {
		errs = append(errs, ValidateManifest(m)...)
		if types[m.Type] {
			errs = append(errs, ValidationError{
				Type:    m.Type,
				Field:   "type",
				Message: fmt.Sprintf("actor type %q is declared more than once", m.Type),
				Code:    ErrDuplicateName,
				Line:    m.Pos.Line(),
			})
		}
		types[m.Type] = true
	}

	for _, m := range manifests {
		for i, src := range m.AggregateFrom {
			if !types[src] {
				errs = append(errs, ValidationError{
					Type:    m.Type,
					Field:   fmt.Sprintf("aggregateFrom[%d]", i),
					Message: fmt.Sprintf("unknown source actor type %q", src),
					Code:    ErrUnknownSource,
					Line:    m.Pos.Line(),
				})
			}
		}
	}
	return errs
}

func sortedTopics(table map[string][]HandlerSpec) []string {
	topics := make([]string, 0, len(table))
	for t := range table {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
