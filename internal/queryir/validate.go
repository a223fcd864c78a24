package queryir

import (
	"fmt"
	"regexp"
	"strings"
)

// Validate checks a Query built by Parse or by hand.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	for i, c := range q.Conditions {
		if err := validateCondition(c); err != nil {
			return fmt.Errorf("%w: condition %d: %v", ErrInvalidCriteria, i, err)
		}
	}
	return nil
}

func validateCondition(c Condition) error {
	if c == nil {
		return fmt.Errorf("nil condition")
	}
	if err := validatePath(c.Path()); err != nil {
		return err
	}

	switch cond := c.(type) {
	case Equals:
		return validateScalar(cond.Value)
	case Between:
		if err := validateScalar(cond.Low); err != nil {
			return err
		}
		if err := validateScalar(cond.High); err != nil {
			return err
		}
		if kindOf(cond.Low) != kindOf(cond.High) {
			return fmt.Errorf("range bounds of %q mix %s and %s", cond.Field, kindOf(cond.Low), kindOf(cond.High))
		}
		if kindOf(cond.Low) == "bool" {
			return fmt.Errorf("range on %q cannot use booleans", cond.Field)
		}
		return nil
	case Contains:
		if cond.Value == "" {
			return fmt.Errorf("contains on %q needs a non-empty string", cond.Field)
		}
		return nil
	case Match:
		if _, err := regexp.Compile(cond.Pattern); err != nil {
			return fmt.Errorf("match on %q: %w", cond.Field, err)
		}
		return nil
	case In:
		return validateList(cond.Field, "in", cond.Values)
	case Not:
		return validateList(cond.Field, "not", cond.Values)
	case Compare:
		if cond.Op.Symbol() == "" {
			return fmt.Errorf("unknown comparison %q on %q", cond.Op, cond.Field)
		}
		if err := validateScalar(cond.Value); err != nil {
			return err
		}
		if kindOf(cond.Value) == "bool" {
			return fmt.Errorf("%s on %q cannot use a boolean", cond.Op, cond.Field)
		}
		return nil
	default:
		return fmt.Errorf("unknown condition type %T", c)
	}
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty field path")
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return fmt.Errorf("field path %q has an empty segment", path)
		}
		if strings.HasPrefix(seg, "_") {
			return fmt.Errorf("field path %q names a reserved field", path)
		}
	}
	return nil
}

func validateList(field, op string, values []any) error {
	if len(values) == 0 {
		return fmt.Errorf("%s on %q needs at least one value", op, field)
	}
	for _, v := range values {
		if err := validateScalar(v); err != nil {
			return err
		}
	}
	return nil
}

func validateScalar(v any) error {
	if kindOf(v) == "" {
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

// kindOf reports the normalized kind of a condition value: "string",
// "number", "bool", or "" for anything else.
func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "bool"
	default:
		return ""
	}
}

// IsNumber reports whether a normalized condition value is numeric.
func IsNumber(v any) bool {
	return kindOf(v) == "number"
}
