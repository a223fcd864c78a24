package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Record is a mutable, string-keyed value used for actor state and message
// payloads. Nested objects are map[string]any or Record; lists are []any.
//
// Numbers decoded from JSON are normalized by Normalize: integral values
// become int64, everything else float64.
type Record map[string]any

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Record:
		return val.Clone()
	case map[string]any:
		return map[string]any(Record(val).Clone())
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, elem := range val {
			out[i] = map[string]any(Record(elem).Clone())
		}
		return out
	default:
		return v
	}
}

// Get resolves a dotted path ("address.city") against r.
func (r Record) Get(path string) (any, bool) {
	var cur any = r
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set assigns value at a dotted path, creating intermediate objects.
func (r Record) Set(path string, value any) {
	parts := strings.Split(path, ".")
	cur := r
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(cur[part])
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = Record(next)
	}
	cur[parts[len(parts)-1]] = value
}

// String returns the string at path, or "" when absent or not a string.
func (r Record) String(path string) string {
	v, ok := r.Get(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Int returns the integer at path, or 0 when absent or not numeric.
func (r Record) Int(path string) int64 {
	v, ok := r.Get(path)
	if !ok {
		return 0
	}
	n, _ := AsInt(v)
	return n
}

// Bool returns the boolean at path, or false.
func (r Record) Bool(path string) bool {
	v, ok := r.Get(path)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Object returns the nested object at path, or nil.
func (r Record) Object(path string) Record {
	v, ok := r.Get(path)
	if !ok {
		return nil
	}
	m, _ := asMap(v)
	return Record(m)
}

// Time returns the RFC 3339 timestamp at path.
func (r Record) Time(path string) time.Time {
	switch v, _ := r.Get(path); val := v.(type) {
	case time.Time:
		return val
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// AsInt converts any numeric representation to int64.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), n == math.Trunc(n)
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), f == math.Trunc(f)
	default:
		return 0, false
	}
}

// AsFloat converts any numeric representation to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		i, ok := AsInt(v)
		return float64(i), ok
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

// AsRecord returns v as a Record if it is an object.
func AsRecord(v any) (Record, bool) {
	m, ok := asMap(v)
	return Record(m), ok
}

// DecodeRecord parses JSON into a normalized Record.
func DecodeRecord(data []byte) (Record, error) {
	if len(data) == 0 {
		return Record{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if raw == nil {
		return Record{}, nil
	}
	return Normalize(raw).(Record), nil
}

// Normalize converts decoded JSON values into runtime form: objects become
// Record, json.Number becomes int64 or float64.
func Normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(Record, len(val))
		for k, elem := range val {
			out[k] = Normalize(elem)
		}
		return out
	case Record:
		out := make(Record, len(val))
		for k, elem := range val {
			out[k] = Normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Normalize(elem)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case int:
		return int64(val)
	default:
		return v
	}
}
