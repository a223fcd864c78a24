package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/evactor/internal/ir"
)

// encodeJSON serializes v with HTML escaping disabled so stored text
// matches what handlers wrote.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// marshalState converts an actor state to JSON TEXT for storage.
func marshalState(state ir.Record) (string, error) {
	data, err := encodeJSON(state)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// unmarshalState parses JSON TEXT to a normalized Record, so integers
// come back as int64 rather than float64.
func unmarshalState(data string) (ir.Record, error) {
	state, err := ir.DecodeRecord([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return state, nil
}

// marshalEvent converts an event to JSON TEXT for storage.
func marshalEvent(evt ir.Message) (string, error) {
	data, err := encodeJSON(evt)
	if err != nil {
		return "", fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}
	return data, nil
}

// unmarshalEvent parses JSON TEXT to an event with a normalized payload.
func unmarshalEvent(body string) (ir.Message, error) {
	evt, err := ir.DecodeMessage([]byte(body))
	if err != nil {
		return ir.Message{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return evt, nil
}

// marshalIDs converts an id list to JSON TEXT.
func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := encodeJSON(ids)
	if err != nil {
		return "", fmt.Errorf("marshal ids: %w", err)
	}
	return data, nil
}

func unmarshalIDs(data string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal ids: %w", err)
	}
	return ids, nil
}
