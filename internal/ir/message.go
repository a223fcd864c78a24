package ir

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Topic identifies a command or event as an (owner type, name) pair.
// "account.open" is Topic{Owner: "account", Name: "open"}.
type Topic struct {
	Owner string
	Name  string
}

// ParseTopic splits a fully-qualified topic on its first dot.
func ParseTopic(s string) (Topic, error) {
	owner, name, ok := strings.Cut(s, ".")
	if !ok || owner == "" || name == "" {
		return Topic{}, fmt.Errorf("invalid topic %q: want <type>.<name>", s)
	}
	return Topic{Owner: owner, Name: name}, nil
}

// String returns the fully-qualified "owner.name" form.
func (t Topic) String() string {
	return t.Owner + "." + t.Name
}

// Qualify returns name as a fully-qualified topic, prefixing owner when the
// name carries no type segment.
func Qualify(owner, name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return owner + "." + name
}

// Message is a command or an event.
//
// Commands carry ID, Type and Data. Events additionally carry the identity
// of the actor whose log they belong to and causal stamps linking them to
// the producing actor instance and the initiating command.
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data Record `json:"data,omitempty"`

	ActorID   string `json:"actor_id,omitempty"`
	ActorType string `json:"actor_type,omitempty"`

	CreatedBy        string    `json:"created_by,omitempty"`
	CreatedByID      string    `json:"created_by_id,omitempty"`
	CreatedByVector  string    `json:"created_by_vector,omitempty"`
	CreatedByVersion int64     `json:"created_by_version,omitempty"`
	InitiatedBy      string    `json:"initiated_by,omitempty"`
	InitiatedByID    string    `json:"initiated_by_id,omitempty"`
	CreatedOn        time.Time `json:"created_on,omitzero"`
}

// Get returns the payload value at a dotted path.
func (m Message) Get(path string) (any, bool) {
	return m.Data.Get(path)
}

// Clone returns a copy of m with a deep-copied payload.
func (m Message) Clone() Message {
	m.Data = m.Data.Clone()
	return m
}

// Owner returns the leading topic segment of m.Type.
func (m Message) Owner() string {
	owner, _, _ := strings.Cut(m.Type, ".")
	return owner
}

// SortByID orders messages ascending by id. Ids are lexically comparable.
func SortByID(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		return strings.Compare(a.ID, b.ID)
	})
}

// EventIDs returns the ids of msgs in order.
func EventIDs(msgs []Message) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

// wireMessage shadows Message so the payload can be decoded through
// DecodeRecord.
type wireMessage struct {
	Message
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeMessage parses a JSON message with a normalized payload, so
// integral numbers come back as int64.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	msg := w.Message
	if len(w.Data) > 0 && string(w.Data) != "null" {
		payload, err := DecodeRecord(w.Data)
		if err != nil {
			return Message{}, fmt.Errorf("decode message %s: %w", msg.ID, err)
		}
		msg.Data = payload
	}
	return msg, nil
}
