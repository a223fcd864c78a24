package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEventPack = "evactor/eventpack/v1"
	DomainState     = "evactor/state/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PackID computes the content-addressed id of an event pack: the events
// folded into snapshotID of the actor with the given system id.
// The same inputs always produce the same id, so re-storing a pack is a no-op.
func PackID(systemID, snapshotID string, eventIDs []string) (string, error) {
	obj := map[string]any{
		"system_id":   systemID,
		"snapshot_id": snapshotID,
		"event_ids":   eventIDs,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PackID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEventPack, canonical), nil
}

// StateHash fingerprints the domain fields of an actor state, ignoring
// reserved bookkeeping fields. Floats are rejected by canonical JSON.
func StateHash(state Record) (string, error) {
	domain := make(map[string]any, len(state))
	for k, v := range state {
		if !IsReserved(k) {
			domain[k] = v
		}
	}
	canonical, err := MarshalCanonical(domain)
	if err != nil {
		return "", fmt.Errorf("StateHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}
