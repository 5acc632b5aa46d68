// Package ids defines the opaque actor/session identifier used throughout
// the broker, reactor, connection, and router packages.
package ids

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ID is a 128-bit opaque identifier naming an actor, link endpoint, or
// transient participant. Equality and hashing only — no ordering semantics.
type ID uuid.UUID

// Zero is the nil identity, used to signal "no sender" or "no receiver" in
// contexts that accept it.
var Zero ID

// New mints a fresh random identifier.
func New() ID {
	return ID(uuid.New())
}

// Parse decodes the canonical string form of an identifier.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Zero, err
	}
	return ID(u), nil
}

// String renders the canonical hyphenated form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the nil identity.
func (id ID) IsZero() bool {
	return id == Zero
}

// Bytes returns the 16-byte big-endian encoding of the identifier.
func (id ID) Bytes() []byte {
	out := make([]byte, 16)
	copy(out, id[:])
	return out
}

// FromBytes decodes a 16-byte slice produced by Bytes.
func FromBytes(b []byte) (ID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return Zero, err
	}
	return ID(u), nil
}

// MarshalJSON renders the canonical hyphenated string form, so an ID nested
// in any JSON payload (admin snapshots, game-rules prompts) reads the same
// way id.String() does.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id).String())
}

// UnmarshalJSON parses the canonical hyphenated string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = ID(u)
	return nil
}
