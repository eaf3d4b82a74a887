// Package nostr implements the wire-level data model shared by the relay
// connection engine, the pool, the gossip router and the negentropy sync
// loop: events, filters, tags and the client/relay message envelopes.
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Tag is an ordered sequence of UTF-8 strings; its first element is
// conventionally its name ("e", "p", "d", ...).
type Tag []string

// Tags is an ordered sequence of tag rows.
type Tags []Tag

// Name returns the tag's first element, or "" if empty.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's second element (its first value), or "" if
// absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Find returns the first tag row named name, or nil if none exists.
func (t Tags) Find(name string) Tag {
	for _, row := range t {
		if row.Name() == name {
			return row
		}
	}
	return nil
}

// FindAll returns every tag row named name, in order.
func (t Tags) FindAll(name string) []Tag {
	var out []Tag
	for _, row := range t {
		if row.Name() == name {
			out = append(out, row)
		}
	}
	return out
}

// Identifier returns the addressable "d" tag value, per spec §3.1: the
// first value of the first "d"-named tag row, or "" if absent (which is
// itself a valid identifier, yielding one implicit record per
// (pubkey, kind)).
func (t Tags) Identifier() string {
	return t.Find("d").Value()
}

// Event is the immutable, content-addressed unit of Nostr data (spec §3.1).
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      Kind   `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// UnsignedEvent is an Event before id/sig have been computed, the shape a
// Signer is asked to sign.
type UnsignedEvent struct {
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      Kind   `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
}

var ErrBadID = errors.New("nostr: computed id does not match event id")

// Serialize produces the canonical preimage array
// [0, pubkey, created_at, kind, tags, content] with no extra whitespace,
// per spec §6.1.
func (e UnsignedEvent) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = Tags{}
	}
	arr := []any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, fmt.Errorf("nostr: serialize event: %w", err)
	}
	// json.Encoder.Encode appends a trailing newline; the preimage must not include it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ComputeID returns the lowercase-hex SHA-256 of the canonical preimage.
func (e UnsignedEvent) ComputeID() (string, error) {
	preimage, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(preimage)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyID reports whether e.ID matches the canonical hash of its content,
// without checking the signature (that is a Signer/crypto concern,
// deliberately out of scope per spec §1).
func (e Event) VerifyID() error {
	computed, err := UnsignedEvent{
		PubKey:    e.PubKey,
		CreatedAt: e.CreatedAt,
		Kind:      e.Kind,
		Tags:      e.Tags,
		Content:   e.Content,
	}.ComputeID()
	if err != nil {
		return err
	}
	if computed != e.ID {
		return ErrBadID
	}
	return nil
}

// ReplaceableKey identifies the (pubkey, kind) slot a replaceable event
// occupies.
type ReplaceableKey struct {
	PubKey string
	Kind   Kind
}

// AddressableKey identifies the (pubkey, kind, d-tag) slot an addressable
// event occupies.
type AddressableKey struct {
	PubKey     string
	Kind       Kind
	Identifier string
}

// Supersedes reports whether e should replace other under the
// (created_at, id) tie-break rule of spec §3.1: newest created_at wins,
// ties broken by the lexicographically lowest id.
func (e Event) Supersedes(other Event) bool {
	if e.CreatedAt != other.CreatedAt {
		return e.CreatedAt > other.CreatedAt
	}
	return e.ID < other.ID
}
