// Package store defines the local event store contract (spec §4.5):
// the operations the pool, gossip router and sync loop need against a
// persisted set of events, independent of backend.
package store

import (
	"context"

	"github.com/asmogo/gonostrpool/negentropy"
	"github.com/asmogo/gonostrpool/nostr"
)

// SaveStatus reports how a save resolved against the replaceable/
// addressable/deletion rules of spec §3.6.
type SaveStatus int

const (
	SaveSuccess SaveStatus = iota
	SaveDuplicate
	SaveReplaced
	SaveInvalidDelete
	SaveExpired
	SaveEphemeral
	SaveOther
)

// Rejected reports whether status means the event was not retained.
func (s SaveStatus) Rejected() bool {
	switch s {
	case SaveInvalidDelete, SaveExpired, SaveEphemeral, SaveOther:
		return true
	default:
		return false
	}
}

// Coordinate identifies an addressable/replaceable event slot: a kind, a
// pubkey, and an optional "d" identifier (empty for plain replaceables).
type Coordinate struct {
	Kind       nostr.Kind
	PubKey     string
	Identifier string
}

// Store is the local event store contract (spec §4.5). Implementations
// must satisfy: after Save(e) returns a non-Rejected status, Has(e.ID)
// is true; Query(Filter{IDs:[e.ID]}) yields at most one event;
// NegentropyItems(f) returns exactly the (id,created_at) pairs Query(f)
// would yield.
type Store interface {
	Save(ctx context.Context, e nostr.Event) (SaveStatus, error)
	Has(ctx context.Context, id string) (bool, error)
	EventByID(ctx context.Context, id string) (*nostr.Event, error)
	Query(ctx context.Context, f nostr.Filter) ([]nostr.Event, error)
	Count(ctx context.Context, f nostr.Filter) (int, error)
	NegentropyItems(ctx context.Context, f nostr.Filter) ([]negentropy.Item, error)
	HasEventIDBeenDeleted(ctx context.Context, id string) (bool, error)
	HasCoordBeenDeleted(ctx context.Context, coord Coordinate, createdAt int64) (bool, error)
	Delete(ctx context.Context, f nostr.Filter) error
	Clear(ctx context.Context) error
}
