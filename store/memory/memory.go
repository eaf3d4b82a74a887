// Package memory is an in-memory reference implementation of the local
// store contract (spec §4.5), good enough to drive the pool/gossip/sync
// components' tests: author/kind secondary indices, replaceable and
// addressable eviction by (created_at, id), and NIP-09 deletion
// bookkeeping.
//
// Grounded on the shape of
// original_source/database/nostr-memory/src/store.rs and
// original_source/gossip/nostr-gossip-memory/src/store.rs (index hints
// by author, by kind+author, by kind+author+d-identifier, replaceable/
// addressable eviction, deletion tracking), adapted from their
// BTreeSet/HashMap index layout to Go maps of id sets.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/asmogo/gonostrpool/negentropy"
	"github.com/asmogo/gonostrpool/nostr"
	"github.com/asmogo/gonostrpool/store"
)

type pendingDeletion struct {
	byPubKey  string
	createdAt int64
}

// Store is a goroutine-safe, process-local implementation of
// store.Store, backed entirely by in-memory maps.
type Store struct {
	mu sync.RWMutex

	byID map[string]nostr.Event

	byAuthor     map[string]map[string]struct{}
	byKind       map[nostr.Kind]map[string]struct{}
	byKindAuthor map[string]map[string]struct{}

	replaceable map[store.Coordinate]string
	addressable map[store.Coordinate]string

	deletedEvents map[string]pendingDeletion
	deletedCoords map[store.Coordinate]int64
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		byID:          make(map[string]nostr.Event),
		byAuthor:      make(map[string]map[string]struct{}),
		byKind:        make(map[nostr.Kind]map[string]struct{}),
		byKindAuthor:  make(map[string]map[string]struct{}),
		replaceable:   make(map[store.Coordinate]string),
		addressable:   make(map[store.Coordinate]string),
		deletedEvents: make(map[string]pendingDeletion),
		deletedCoords: make(map[store.Coordinate]int64),
	}
}

func kindAuthorKey(k nostr.Kind, pubkey string) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(int(k)))
	b.WriteByte(':')
	b.WriteString(pubkey)
	return b.String()
}

func indexAdd(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func (s *Store) indexEvent(e nostr.Event) {
	indexAdd(s.byAuthor, e.PubKey, e.ID)
	if s.byKind[e.Kind] == nil {
		s.byKind[e.Kind] = make(map[string]struct{})
	}
	s.byKind[e.Kind][e.ID] = struct{}{}
	indexAdd(s.byKindAuthor, kindAuthorKey(e.Kind, e.PubKey), e.ID)
}

func (s *Store) unindexEvent(e nostr.Event) {
	delete(s.byAuthor[e.PubKey], e.ID)
	delete(s.byKind[e.Kind], e.ID)
	delete(s.byKindAuthor[kindAuthorKey(e.Kind, e.PubKey)], e.ID)
	delete(s.byID, e.ID)
}

// Save stores e, applying the replaceable/addressable/ephemeral/
// deletion rules of spec §3.1/§3.6.
func (s *Store) Save(_ context.Context, e nostr.Event) (store.SaveStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Kind.IsEphemeral() {
		return store.SaveEphemeral, nil
	}
	if isExpired(e) {
		return store.SaveExpired, nil
	}
	if _, exists := s.byID[e.ID]; exists {
		return store.SaveDuplicate, nil
	}
	if pending, ok := s.deletedEvents[e.ID]; ok && pending.byPubKey == e.PubKey && e.CreatedAt <= pending.createdAt {
		return store.SaveInvalidDelete, nil
	}

	switch {
	case e.Kind.IsReplaceable():
		return s.saveReplaceable(e, store.Coordinate{Kind: e.Kind, PubKey: e.PubKey})
	case e.Kind.IsAddressable():
		return s.saveReplaceable(e, store.Coordinate{Kind: e.Kind, PubKey: e.PubKey, Identifier: e.Tags.Identifier()})
	default:
		s.byID[e.ID] = e
		s.indexEvent(e)
		if e.Kind == nostr.KindDeletion {
			s.applyDeletion(e)
		}
		return store.SaveSuccess, nil
	}
}

// isExpired reports whether e carries a NIP-40 "expiration" tag whose
// unix timestamp is at or before now.
func isExpired(e nostr.Event) bool {
	tag := e.Tags.Find("expiration")
	if tag == nil {
		return false
	}
	exp, err := strconv.ParseInt(tag.Value(), 10, 64)
	if err != nil {
		return false
	}
	return exp <= time.Now().Unix()
}

func (s *Store) saveReplaceable(e nostr.Event, coord store.Coordinate) (store.SaveStatus, error) {
	if deletedAt, ok := s.deletedCoords[coord]; ok && e.CreatedAt <= deletedAt {
		return store.SaveInvalidDelete, nil
	}

	slot := s.replaceable
	if coord.Identifier != "" || e.Kind.IsAddressable() {
		slot = s.addressable
	}

	if existingID, ok := slot[coord]; ok {
		existing := s.byID[existingID]
		if !e.Supersedes(existing) {
			return store.SaveDuplicate, nil
		}
		s.unindexEvent(existing)
		s.byID[e.ID] = e
		s.indexEvent(e)
		slot[coord] = e.ID
		return store.SaveReplaced, nil
	}

	s.byID[e.ID] = e
	s.indexEvent(e)
	slot[coord] = e.ID
	return store.SaveSuccess, nil
}

// applyDeletion processes a kind-5 event's "e"/"a" tags per NIP-09,
// evicting or marking-pending the events/coordinates it names, honoring
// only rows where the target was authored by the same pubkey as the
// deletion event.
func (s *Store) applyDeletion(e nostr.Event) {
	for _, tag := range e.Tags.FindAll("e") {
		id := tag.Value()
		if id == "" {
			continue
		}
		if target, ok := s.byID[id]; ok {
			if target.PubKey != e.PubKey {
				continue
			}
			s.unindexEvent(target)
		}
		if pending, ok := s.deletedEvents[id]; !ok || e.CreatedAt > pending.createdAt {
			s.deletedEvents[id] = pendingDeletion{byPubKey: e.PubKey, createdAt: e.CreatedAt}
		}
	}
	for _, tag := range e.Tags.FindAll("a") {
		coord, ok := parseCoordinate(tag.Value())
		if !ok || coord.PubKey != e.PubKey {
			continue
		}
		if at, ok := s.deletedCoords[coord]; !ok || e.CreatedAt > at {
			s.deletedCoords[coord] = e.CreatedAt
		}
		if existingID, ok := s.addressable[coord]; ok {
			if existing, ok := s.byID[existingID]; ok && existing.CreatedAt <= e.CreatedAt {
				s.unindexEvent(existing)
				delete(s.addressable, coord)
			}
		}
		if existingID, ok := s.replaceable[coord]; ok {
			if existing, ok := s.byID[existingID]; ok && existing.CreatedAt <= e.CreatedAt {
				s.unindexEvent(existing)
				delete(s.replaceable, coord)
			}
		}
	}
}

// parseCoordinate decodes a NIP-01 "a" tag value ("kind:pubkey:identifier").
func parseCoordinate(s string) (store.Coordinate, bool) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return store.Coordinate{}, false
	}
	kindNum, err := strconv.Atoi(parts[0])
	if err != nil {
		return store.Coordinate{}, false
	}
	c := store.Coordinate{Kind: nostr.Kind(kindNum), PubKey: parts[1]}
	if len(parts) == 3 {
		c.Identifier = parts[2]
	}
	return c, true
}

// Has reports whether id is currently stored.
func (s *Store) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok, nil
}

// EventByID returns the stored event for id, or nil if absent.
func (s *Store) EventByID(_ context.Context, id string) (*nostr.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// candidateIDs narrows the full id set using whatever index hint f's
// shape admits: author-only, kind+author, or (falling through) a full
// scan (spec §4.5 "index hints").
func (s *Store) candidateIDs(f nostr.Filter) map[string]struct{} {
	switch {
	case len(f.IDs) > 0:
		out := make(map[string]struct{}, len(f.IDs))
		for _, id := range f.IDs {
			if _, ok := s.byID[id]; ok {
				out[id] = struct{}{}
			}
		}
		return out
	case len(f.Kinds) == 1 && len(f.Authors) == 1:
		return cloneSet(s.byKindAuthor[kindAuthorKey(f.Kinds[0], f.Authors[0])])
	case len(f.Authors) > 0:
		out := make(map[string]struct{})
		for _, author := range f.Authors {
			for id := range s.byAuthor[author] {
				out[id] = struct{}{}
			}
		}
		return out
	case len(f.Kinds) > 0:
		out := make(map[string]struct{})
		for _, k := range f.Kinds {
			for id := range s.byKind[k] {
				out[id] = struct{}{}
			}
		}
		return out
	default:
		out := make(map[string]struct{}, len(s.byID))
		for id := range s.byID {
			out[id] = struct{}{}
		}
		return out
	}
}

func cloneSet(src map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(src))
	for k := range src {
		out[k] = struct{}{}
	}
	return out
}

// Query returns every matching event, newest-first.
func (s *Store) Query(_ context.Context, f nostr.Filter) ([]nostr.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.candidateIDs(f)
	out := make([]nostr.Event, 0, len(candidates))
	for id := range candidates {
		e := s.byID[id]
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit != nil && len(out) > *f.Limit {
		out = out[:*f.Limit]
	}
	return out, nil
}

// Count returns the number of events matching f.
func (s *Store) Count(ctx context.Context, f nostr.Filter) (int, error) {
	events, err := s.Query(ctx, f)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// NegentropyItems returns the (id, created_at) pairs Query(f) would
// yield, as the fixed-size storage-vector rows the sync loop reconciles
// against (spec §4.4/§4.5); events whose id is not 32-byte hex are
// skipped.
func (s *Store) NegentropyItems(ctx context.Context, f nostr.Filter) ([]negentropy.Item, error) {
	events, err := s.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	items := make([]negentropy.Item, 0, len(events))
	for _, e := range events {
		id, err := negentropy.IDFromHex(e.ID)
		if err != nil {
			continue
		}
		items = append(items, negentropy.Item{Timestamp: e.CreatedAt, ID: id})
	}
	return items, nil
}

// HasEventIDBeenDeleted reports whether id is currently marked deleted.
func (s *Store) HasEventIDBeenDeleted(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.deletedEvents[id]
	return ok, nil
}

// HasCoordBeenDeleted reports whether coord has a deletion at or after
// createdAt.
func (s *Store) HasCoordBeenDeleted(_ context.Context, coord store.Coordinate, createdAt int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.deletedCoords[coord]
	return ok && at >= createdAt, nil
}

// Delete evicts every event matching f, outside the normal
// replaceable/deletion bookkeeping (an administrative bulk removal, not
// a NIP-09 deletion).
func (s *Store) Delete(_ context.Context, f nostr.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.candidateIDs(f) {
		e, ok := s.byID[id]
		if !ok || !f.Matches(e) {
			continue
		}
		s.unindexEvent(e)
		coord := store.Coordinate{Kind: e.Kind, PubKey: e.PubKey, Identifier: e.Tags.Identifier()}
		if s.addressable[coord] == e.ID {
			delete(s.addressable, coord)
		}
		if s.replaceable[coord] == e.ID {
			delete(s.replaceable, coord)
		}
	}
	return nil
}

// Clear empties the store entirely.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]nostr.Event)
	s.byAuthor = make(map[string]map[string]struct{})
	s.byKind = make(map[nostr.Kind]map[string]struct{})
	s.byKindAuthor = make(map[string]map[string]struct{})
	s.replaceable = make(map[store.Coordinate]string)
	s.addressable = make(map[store.Coordinate]string)
	s.deletedEvents = make(map[string]pendingDeletion)
	s.deletedCoords = make(map[store.Coordinate]int64)
	return nil
}
