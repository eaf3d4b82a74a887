package memory

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/asmogo/gonostrpool/store"
	"github.com/stretchr/testify/require"
)

const pubkey = "aa4fc8665f5696e33db7e1a572e3b0f5b3d615837b0f362dcb1c8068b098c7b"

func textNote(id string, createdAt int64) nostr.Event {
	return nostr.Event{ID: id, PubKey: pubkey, Kind: nostr.KindTextNote, CreatedAt: createdAt}
}

func TestSaveAndHas(t *testing.T) {
	s := New()
	ctx := context.Background()
	status, err := s.Save(ctx, textNote("e1", 1))
	require.NoError(t, err)
	require.Equal(t, store.SaveSuccess, status)

	has, err := s.Has(ctx, "e1")
	require.NoError(t, err)
	require.True(t, has)
}

func TestSaveDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Save(ctx, textNote("e1", 1))
	require.NoError(t, err)
	status, err := s.Save(ctx, textNote("e1", 1))
	require.NoError(t, err)
	require.Equal(t, store.SaveDuplicate, status)
}

func TestSaveEphemeralNotStored(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := nostr.Event{ID: "e1", PubKey: pubkey, Kind: 20001, CreatedAt: 1}
	status, err := s.Save(ctx, e)
	require.NoError(t, err)
	require.Equal(t, store.SaveEphemeral, status)

	has, _ := s.Has(ctx, "e1")
	require.False(t, has)
}

func TestSaveExpiredRejected(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := nostr.Event{
		ID: "e1", PubKey: pubkey, Kind: 1, CreatedAt: 1,
		Tags: nostr.Tags{{"expiration", "1"}},
	}
	status, err := s.Save(ctx, e)
	require.NoError(t, err)
	require.Equal(t, store.SaveExpired, status)

	has, _ := s.Has(ctx, "e1")
	require.False(t, has)
}

func TestSaveUnexpiredStored(t *testing.T) {
	s := New()
	ctx := context.Background()
	future := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
	e := nostr.Event{
		ID: "e2", PubKey: pubkey, Kind: 1, CreatedAt: 1,
		Tags: nostr.Tags{{"expiration", future}},
	}
	status, err := s.Save(ctx, e)
	require.NoError(t, err)
	require.Equal(t, store.SaveSuccess, status)

	has, _ := s.Has(ctx, "e2")
	require.True(t, has)
}

func TestReplaceableEvictsOlder(t *testing.T) {
	s := New()
	ctx := context.Background()
	older := nostr.Event{ID: "m1", PubKey: pubkey, Kind: nostr.KindMetadata, CreatedAt: 1}
	newer := nostr.Event{ID: "m2", PubKey: pubkey, Kind: nostr.KindMetadata, CreatedAt: 2}

	status, err := s.Save(ctx, older)
	require.NoError(t, err)
	require.Equal(t, store.SaveSuccess, status)

	status, err = s.Save(ctx, newer)
	require.NoError(t, err)
	require.Equal(t, store.SaveReplaced, status)

	has, _ := s.Has(ctx, "m1")
	require.False(t, has)
	has, _ = s.Has(ctx, "m2")
	require.True(t, has)
}

func TestReplaceableRejectsStale(t *testing.T) {
	s := New()
	ctx := context.Background()
	newer := nostr.Event{ID: "m2", PubKey: pubkey, Kind: nostr.KindMetadata, CreatedAt: 2}
	older := nostr.Event{ID: "m1", PubKey: pubkey, Kind: nostr.KindMetadata, CreatedAt: 1}

	_, err := s.Save(ctx, newer)
	require.NoError(t, err)
	status, err := s.Save(ctx, older)
	require.NoError(t, err)
	require.Equal(t, store.SaveDuplicate, status)

	has, _ := s.Has(ctx, "m1")
	require.False(t, has)
}

func TestAddressableKeyedByIdentifier(t *testing.T) {
	s := New()
	ctx := context.Background()
	a1 := nostr.Event{ID: "a1", PubKey: pubkey, Kind: 30001, CreatedAt: 1, Tags: nostr.Tags{{"d", "x"}}}
	a2 := nostr.Event{ID: "a2", PubKey: pubkey, Kind: 30001, CreatedAt: 1, Tags: nostr.Tags{{"d", "y"}}}

	_, err := s.Save(ctx, a1)
	require.NoError(t, err)
	_, err = s.Save(ctx, a2)
	require.NoError(t, err)

	has, _ := s.Has(ctx, "a1")
	require.True(t, has)
	has, _ = s.Has(ctx, "a2")
	require.True(t, has)
}

func TestDeletionRemovesEventAndRejectsResave(t *testing.T) {
	s := New()
	ctx := context.Background()
	target := textNote("e1", 1)
	_, err := s.Save(ctx, target)
	require.NoError(t, err)

	del := nostr.Event{
		ID: "d1", PubKey: pubkey, Kind: nostr.KindDeletion, CreatedAt: 2,
		Tags: nostr.Tags{{"e", "e1"}},
	}
	status, err := s.Save(ctx, del)
	require.NoError(t, err)
	require.Equal(t, store.SaveSuccess, status)

	has, _ := s.Has(ctx, "e1")
	require.False(t, has)

	deleted, err := s.HasEventIDBeenDeleted(ctx, "e1")
	require.NoError(t, err)
	require.True(t, deleted)

	status, err = s.Save(ctx, target)
	require.NoError(t, err)
	require.Equal(t, store.SaveInvalidDelete, status)
}

func TestDeletionIgnoresDifferentAuthor(t *testing.T) {
	s := New()
	ctx := context.Background()
	target := textNote("e1", 1)
	_, err := s.Save(ctx, target)
	require.NoError(t, err)

	del := nostr.Event{
		ID: "d1", PubKey: "other-pubkey", Kind: nostr.KindDeletion, CreatedAt: 2,
		Tags: nostr.Tags{{"e", "e1"}},
	}
	_, err = s.Save(ctx, del)
	require.NoError(t, err)

	has, _ := s.Has(ctx, "e1")
	require.True(t, has)
}

func TestQueryByAuthorNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Save(ctx, textNote("e1", 1))
	_, _ = s.Save(ctx, textNote("e2", 2))
	_, _ = s.Save(ctx, textNote("e3", 3))

	events, err := s.Query(ctx, nostr.Filter{Authors: []string{pubkey}})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "e3", events[0].ID)
	require.Equal(t, "e1", events[2].ID)
}

func TestCountAndNegentropyItems(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Save(ctx, textNote("e1", 1))
	_, _ = s.Save(ctx, textNote("e2", 2))

	n, err := s.Count(ctx, nostr.Filter{Authors: []string{pubkey}})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	items, err := s.NegentropyItems(ctx, nostr.Filter{Authors: []string{pubkey}})
	require.NoError(t, err)
	require.Len(t, items, 0) // e1/e2 aren't valid 32-byte hex ids, so they're skipped.
}

func TestClear(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Save(ctx, textNote("e1", 1))
	require.NoError(t, s.Clear(ctx))
	has, _ := s.Has(ctx, "e1")
	require.False(t, has)
}
