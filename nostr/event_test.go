package nostr_test

import (
	"testing"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/stretchr/testify/require"
)

func TestUnsignedEventComputeIDRoundTrip(t *testing.T) {
	u := nostr.UnsignedEvent{
		PubKey:    "aa4fc8665f5696e33db7e1a572e3b0f5b3d615837b0f362dcb1c8068b098c7b",
		CreatedAt: 1700000000,
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{{"e", "deadbeef"}},
		Content:   "hello world",
	}
	id, err := u.ComputeID()
	require.NoError(t, err)
	require.Len(t, id, 64)

	e := nostr.Event{
		ID:        id,
		PubKey:    u.PubKey,
		CreatedAt: u.CreatedAt,
		Kind:      u.Kind,
		Tags:      u.Tags,
		Content:   u.Content,
	}
	require.NoError(t, e.VerifyID())

	e.Content = "tampered"
	require.ErrorIs(t, e.VerifyID(), nostr.ErrBadID)
}

func TestTagsIdentifier(t *testing.T) {
	tags := nostr.Tags{{"p", "abc"}, {"d", "my-article"}, {"d", "ignored"}}
	require.Equal(t, "my-article", tags.Identifier())

	require.Equal(t, "", nostr.Tags{}.Identifier())
}

func TestEventSupersedes(t *testing.T) {
	older := nostr.Event{ID: "b", CreatedAt: 100}
	newer := nostr.Event{ID: "a", CreatedAt: 200}
	require.True(t, newer.Supersedes(older))
	require.False(t, older.Supersedes(newer))

	tieLow := nostr.Event{ID: "aaa", CreatedAt: 100}
	tieHigh := nostr.Event{ID: "bbb", CreatedAt: 100}
	require.True(t, tieLow.Supersedes(tieHigh))
	require.False(t, tieHigh.Supersedes(tieLow))
}
