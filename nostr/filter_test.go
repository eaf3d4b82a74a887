package nostr_test

import (
	"testing"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/stretchr/testify/require"
)

func ts(v int64) *int64 { return &v }
func lim(v int) *int    { return &v }

func TestFilterMatches(t *testing.T) {
	e := nostr.Event{
		ID:        "id1",
		PubKey:    "pk1",
		CreatedAt: 1000,
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{{"p", "pk2"}},
		Content:   "hi",
	}

	require.True(t, nostr.Filter{}.Matches(e))
	require.True(t, nostr.Filter{Authors: []string{"pk1"}}.Matches(e))
	require.False(t, nostr.Filter{Authors: []string{"other"}}.Matches(e))
	require.True(t, nostr.Filter{Tags: map[string][]string{"p": {"pk2"}}}.Matches(e))
	require.False(t, nostr.Filter{Tags: map[string][]string{"p": {"nope"}}}.Matches(e))
}

func TestFilterSinceAfterUntilMatchesNothing(t *testing.T) {
	e := nostr.Event{CreatedAt: 500}
	f := nostr.Filter{Since: ts(1000), Until: ts(10)}
	require.False(t, f.Matches(e))
}

func TestFilterLimitZeroMatchesNothing(t *testing.T) {
	e := nostr.Event{CreatedAt: 500}
	f := nostr.Filter{Limit: lim(0)}
	require.False(t, f.Matches(e))
}

func TestFilterJSONRoundTrip(t *testing.T) {
	f := nostr.Filter{
		Authors: []string{"pk1"},
		Kinds:   []nostr.Kind{nostr.KindTextNote},
		Tags:    map[string][]string{"p": {"pk2"}},
		Since:   ts(10),
	}
	data, err := f.MarshalJSON()
	require.NoError(t, err)

	var decoded nostr.Filter
	require.NoError(t, decoded.UnmarshalJSON(data))
	require.Equal(t, f.Authors, decoded.Authors)
	require.Equal(t, f.Kinds, decoded.Kinds)
	require.Equal(t, f.Tags, decoded.Tags)
	require.Equal(t, *f.Since, *decoded.Since)
}
