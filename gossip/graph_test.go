package gossip

import (
	"testing"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/stretchr/testify/require"
)

const (
	pubkeyA = "aa4fc8665f5696e33db7e1a572e3b0f5b3d615837b0f362dcb1c8068b098c7b"
	pubkeyB = "79dff8f82963424e0bb02708a22e44b4980893e3a4be0fa3cb60a43b946764e"
)

func relayListEvent(pubkey string, rows [][2]string) nostr.Event {
	tags := make(nostr.Tags, 0, len(rows))
	for _, row := range rows {
		if row[1] == "" {
			tags = append(tags, nostr.Tag{"r", row[0]})
		} else {
			tags = append(tags, nostr.Tag{"r", row[0], row[1]})
		}
	}
	return nostr.Event{PubKey: pubkey, Kind: nostr.KindRelayList, CreatedAt: 1, Tags: tags}
}

func setupGraph() *Graph {
	g := New()
	g.Update([]nostr.Event{
		relayListEvent(pubkeyA, [][2]string{
			{"wss://relay.damus.io", ""},
			{"wss://relay.nostr.bg", ""},
			{"wss://nos.lol", "write"},
			{"wss://nostr.mom", "read"},
		}),
		relayListEvent(pubkeyB, [][2]string{
			{"wss://relay.damus.io", "write"},
			{"wss://relay.nostr.info", ""},
			{"wss://relay.rip", "write"},
			{"wss://relay.snort.social", "read"},
		}),
	})
	return g
}

func TestBreakDownFilterSingleAuthor(t *testing.T) {
	g := setupGraph()
	f := nostr.Filter{Authors: []string{pubkeyA}}
	bd := g.BreakDownFilter(f)
	require.Equal(t, BrokenDownFilters, bd.Kind)
	require.Contains(t, bd.PerRelay, "wss://relay.damus.io/")
	require.Contains(t, bd.PerRelay, "wss://relay.nostr.bg/")
	require.Contains(t, bd.PerRelay, "wss://nos.lol/")
	require.NotContains(t, bd.PerRelay, "wss://nostr.mom/")
}

func TestBreakDownFilterMultipleAuthors(t *testing.T) {
	g := setupGraph()
	f := nostr.Filter{Authors: []string{pubkeyA, pubkeyB}}
	bd := g.BreakDownFilter(f)
	require.Equal(t, BrokenDownFilters, bd.Kind)
	require.ElementsMatch(t, []string{pubkeyA, pubkeyB}, bd.PerRelay["wss://relay.damus.io/"].Authors)
	require.ElementsMatch(t, []string{pubkeyA}, bd.PerRelay["wss://relay.nostr.bg/"].Authors)
	require.ElementsMatch(t, []string{pubkeyA}, bd.PerRelay["wss://nos.lol/"].Authors)
	require.NotContains(t, bd.PerRelay, "wss://nostr.mom/")
	require.ElementsMatch(t, []string{pubkeyB}, bd.PerRelay["wss://relay.nostr.info/"].Authors)
	require.ElementsMatch(t, []string{pubkeyB}, bd.PerRelay["wss://relay.rip/"].Authors)
	require.NotContains(t, bd.PerRelay, "wss://relay.snort.social/")
}

func TestBreakDownFilterOther(t *testing.T) {
	g := setupGraph()
	search := "Test"
	f := nostr.Filter{Search: search}
	bd := g.BreakDownFilter(f)
	require.Equal(t, BrokenDownOther, bd.Kind)
	require.Equal(t, search, bd.Filter.Search)
}

func TestBreakDownFilterPTag(t *testing.T) {
	g := setupGraph()
	f := nostr.Filter{Tags: map[string][]string{"p": {pubkeyA}}}
	bd := g.BreakDownFilter(f)
	require.Equal(t, BrokenDownFilters, bd.Kind)
	require.Contains(t, bd.PerRelay, "wss://relay.damus.io/")
	require.Contains(t, bd.PerRelay, "wss://relay.nostr.bg/")
	require.Contains(t, bd.PerRelay, "wss://nostr.mom/")
	require.NotContains(t, bd.PerRelay, "wss://nos.lol/")
}

func TestBreakDownFilterAuthorAndPTag(t *testing.T) {
	g := setupGraph()
	f := nostr.Filter{Authors: []string{pubkeyA}, Tags: map[string][]string{"p": {pubkeyB}}}
	bd := g.BreakDownFilter(f)
	require.Equal(t, BrokenDownFilters, bd.Kind)
	for _, url := range []string{
		"wss://relay.damus.io/", "wss://relay.nostr.bg/", "wss://nos.lol/",
		"wss://nostr.mom/", "wss://relay.nostr.info/", "wss://relay.rip/",
		"wss://relay.snort.social/",
	} {
		require.Contains(t, bd.PerRelay, url)
	}
}

func TestBreakDownFilterOrphan(t *testing.T) {
	g := setupGraph()
	f := nostr.Filter{Authors: []string{"0000000000000000000000000000000000000000000000000000000000000000"}}
	bd := g.BreakDownFilter(f)
	require.Equal(t, BrokenDownOrphan, bd.Kind)
}

func TestCheckOutdatedUnknownPubkey(t *testing.T) {
	g := New()
	out := g.CheckOutdated([]string{pubkeyA})
	require.Equal(t, []string{pubkeyA}, out)
}

func TestGetBestRelaysRanksByReceived(t *testing.T) {
	g := setupGraph()
	g.RecordReceived(pubkeyA, "wss://relay.damus.io")
	g.RecordReceived(pubkeyA, "wss://relay.damus.io")
	g.RecordReceived(pubkeyA, "wss://relay.nostr.bg")

	out := g.GetBestRelays(pubkeyA, Selection{Kind: SelectMostReceived, Limit: 2})
	require.Equal(t, []string{"wss://relay.damus.io/", "wss://relay.nostr.bg/"}, out)
}

func TestGetBestRelaysReadSelection(t *testing.T) {
	g := setupGraph()
	out := g.GetBestRelays(pubkeyA, Selection{Kind: SelectRead})
	require.ElementsMatch(t, []string{
		"wss://relay.damus.io/", "wss://relay.nostr.bg/", "wss://nostr.mom/",
	}, out)
}

func TestGetBestRelaysUnknownPubkey(t *testing.T) {
	g := New()
	require.Nil(t, g.GetBestRelays(pubkeyA, Selection{Kind: SelectRead}))
}
