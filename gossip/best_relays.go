package gossip

import (
	"sort"

	"github.com/samber/lo"
)

// SelectionKind names which relay role(s) a BestRelays call should draw
// from (spec §4.3 "Best-relay selection").
type SelectionKind int

const (
	SelectAll SelectionKind = iota
	SelectRead
	SelectWrite
	SelectPrivateMessage
	SelectHints
	SelectMostReceived
)

// Selection configures GetBestRelays. For SelectAll, Read/Write/Hints/
// MostReceived gate which flags are unioned; for the single-kind
// selectors only Limit applies.
type Selection struct {
	Kind         SelectionKind
	Limit        int
	Read         bool
	Write        bool
	Hints        bool
	MostReceived bool
}

type candidate struct {
	url            string
	receivedEvents int64
	lastReceivedAt int64
}

// GetBestRelays returns up to sel.Limit relay URLs for pubkey, ordered
// by received_events DESC, last_received_event_at DESC (spec §4.3).
func (g *Graph) GetBestRelays(pubkey string, sel Selection) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entry, ok := g.byPubkey.get(pubkey)
	if !ok {
		return nil
	}

	var want RelayFlags
	switch sel.Kind {
	case SelectRead:
		want = FlagRead
	case SelectWrite:
		want = FlagWrite
	case SelectPrivateMessage:
		want = FlagPrivateMessage
	case SelectHints:
		want = FlagHint
	case SelectMostReceived:
		want = FlagReceived
	default: // SelectAll
		if sel.Read {
			want |= FlagRead
		}
		if sel.Write {
			want |= FlagWrite
		}
		if sel.Hints {
			want |= FlagHint
		}
		if sel.MostReceived {
			want |= FlagReceived
		}
	}

	candidates := lo.FilterMap(lo.Keys(entry.relays), func(url string, _ int) (candidate, bool) {
		st := entry.relays[url]
		if want != 0 && st.flags&want == 0 {
			return candidate{}, false
		}
		return candidate{url: url, receivedEvents: st.receivedEvents, lastReceivedAt: st.lastReceivedAt}, true
	})
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].receivedEvents != candidates[j].receivedEvents {
			return candidates[i].receivedEvents > candidates[j].receivedEvents
		}
		return candidates[i].lastReceivedAt > candidates[j].lastReceivedAt
	})

	limit := sel.Limit
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	return lo.Map(candidates[:limit], func(c candidate, _ int) string { return c.url })
}
