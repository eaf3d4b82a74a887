package gossip

import "github.com/asmogo/gonostrpool/nostr"

// BrokenDownKind tags which case BreakDownFilter landed in (spec §4.3
// "Break-down algorithm").
type BrokenDownKind int

const (
	// BrokenDownFilters means the original filter was split into one
	// filter per relay in PerRelay.
	BrokenDownFilters BrokenDownKind = iota
	// BrokenDownOrphan means a routing pattern matched but no relay was
	// available for it.
	BrokenDownOrphan
	// BrokenDownOther means the filter had neither authors nor p-tags
	// to route on; the caller decides a fallback (e.g. read relays).
	BrokenDownOther
)

// BrokenDown is the result of routing one filter.
type BrokenDown struct {
	Kind     BrokenDownKind
	PerRelay map[string]nostr.Filter
	Filter   nostr.Filter
}

// BreakDownFilter routes filter to the relays it should be sent to,
// following the (authors?, p-tags?) decision table of spec §4.3.
func (g *Graph) BreakDownFilter(filter nostr.Filter, extraRelays ...string) BrokenDown {
	g.mu.RLock()
	defer g.mu.RUnlock()

	pTags := filter.Tags["p"]

	switch {
	case len(filter.Authors) > 0 && len(pTags) == 0:
		outbox := g.mapByFlagLocked(filter.Authors, FlagWrite)
		mergeInto(outbox, g.mapByFlagLocked(filter.Authors, FlagPrivateMessage))
		for _, extra := range extraRelays {
			outbox[extra] = nil
		}
		if len(outbox) == 0 {
			return BrokenDown{Kind: BrokenDownOrphan, Filter: filter}
		}
		perRelay := make(map[string]nostr.Filter, len(outbox))
		for relay, authors := range outbox {
			f := filter.Clone()
			if authors != nil {
				f.Authors = setToSlice(authors)
			}
			perRelay[relay] = f
		}
		return BrokenDown{Kind: BrokenDownFilters, PerRelay: perRelay}

	case len(filter.Authors) == 0 && len(pTags) > 0:
		inbox := g.mapByFlagLocked(pTags, FlagRead)
		mergeInto(inbox, g.mapByFlagLocked(pTags, FlagPrivateMessage))
		for _, extra := range extraRelays {
			inbox[extra] = nil
		}
		if len(inbox) == 0 {
			return BrokenDown{Kind: BrokenDownOrphan, Filter: filter}
		}
		perRelay := make(map[string]nostr.Filter, len(inbox))
		for relay, pubkeys := range inbox {
			f := filter.Clone()
			if pubkeys != nil {
				if f.Tags == nil {
					f.Tags = make(map[string][]string, 1)
				}
				f.Tags["p"] = setToSlice(pubkeys)
			}
			perRelay[relay] = f
		}
		return BrokenDown{Kind: BrokenDownFilters, PerRelay: perRelay}

	case len(filter.Authors) > 0 && len(pTags) > 0:
		union := unionStrings(filter.Authors, pTags)
		relays := g.getByFlagLocked(union, FlagRead|FlagWrite)
		mergeSet(relays, g.getByFlagLocked(union, FlagPrivateMessage))
		for _, extra := range extraRelays {
			relays[extra] = struct{}{}
		}
		if len(relays) == 0 {
			return BrokenDown{Kind: BrokenDownOrphan, Filter: filter}
		}
		perRelay := make(map[string]nostr.Filter, len(relays))
		for relay := range relays {
			perRelay[relay] = filter.Clone()
		}
		return BrokenDown{Kind: BrokenDownFilters, PerRelay: perRelay}

	default:
		return BrokenDown{Kind: BrokenDownOther, Filter: filter}
	}
}

// getByFlagLocked unions every relay URL carrying any of want's bits
// for any of pubkeys.
func (g *Graph) getByFlagLocked(pubkeys []string, want RelayFlags) map[string]struct{} {
	out := make(map[string]struct{})
	for _, pk := range pubkeys {
		entry, ok := g.byPubkey.get(pk)
		if !ok {
			continue
		}
		for url, st := range entry.relays {
			if st.flags&want != 0 {
				out[url] = struct{}{}
			}
		}
	}
	return out
}

// mapByFlagLocked is getByFlagLocked but keeps track of which pubkeys
// routed to each relay, for rewriting the per-relay Authors/p-tag rows.
func (g *Graph) mapByFlagLocked(pubkeys []string, want RelayFlags) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, pk := range pubkeys {
		entry, ok := g.byPubkey.get(pk)
		if !ok {
			continue
		}
		for url, st := range entry.relays {
			if st.flags&want == 0 {
				continue
			}
			if out[url] == nil {
				out[url] = make(map[string]struct{})
			}
			out[url][pk] = struct{}{}
		}
	}
	return out
}

func mergeInto(dst, src map[string]map[string]struct{}) {
	for url, pubkeys := range src {
		if dst[url] == nil {
			dst[url] = make(map[string]struct{})
		}
		for pk := range pubkeys {
			dst[url][pk] = struct{}{}
		}
	}
}

func mergeSet(dst, src map[string]struct{}) {
	for k := range src {
		dst[k] = struct{}{}
	}
}

func setToSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		seen[v] = struct{}{}
	}
	return setToSlice(seen)
}
