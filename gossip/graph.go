// Package gossip implements the relay-selection router: it learns
// which relays a pubkey reads/writes from NIP-65 and NIP-17 list
// events, plus ad-hoc relay hints, and uses that to break an outgoing
// filter down into one per-relay filter per spec §4.3.
package gossip

import (
	"sync"
	"time"

	"github.com/asmogo/gonostrpool/nostr"
)

// RelayFlags tags why a relay URL is associated with a pubkey, mirroring
// the {flags, received_event_count, last_received_event_at} record spec
// §4.3 describes for the per-pubkey relay table.
type RelayFlags uint8

const (
	FlagRead RelayFlags = 1 << iota
	FlagWrite
	FlagPrivateMessage
	FlagHint
	FlagReceived
)

func (f RelayFlags) has(bit RelayFlags) bool { return f&bit != 0 }

// relayStat is one row of the per-pubkey relay table: the flags a relay
// currently carries plus the receive counters used for ranking.
type relayStat struct {
	flags          RelayFlags
	receivedEvents int64
	lastReceivedAt int64
}

// pubkeyEntry is the bounded-LRU payload for one pubkey: its relay
// table plus the bookkeeping needed to apply newest-created_at-wins and
// the freshness-check policy.
type pubkeyEntry struct {
	relays         map[string]*relayStat
	nip65CreatedAt int64
	nip17CreatedAt int64
	nip65Seen      bool
	nip17Seen      bool
	lastCheck      int64
	lastListUpdate int64
}

func (p *pubkeyEntry) stat(url string) *relayStat {
	st, ok := p.relays[url]
	if !ok {
		st = &relayStat{}
		if p.relays == nil {
			p.relays = make(map[string]*relayStat)
		}
		p.relays[url] = st
	}
	return st
}

// Graph tracks, per pubkey, the relay table learned from NIP-65/NIP-17
// events plus ad-hoc hints and receipt counters, and answers routing
// queries against that state.
type Graph struct {
	mu            sync.RWMutex
	byPubkey      *lru
	checkInterval time.Duration
	outdatedAfter time.Duration
}

// New constructs an empty Graph with the default freshness policy and
// bounded pubkey table (spec §4.3).
func New() *Graph {
	return &Graph{
		byPubkey:      newLRU(MaxPubkeyTableSize),
		checkInterval: DefaultCheckInterval,
		outdatedAfter: DefaultOutdatedAfter,
	}
}

// Update ingests NIP-65 relay-list (kind 10002) and NIP-17 inbox-relay
// (kind 10050) events, keeping only the newest-by-created_at per pubkey
// and at most MaxRelaysList rows from each (spec §4.3).
func (g *Graph) Update(events []nostr.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().Unix()

	for _, e := range events {
		switch e.Kind {
		case nostr.KindRelayList:
			entry := g.byPubkey.getOrCreate(e.PubKey)
			if entry.nip65Seen && e.CreatedAt < entry.nip65CreatedAt {
				continue
			}
			clearFlags(entry, FlagRead|FlagWrite)
			applyNip65(entry, e)
			entry.nip65CreatedAt = e.CreatedAt
			entry.nip65Seen = true
			entry.lastListUpdate = now
		case nostr.KindInboxRelayList:
			entry := g.byPubkey.getOrCreate(e.PubKey)
			if entry.nip17Seen && e.CreatedAt < entry.nip17CreatedAt {
				continue
			}
			clearFlags(entry, FlagPrivateMessage)
			applyNip17(entry, e)
			entry.nip17CreatedAt = e.CreatedAt
			entry.nip17Seen = true
			entry.lastListUpdate = now
		}
		for _, tag := range e.Tags.FindAll("p") {
			if len(tag) >= 3 && tag[2] != "" {
				if hint, err := nostr.NormalizeURL(tag[2]); err == nil {
					entry := g.byPubkey.getOrCreate(tag[1])
					entry.stat(hint).flags |= FlagHint
				}
			}
		}
	}
}

func clearFlags(entry *pubkeyEntry, bits RelayFlags) {
	for _, st := range entry.relays {
		st.flags &^= bits
	}
}

func applyNip65(entry *pubkeyEntry, e nostr.Event) {
	n := 0
	for _, tag := range e.Tags.FindAll("r") {
		if n >= MaxRelaysList {
			break
		}
		if len(tag) < 2 {
			continue
		}
		url, err := nostr.NormalizeURL(tag[1])
		if err != nil {
			continue
		}
		bits := FlagRead | FlagWrite
		if len(tag) >= 3 {
			switch tag[2] {
			case "read":
				bits = FlagRead
			case "write":
				bits = FlagWrite
			}
		}
		entry.stat(url).flags |= bits
		n++
	}
}

func applyNip17(entry *pubkeyEntry, e nostr.Event) {
	n := 0
	for _, tag := range e.Tags.FindAll("relay") {
		if n >= MaxRelaysList {
			break
		}
		if len(tag) < 2 {
			continue
		}
		url, err := nostr.NormalizeURL(tag[1])
		if err != nil {
			continue
		}
		entry.stat(url).flags |= FlagPrivateMessage
		n++
	}
}

// RecordReceived credits relayURL with having delivered an event
// authored by pubkey, feeding best-relay selection (spec §4.3 "the
// relay from which any event was received is credited as received").
func (g *Graph) RecordReceived(pubkey, relayURL string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	url, err := nostr.NormalizeURL(relayURL)
	if err != nil {
		url = relayURL
	}
	entry := g.byPubkey.getOrCreate(pubkey)
	st := entry.stat(url)
	st.flags |= FlagReceived
	st.receivedEvents++
	st.lastReceivedAt = time.Now().Unix()
}

// CheckOutdated reports which of pubkeys have no known list, an empty
// list, or a list older than outdatedAfter, and are due for a refresh
// check (last check + checkInterval < now), per spec §4.3.
func (g *Graph) CheckOutdated(pubkeys []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	now := time.Now().Unix()

	var outdated []string
	for _, pk := range pubkeys {
		entry, ok := g.byPubkey.get(pk)
		if !ok {
			outdated = append(outdated, pk)
			continue
		}
		if entry.lastCheck+int64(g.checkInterval/time.Second) > now {
			continue
		}
		empty := !entry.nip65Seen || !entry.nip17Seen
		expired := entry.lastListUpdate+int64(g.outdatedAfter/time.Second) < now
		if empty || expired {
			outdated = append(outdated, pk)
		}
	}
	return outdated
}

// UpdateLastCheck stamps the freshness-check clock for pubkeys.
func (g *Graph) UpdateLastCheck(pubkeys []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := time.Now().Unix()
	for _, pk := range pubkeys {
		g.byPubkey.getOrCreate(pk).lastCheck = now
	}
}
