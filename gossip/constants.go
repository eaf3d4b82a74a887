package gossip

import "time"

const (
	// MaxRelaysList bounds how many relay rows from a single NIP-65 or
	// NIP-17 list event are retained (spec §4.3 "Bounded memory").
	MaxRelaysList = 32

	// MaxPubkeyTableSize is the LRU capacity of the per-pubkey relay
	// table (spec §4.3 default 25).
	MaxPubkeyTableSize = 25

	// DefaultCheckInterval is how often a pubkey's freshness is
	// re-evaluated (spec §4.3 default one minute).
	DefaultCheckInterval = time.Minute

	// DefaultOutdatedAfter is how stale a list event may be before the
	// pubkey is considered outdated (spec §4.3 default one hour).
	DefaultOutdatedAfter = time.Hour
)
