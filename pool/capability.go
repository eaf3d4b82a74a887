package pool

// Capability is a bitset of roles a relay plays for this client (spec
// §3.3 "Relay Record"). Capabilities OR-merge when a relay URL is
// added more than once, and some bits (GOSSIP) change how
// remove_relay behaves.
type Capability uint8

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapDiscovery
	CapGossip
)

// Has reports whether all bits in want are set in c.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Union returns the OR-merge of c and other, the rule add_relay applies
// when a URL is already present (spec §4.2).
func (c Capability) Union(other Capability) Capability { return c | other }

// WithoutRouting clears READ/WRITE/DISCOVERY, keeping only bits outside
// that set (in practice GOSSIP); used by remove_relay(force=false) when
// the relay still carries GOSSIP (spec §4.2).
func (c Capability) WithoutRouting() Capability {
	return c &^ (CapRead | CapWrite | CapDiscovery)
}
