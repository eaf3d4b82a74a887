package nostr

// Kind classifies an event's retention semantics, per NIP-01 and the
// ranges established by subsequent NIPs.
type Kind uint16

const (
	KindMetadata         Kind = 0
	KindTextNote         Kind = 1
	KindContactList      Kind = 3
	KindDeletion         Kind = 5
	KindAuth             Kind = 22242
	KindRelayList        Kind = 10002
	KindInboxRelayList   Kind = 10050
	KindGiftWrap         Kind = 1059
)

// IsRegular reports whether the relay is expected to keep every event of
// this kind.
func (k Kind) IsRegular() bool {
	return !k.IsReplaceable() && !k.IsAddressable() && !k.IsEphemeral()
}

// IsReplaceable reports whether, for a given (pubkey, kind), only the
// newest event should be retained.
func (k Kind) IsReplaceable() bool {
	if k == KindMetadata || k == KindContactList {
		return true
	}
	return k >= 10000 && k < 20000
}

// IsAddressable reports whether, for a given (pubkey, kind, d-tag), only
// the newest event should be retained.
func (k Kind) IsAddressable() bool {
	return k >= 30000 && k < 40000
}

// IsEphemeral reports whether the relay must never persist events of this
// kind; they are only ever forwarded to live subscribers.
func (k Kind) IsEphemeral() bool {
	return k >= 20000 && k < 30000
}
