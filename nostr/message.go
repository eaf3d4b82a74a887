package nostr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client-to-relay and relay-to-client verbs (spec §6.2).
const (
	VerbEvent    = "EVENT"
	VerbReq      = "REQ"
	VerbCount    = "COUNT"
	VerbClose    = "CLOSE"
	VerbAuth     = "AUTH"
	VerbNegOpen  = "NEG-OPEN"
	VerbNegMsg   = "NEG-MSG"
	VerbNegClose = "NEG-CLOSE"
	VerbNegErr   = "NEG-ERR"
	VerbOK       = "OK"
	VerbEOSE     = "EOSE"
	VerbClosed   = "CLOSED"
	VerbNotice   = "NOTICE"
)

// Prefix is a machine-readable OK/CLOSED message prefix (spec §6.3).
type Prefix string

const (
	PrefixDuplicate    Prefix = "duplicate:"
	PrefixPow          Prefix = "pow:"
	PrefixBlocked      Prefix = "blocked:"
	PrefixRateLimited  Prefix = "rate-limited:"
	PrefixInvalid      Prefix = "invalid:"
	PrefixError        Prefix = "error:"
	PrefixUnsupported  Prefix = "unsupported:"
	PrefixAuthRequired Prefix = "auth-required:"
	PrefixRestricted   Prefix = "restricted:"
)

var knownPrefixes = []Prefix{
	PrefixDuplicate, PrefixPow, PrefixBlocked, PrefixRateLimited,
	PrefixInvalid, PrefixError, PrefixUnsupported, PrefixAuthRequired,
	PrefixRestricted,
}

// ParsePrefix extracts the machine-readable prefix from a relay message,
// lowercased, per spec §6.3. It returns "" if the message carries none of
// the known prefixes.
func ParsePrefix(message string) Prefix {
	lower := strings.ToLower(message)
	for _, p := range knownPrefixes {
		if strings.HasPrefix(lower, string(p)) {
			return p
		}
	}
	return ""
}

// ClientEvent builds the ["EVENT", event] client message.
func ClientEvent(e Event) ([]byte, error) {
	return json.Marshal([2]any{VerbEvent, e})
}

// ClientReq builds the ["REQ", subID, filter, ...] client message.
func ClientReq(subID string, filters []Filter) ([]byte, error) {
	arr := make([]any, 0, len(filters)+2)
	arr = append(arr, VerbReq, subID)
	for _, f := range filters {
		arr = append(arr, f)
	}
	return json.Marshal(arr)
}

// ClientCount builds the ["COUNT", subID, filter, ...] client message.
func ClientCount(subID string, filters []Filter) ([]byte, error) {
	arr := make([]any, 0, len(filters)+2)
	arr = append(arr, VerbCount, subID)
	for _, f := range filters {
		arr = append(arr, f)
	}
	return json.Marshal(arr)
}

// ClientClose builds the ["CLOSE", subID] client message.
func ClientClose(subID string) ([]byte, error) {
	return json.Marshal([2]any{VerbClose, subID})
}

// ClientAuth builds the ["AUTH", event] client message.
func ClientAuth(e Event) ([]byte, error) {
	return json.Marshal([2]any{VerbAuth, e})
}

// ClientNegOpen builds the ["NEG-OPEN", subID, filter, initMsgHex] client message.
func ClientNegOpen(subID string, filter Filter, initMsgHex string) ([]byte, error) {
	return json.Marshal([4]any{VerbNegOpen, subID, filter, initMsgHex})
}

// ClientNegMsg builds the ["NEG-MSG", subID, msgHex] client message.
func ClientNegMsg(subID, msgHex string) ([]byte, error) {
	return json.Marshal([3]any{VerbNegMsg, subID, msgHex})
}

// ClientNegClose builds the ["NEG-CLOSE", subID] client message.
func ClientNegClose(subID string) ([]byte, error) {
	return json.Marshal([2]any{VerbNegClose, subID})
}

// RelayMessage is the parsed, tagged-union decoding of a relay-to-client
// wire frame (spec §6.2).
type RelayMessage struct {
	Verb         string
	SubID        string
	Event        *Event
	OKEventID    string
	OKStatus     bool
	OKMessage    string
	NoticeText   string
	AuthChallenge string
	CountValue   *int
	NegMsgHex    string
	NegErrReason string
	ClosedReason string
}

// ParseRelayMessage decodes a raw relay-to-client JSON array frame.
func ParseRelayMessage(raw []byte) (*RelayMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("nostr: bad message: %w", err)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("nostr: empty message")
	}
	var verb string
	if err := json.Unmarshal(arr[0], &verb); err != nil {
		return nil, fmt.Errorf("nostr: bad verb: %w", err)
	}

	m := &RelayMessage{Verb: verb}
	switch verb {
	case VerbEvent:
		if len(arr) != 3 {
			return nil, fmt.Errorf("nostr: malformed EVENT message")
		}
		if err := json.Unmarshal(arr[1], &m.SubID); err != nil {
			return nil, err
		}
		var e Event
		if err := json.Unmarshal(arr[2], &e); err != nil {
			return nil, err
		}
		m.Event = &e
	case VerbOK:
		if len(arr) != 4 {
			return nil, fmt.Errorf("nostr: malformed OK message")
		}
		if err := json.Unmarshal(arr[1], &m.OKEventID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(arr[2], &m.OKStatus); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(arr[3], &m.OKMessage); err != nil {
			return nil, err
		}
	case VerbEOSE:
		if len(arr) != 2 {
			return nil, fmt.Errorf("nostr: malformed EOSE message")
		}
		if err := json.Unmarshal(arr[1], &m.SubID); err != nil {
			return nil, err
		}
	case VerbClosed:
		if len(arr) != 3 {
			return nil, fmt.Errorf("nostr: malformed CLOSED message")
		}
		if err := json.Unmarshal(arr[1], &m.SubID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(arr[2], &m.ClosedReason); err != nil {
			return nil, err
		}
	case VerbNotice:
		if len(arr) != 2 {
			return nil, fmt.Errorf("nostr: malformed NOTICE message")
		}
		if err := json.Unmarshal(arr[1], &m.NoticeText); err != nil {
			return nil, err
		}
	case VerbAuth:
		if len(arr) != 2 {
			return nil, fmt.Errorf("nostr: malformed AUTH message")
		}
		if err := json.Unmarshal(arr[1], &m.AuthChallenge); err != nil {
			return nil, err
		}
	case VerbCount:
		if len(arr) != 3 {
			return nil, fmt.Errorf("nostr: malformed COUNT message")
		}
		if err := json.Unmarshal(arr[1], &m.SubID); err != nil {
			return nil, err
		}
		var payload struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(arr[2], &payload); err != nil {
			return nil, err
		}
		m.CountValue = &payload.Count
	case VerbNegMsg:
		if len(arr) != 3 {
			return nil, fmt.Errorf("nostr: malformed NEG-MSG message")
		}
		if err := json.Unmarshal(arr[1], &m.SubID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(arr[2], &m.NegMsgHex); err != nil {
			return nil, err
		}
	case VerbNegErr:
		if len(arr) != 3 {
			return nil, fmt.Errorf("nostr: malformed NEG-ERR message")
		}
		if err := json.Unmarshal(arr[1], &m.SubID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(arr[2], &m.NegErrReason); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("nostr: unknown verb %q", verb)
	}
	return m, nil
}
