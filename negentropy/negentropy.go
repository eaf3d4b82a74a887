// Package negentropy is a from-scratch Go port of the NIP-77 range-based
// set-reconciliation protocol: a sorted storage vector of (timestamp, id)
// items, a bound/mode wire codec, and the bucket-splitting reconciliation
// algorithm that drives the negentropy loop in the sync package.
//
// No pack repo carries a Go negentropy implementation, so this is built
// directly against the protocol description (spec.md §4.4/§6.2) and the
// message shapes of the original Rust sdk's `negentropy` crate usage.
package negentropy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
)

// IDSize is the length, in bytes, of an event id in the storage vector.
const IDSize = 32

// FingerprintSize is the truncated SHA-256 digest length used for range
// fingerprints.
const FingerprintSize = 16

// idListThreshold bounds how many items a leaf range may hold before it
// is sent as an IdList instead of being split further into Fingerprint
// buckets (mirrors hoytech/negentropy's default).
const idListThreshold = 1

// numBuckets is how many sub-ranges a Fingerprint range is split into
// when it must be refined further.
const numBuckets = 16

var infiniteTimestamp int64 = -1 // sentinel: sorts after every real timestamp

// ErrMalformed is returned when a peer's message cannot be decoded.
var ErrMalformed = errors.New("negentropy: malformed message")

// Item is one (timestamp, id) row of the storage vector.
type Item struct {
	Timestamp int64
	ID        [IDSize]byte
}

// IDFromHex decodes a lowercase-hex Nostr event id into the fixed-size
// array form the storage vector and wire codec operate on.
func IDFromHex(s string) ([IDSize]byte, error) {
	var out [IDSize]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != IDSize {
		return out, ErrMalformed
	}
	copy(out[:], b)
	return out, nil
}

// IDToHex encodes id back to the lowercase-hex form used on the wire.
func IDToHex(id [IDSize]byte) string { return hex.EncodeToString(id[:]) }

func less(a, b Item) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// Vector is a sealed, sorted storage vector: the local view of
// (timestamp, id) pairs a reconciliation round is run against.
type Vector struct {
	items []Item
}

// NewVector builds and sorts a storage vector from items. The caller is
// expected to pass the output of a store's negentropy_items(filter) call
// (spec §4.5).
func NewVector(items []Item) *Vector {
	sorted := make([]Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return &Vector{items: sorted}
}

func (v *Vector) size() int { return len(v.items) }

// sliceBetween returns the half-open range [lower, upper) of the vector,
// where bounds are compared as (timestamp, id) per less().
func (v *Vector) sliceBetween(lower, upper Bound) []Item {
	lo := sort.Search(len(v.items), func(i int) bool {
		return !itemBeforeBound(v.items[i], lower)
	})
	hi := sort.Search(len(v.items), func(i int) bool {
		return !itemBeforeBound(v.items[i], upper)
	})
	if hi < lo {
		hi = lo
	}
	return v.items[lo:hi]
}

func itemBeforeBound(it Item, b Bound) bool {
	if b.infinite() {
		return true
	}
	if it.Timestamp != b.Timestamp {
		return it.Timestamp < b.Timestamp
	}
	return bytes.Compare(it.ID[:len(b.IDPrefix)], b.IDPrefix) < 0
}

// Bound is the upper bound of a reconciliation range: a timestamp plus
// an id prefix (possibly empty, meaning "any id at this timestamp").
// An infinite bound (Timestamp < 0) sorts after every item.
type Bound struct {
	Timestamp int64
	IDPrefix  []byte
}

func infiniteBound() Bound { return Bound{Timestamp: infiniteTimestamp} }

func (b Bound) infinite() bool { return b.Timestamp < 0 }

// Mode tags the payload that follows a Bound in a wire message.
type Mode byte

const (
	ModeSkip        Mode = 0
	ModeFingerprint Mode = 1
	ModeIDList      Mode = 2
)

// fingerprint returns the truncated SHA-256 digest of the concatenated
// ids of items, in the order given (callers pass them pre-sorted).
func fingerprint(items []Item) [FingerprintSize]byte {
	h := sha256.New()
	for _, it := range items {
		h.Write(it.ID[:])
	}
	var out [FingerprintSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

func encodeVarInt(buf *bytes.Buffer, n int64) {
	if n == 0 {
		buf.WriteByte(0)
		return
	}
	var groups []byte
	for n > 0 {
		groups = append(groups, byte(n&0x7f))
		n >>= 7
	}
	for i := len(groups) - 1; i >= 0; i-- {
		b := groups[i]
		if i != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

func decodeVarInt(r *bytes.Reader) (int64, error) {
	var n int64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, ErrMalformed
		}
		n = (n << 7) | int64(b&0x7f)
		if b&0x80 == 0 {
			return n, nil
		}
	}
}

func encodeBound(buf *bytes.Buffer, b Bound) {
	if b.infinite() {
		encodeVarInt(buf, 0)
		encodeVarInt(buf, 0)
		return
	}
	encodeVarInt(buf, b.Timestamp+1)
	encodeVarInt(buf, int64(len(b.IDPrefix)))
	buf.Write(b.IDPrefix)
}

func decodeBound(r *bytes.Reader) (Bound, error) {
	ts, err := decodeVarInt(r)
	if err != nil {
		return Bound{}, err
	}
	n, err := decodeVarInt(r)
	if err != nil {
		return Bound{}, err
	}
	if ts == 0 {
		// discard the (always zero-length) id prefix of an infinite bound.
		if n != 0 {
			if _, err := r.Seek(n, 1); err != nil {
				return Bound{}, ErrMalformed
			}
		}
		return infiniteBound(), nil
	}
	prefix := make([]byte, n)
	if n != 0 {
		if _, err := r.Read(prefix); err != nil {
			return Bound{}, ErrMalformed
		}
	}
	return Bound{Timestamp: ts - 1, IDPrefix: prefix}, nil
}

// rangePayload is one decoded (bound, mode, payload) triple from a peer
// message, paired with the implicit lower bound carried over from the
// previous triple.
type rangePayload struct {
	lower, upper Bound
	mode         Mode
	fp           [FingerprintSize]byte
	ids          [][IDSize]byte
}

func decodeMessage(msg []byte) ([]rangePayload, error) {
	r := bytes.NewReader(msg)
	lower := Bound{Timestamp: 0}
	var out []rangePayload
	for r.Len() > 0 {
		upper, err := decodeBound(r)
		if err != nil {
			return nil, err
		}
		modeByte, err := decodeVarInt(r)
		if err != nil {
			return nil, err
		}
		rp := rangePayload{lower: lower, upper: upper, mode: Mode(modeByte)}
		switch rp.mode {
		case ModeSkip:
		case ModeFingerprint:
			if _, err := r.Read(rp.fp[:]); err != nil {
				return nil, ErrMalformed
			}
		case ModeIDList:
			n, err := decodeVarInt(r)
			if err != nil {
				return nil, err
			}
			rp.ids = make([][IDSize]byte, n)
			for i := range rp.ids {
				if _, err := r.Read(rp.ids[i][:]); err != nil {
					return nil, ErrMalformed
				}
			}
		default:
			return nil, ErrMalformed
		}
		out = append(out, rp)
		lower = upper
	}
	return out, nil
}

func encodeRange(buf *bytes.Buffer, upper Bound, mode Mode, fp [FingerprintSize]byte, ids []Item) {
	encodeBound(buf, upper)
	encodeVarInt(buf, int64(mode))
	switch mode {
	case ModeFingerprint:
		buf.Write(fp[:])
	case ModeIDList:
		encodeVarInt(buf, int64(len(ids)))
		for _, it := range ids {
			buf.Write(it.ID[:])
		}
	}
}

// Initiate builds the initial message for v covering the whole id space
// as Fingerprint ranges split the same way emitRange splits any range
// (spec §4.4 "Setup"), or an IdList range when the vector is already
// small enough.
func Initiate(v *Vector) []byte {
	var buf bytes.Buffer
	emitRange(&buf, v, Bound{Timestamp: 0}, infiniteBound())
	return buf.Bytes()
}

// emitRange writes one or more (bound,mode,payload) triples covering
// [lower, upper) of v, splitting into numBuckets Fingerprint ranges when
// the leaf holds more than idListThreshold items.
func emitRange(buf *bytes.Buffer, v *Vector, lower, upper Bound) {
	items := v.sliceBetween(lower, upper)
	if len(items) <= idListThreshold {
		encodeRange(buf, upper, ModeIDList, [FingerprintSize]byte{}, items)
		return
	}

	n := numBuckets
	if n > len(items) {
		n = len(items)
	}
	per := (len(items) + n - 1) / n
	start := 0
	for start < len(items) {
		end := start + per
		if end > len(items) {
			end = len(items)
		}
		bucket := items[start:end]
		var bucketUpper Bound
		if end == len(items) {
			bucketUpper = upper
		} else {
			next := items[end]
			bucketUpper = Bound{Timestamp: next.Timestamp, IDPrefix: next.ID[:1]}
		}
		fp := fingerprint(bucket)
		encodeRange(buf, bucketUpper, ModeFingerprint, fp, nil)
		start = end
	}
}

// Result is what one Reconcile step produces: the newly-seen have/need
// ids from this round, and an optional response message to send back
// (absent means reconciliation is complete from this side).
type Result struct {
	Have    [][IDSize]byte
	Need    [][IDSize]byte
	Message []byte
	Done    bool
}

// Reconcile processes one inbound peer message against v and returns the
// newly-discovered have/need ids plus the next message to send, if any
// (spec §4.4 "NEG-MSG sub_id, msg" handling). The engine is stateless
// across calls beyond v itself: it always re-derives the full response
// for whatever ranges the peer's message describes.
func Reconcile(v *Vector, peerMsg []byte) (Result, error) {
	ranges, err := decodeMessage(peerMsg)
	if err != nil {
		return Result{}, err
	}

	var res Result
	var buf bytes.Buffer
	anySent := false

	for _, rp := range ranges {
		mine := v.sliceBetween(rp.lower, rp.upper)
		switch rp.mode {
		case ModeSkip:
			// peer has nothing new to say about this range; mirror it.
			encodeRange(&buf, rp.upper, ModeSkip, [FingerprintSize]byte{}, nil)

		case ModeFingerprint:
			if fingerprint(mine) == rp.fp {
				encodeRange(&buf, rp.upper, ModeSkip, [FingerprintSize]byte{}, nil)
				continue
			}
			if len(mine) <= idListThreshold*numBuckets {
				encodeRange(&buf, rp.upper, ModeIDList, [FingerprintSize]byte{}, mine)
			} else {
				emitRange(&buf, v, rp.lower, rp.upper)
			}
			anySent = true

		case ModeIDList:
			peerIDs := make(map[[IDSize]byte]struct{}, len(rp.ids))
			for _, id := range rp.ids {
				peerIDs[id] = struct{}{}
			}
			mineIDs := make(map[[IDSize]byte]struct{}, len(mine))
			for _, it := range mine {
				mineIDs[it.ID] = struct{}{}
				if _, ok := peerIDs[it.ID]; !ok {
					res.Have = append(res.Have, it.ID)
				}
			}
			for _, id := range rp.ids {
				if _, ok := mineIDs[id]; !ok {
					res.Need = append(res.Need, id)
				}
			}
			encodeRange(&buf, rp.upper, ModeSkip, [FingerprintSize]byte{}, nil)
		}
	}

	if !anySent || buf.Len() == 0 {
		res.Done = true
		return res, nil
	}
	res.Message = buf.Bytes()
	return res, nil
}
