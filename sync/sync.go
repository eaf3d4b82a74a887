// Package sync drives the negentropy reconciliation loop (spec §4.4)
// against one relay: it pairs a local store's storage vector with the
// negentropy wire protocol engine, handling the NEG-OPEN/NEG-MSG/
// NEG-CLOSE/NEG-ERR exchange plus the watermarked upload/download queues
// that follow.
//
// Grounded on original_source/sdk/src/relay/api/sync.rs's sync()
// function: the same have_ids/need_ids queue shape, in_flight_up/
// in_flight_down bookkeeping, and SyncSummary{local,remote,sent,
// received,send_failures} output, re-expressed against this module's
// own relay.Relay and negentropy packages instead of the `negentropy`
// Rust crate.
package sync

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/asmogo/gonostrpool/negentropy"
	"github.com/asmogo/gonostrpool/nostr"
	"github.com/asmogo/gonostrpool/relay"
	"github.com/asmogo/gonostrpool/store"
	"github.com/google/uuid"
)

// ErrUnsupported is returned when the capability probe fails: the relay
// answers NEG-OPEN with NEG-ERR (whatever its reason), the reply channel
// closes, or no reply arrives within the initial timeout (spec §4.4
// "capability probe").
var ErrUnsupported = errors.New("sync: negentropy unsupported")

// ErrIdle is returned when no relevant message arrives within the idle
// timeout.
var ErrIdle = errors.New("sync: idle timeout")

// Summary is the outcome of one Reconcile call (spec §4.4 "Output").
type Summary struct {
	Local        map[string]struct{}
	Remote       map[string]struct{}
	Sent         map[string]struct{}
	Received     map[string]struct{}
	SendFailures map[string]string
}

func newSummary() Summary {
	return Summary{
		Local:        map[string]struct{}{},
		Remote:       map[string]struct{}{},
		Sent:         map[string]struct{}{},
		Received:     map[string]struct{}{},
		SendFailures: map[string]string{},
	}
}

type uploadResult struct {
	id  string
	err error
}

// Reconcile runs the negentropy loop against r for filter, using st for
// both the initial storage vector and to persist/emit anything newly
// received during download (spec §4.4).
func Reconcile(ctx context.Context, r *relay.Relay, st store.Store, filter nostr.Filter, opts Options) (Summary, error) {
	summary := newSummary()

	items, err := st.NegentropyItems(ctx, filter)
	if err != nil {
		return summary, fmt.Errorf("sync: negentropy items: %w", err)
	}
	vector := negentropy.NewVector(items)

	negCtx, cancelNeg := context.WithCancel(ctx)
	defer cancelNeg()

	subID := uuid.New().String()
	initMsg := negentropy.Initiate(vector)
	negCh, err := r.NegOpen(negCtx, subID, filter, hex.EncodeToString(initMsg))
	if err != nil {
		return summary, fmt.Errorf("sync: neg-open: %w", err)
	}

	probeTimer := time.NewTimer(opts.initialTimeout)
	var first negentropy.Result
	select {
	case msg, ok := <-negCh:
		probeTimer.Stop()
		if !ok || msg.Err {
			return summary, ErrUnsupported
		}
		raw, err := hex.DecodeString(msg.MsgHex)
		if err != nil {
			return summary, fmt.Errorf("sync: malformed neg-msg: %w", err)
		}
		first, err = negentropy.Reconcile(vector, raw)
		if err != nil {
			return summary, fmt.Errorf("sync: reconcile: %w", err)
		}
	case <-probeTimer.C:
		return summary, ErrUnsupported
	case <-ctx.Done():
		probeTimer.Stop()
		return summary, ctx.Err()
	}

	loop := &loopState{
		r: r, st: st, filter: filter, opts: opts,
		subID: subID, summary: summary,
		negCh:        negCh,
		inFlightUp:   map[string]struct{}{},
		uploadDone:   make(chan uploadResult, HighWaterUp),
		downloadMsgs: make(chan nostr.Event, BatchDown),
		downloadDone: make(chan struct{}, 1),
		lastActivity: time.Now(),
	}
	loop.ingest(first)
	return loop.run(ctx)
}

// loopState holds everything the negentropy event loop needs across
// iterations (spec §4.4 "Loop variables").
type loopState struct {
	r      *relay.Relay
	st     store.Store
	filter nostr.Filter
	opts   Options
	subID  string

	summary Summary

	haveIDs [][negentropy.IDSize]byte
	needIDs [][negentropy.IDSize]byte

	inFlightUp   map[string]struct{}
	inFlightDown bool
	downSub      *relay.Subscription
	syncDone     bool

	negCh        <-chan relay.NegMessage
	uploadDone   chan uploadResult
	downloadMsgs chan nostr.Event
	downloadDone chan struct{}

	lastActivity time.Time
}

func (l *loopState) ingest(res negentropy.Result) {
	for _, id := range res.Have {
		hexID := negentropy.IDToHex(id)
		if _, seen := l.summary.Local[hexID]; !seen {
			l.summary.Local[hexID] = struct{}{}
			if l.opts.doUp() {
				l.haveIDs = append(l.haveIDs, id)
			}
		}
	}
	for _, id := range res.Need {
		hexID := negentropy.IDToHex(id)
		if _, seen := l.summary.Remote[hexID]; !seen {
			l.summary.Remote[hexID] = struct{}{}
			if l.opts.doDown() {
				l.needIDs = append(l.needIDs, id)
			}
		}
	}
	if res.Message != nil {
		_ = l.r.NegMsg(l.subID, hex.EncodeToString(res.Message))
	} else {
		_ = l.r.NegClose(l.subID)
		l.syncDone = true
	}
}

func (l *loopState) done() bool {
	return l.syncDone && len(l.haveIDs) == 0 && len(l.needIDs) == 0 &&
		len(l.inFlightUp) == 0 && !l.inFlightDown
}

func (l *loopState) run(ctx context.Context) (Summary, error) {
	defer func() {
		if l.downSub != nil {
			l.downSub.Unsub()
		}
		if !l.syncDone {
			_ = l.r.NegClose(l.subID)
		}
	}()

	for !l.done() {
		l.pump(ctx)

		idleFor := time.Since(l.lastActivity)
		if idleFor > l.opts.idleTimeout {
			return l.summary, ErrIdle
		}
		if l.r.Status() != relay.StatusConnected {
			return l.summary, relay.ErrNotConnected
		}

		timeout := time.NewTimer(l.opts.idleTimeout - idleFor)
		select {
		case msg, ok := <-l.negCh:
			timeout.Stop()
			if !ok || msg.Err {
				return l.summary, fmt.Errorf("sync: neg-err: %s", msg.Reason)
			}
			l.lastActivity = time.Now()
			raw, err := hex.DecodeString(msg.MsgHex)
			if err != nil {
				return l.summary, fmt.Errorf("sync: malformed neg-msg: %w", err)
			}
			res, err := negentropy.Reconcile(l.vector(ctx), raw)
			if err != nil {
				return l.summary, fmt.Errorf("sync: reconcile: %w", err)
			}
			l.ingest(res)

		case ur := <-l.uploadDone:
			timeout.Stop()
			l.lastActivity = time.Now()
			delete(l.inFlightUp, ur.id)
			if ur.err != nil {
				l.summary.SendFailures[ur.id] = ur.err.Error()
			} else {
				l.summary.Sent[ur.id] = struct{}{}
			}

		case e := <-l.downloadMsgs:
			timeout.Stop()
			l.lastActivity = time.Now()
			l.summary.Received[e.ID] = struct{}{}
			_, _ = l.st.Save(ctx, e)

		case <-l.downloadDone:
			timeout.Stop()
			l.lastActivity = time.Now()
			l.inFlightDown = false

		case <-timeout.C:
			return l.summary, ErrIdle

		case <-ctx.Done():
			timeout.Stop()
			return l.summary, ctx.Err()
		}
	}
	return l.summary, nil
}

// vector re-derives the storage vector used to answer the peer's
// ranges; negentropy.Reconcile only ever needs the slice covering
// whatever bounds the peer's message names, so recomputing it fresh
// each round keeps the loop state free of a long-lived mutable vector.
func (l *loopState) vector(ctx context.Context) *negentropy.Vector {
	items, err := l.st.NegentropyItems(ctx, l.filter)
	if err != nil {
		return negentropy.NewVector(nil)
	}
	return negentropy.NewVector(items)
}

// pump services back-pressure: once uploads in flight drop to the
// low-water mark it starts new ones until the high-water mark is reached,
// and opens a fresh download REQ when none is in
// flight (spec §4.4 "Back-pressure").
func (l *loopState) pump(ctx context.Context) {
	if len(l.inFlightUp) <= LowWaterUp {
		for len(l.haveIDs) > 0 && len(l.inFlightUp) < HighWaterUp {
			id := l.haveIDs[0]
			l.haveIDs = l.haveIDs[1:]
			hexID := negentropy.IDToHex(id)
			l.inFlightUp[hexID] = struct{}{}
			go l.upload(ctx, hexID)
		}
	}

	if !l.inFlightDown && len(l.needIDs) > 0 {
		n := BatchDown
		if n > len(l.needIDs) {
			n = len(l.needIDs)
		}
		batch := l.needIDs[:n]
		l.needIDs = l.needIDs[n:]
		l.startDownload(ctx, batch)
	}
}

func (l *loopState) upload(ctx context.Context, hexID string) {
	e, err := l.st.EventByID(ctx, hexID)
	if err != nil || e == nil {
		l.uploadDone <- uploadResult{id: hexID, err: fmt.Errorf("sync: event %s not found locally", hexID)}
		return
	}
	err = l.r.Publish(ctx, *e)
	l.uploadDone <- uploadResult{id: hexID, err: err}
}

func (l *loopState) startDownload(ctx context.Context, batch [][negentropy.IDSize]byte) {
	ids := make([]string, len(batch))
	for i, id := range batch {
		ids[i] = negentropy.IDToHex(id)
	}
	downSubID := uuid.New().String()
	l.inFlightDown = true

	sub, err := l.r.Subscribe(ctx, downSubID, []nostr.Filter{{IDs: ids}}, relay.ExitOnEose())
	if err != nil {
		l.downloadDone <- struct{}{}
		return
	}
	l.downSub = sub
	go func() {
		for e := range sub.Events {
			select {
			case l.downloadMsgs <- e:
			case <-ctx.Done():
				return
			}
		}
		select {
		case l.downloadDone <- struct{}{}:
		default:
		}
	}()
}
