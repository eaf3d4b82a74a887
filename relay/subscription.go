package relay

import (
	"context"
	"time"

	"github.com/asmogo/gonostrpool/nostr"
)

// ExitMode selects how a Subscription decides it has seen enough after
// end-of-stored-events (spec §4.3 "subscription exit policies").
type ExitMode int

const (
	// ModeOnEose closes the subscription as soon as EOSE arrives.
	ModeOnEose ExitMode = iota
	// ModeWaitForEvents keeps it open until N more events arrive past EOSE.
	ModeWaitForEvents
	// ModeWaitDuration keeps it open for a fixed duration past EOSE.
	ModeWaitDuration
	// ModeReceiveAll never auto-closes; the caller must Unsub.
	ModeReceiveAll
)

// ExitPolicy configures when a subscription stops listening once it has
// reached end-of-stored-events.
type ExitPolicy struct {
	Mode ExitMode
	N    int
	D    time.Duration
}

// ExitOnEose closes the subscription as soon as the relay signals EOSE.
func ExitOnEose() ExitPolicy { return ExitPolicy{Mode: ModeOnEose} }

// WaitForEventsAfterEose keeps the subscription open until n further
// events have been delivered after EOSE.
func WaitForEventsAfterEose(n int) ExitPolicy {
	return ExitPolicy{Mode: ModeWaitForEvents, N: n}
}

// WaitDurationAfterEose keeps the subscription open for d after EOSE.
func WaitDurationAfterEose(d time.Duration) ExitPolicy {
	return ExitPolicy{Mode: ModeWaitDuration, D: d}
}

// ReceiveAll disables automatic closing; the caller owns the lifecycle.
func ReceiveAll() ExitPolicy { return ExitPolicy{Mode: ModeReceiveAll} }

// Subscription is a live REQ against one relay.
type Subscription struct {
	ID      string
	Filters []nostr.Filter

	Events chan nostr.Event
	EOSE   chan struct{}
	Closed chan string

	relay       *Relay
	policy      ExitPolicy
	authRetried bool

	eoseAt      time.Time
	seenAfter   int
	closeOnce   closeOnceGuard
}

// closeOnceGuard makes Subscription's terminal channel closes idempotent
// without pulling in sync.Once's heavier zero-value semantics here.
type closeOnceGuard struct{ done bool }

func (g *closeOnceGuard) do(fn func()) {
	if g.done {
		return
	}
	g.done = true
	fn()
}

// Subscribe opens a REQ against r with the given filters and policy,
// returning once the frame has been enqueued (not once any data has
// arrived).
func (r *Relay) Subscribe(ctx context.Context, id string, filters []nostr.Filter, policy ExitPolicy) (*Subscription, error) {
	if r.status.load() == StatusSleeping {
		r.wakeNow()
		if err := r.WaitConnected(ctx); err != nil {
			return nil, err
		}
	}
	if r.status.load() != StatusConnected {
		return nil, ErrNotConnected
	}
	sub := &Subscription{
		ID:      id,
		Filters: filters,
		Events:  make(chan nostr.Event, 64),
		EOSE:    make(chan struct{}),
		Closed:  make(chan string, 1),
		relay:   r,
		policy:  policy,
	}
	r.subs.Store(id, sub)

	frame, err := nostr.ClientReq(id, filters)
	if err != nil {
		r.subs.Delete(id)
		return nil, err
	}
	if err := r.enqueue(frame); err != nil {
		r.subs.Delete(id)
		return nil, err
	}
	return sub, nil
}

// Unsub sends CLOSE and tears down local subscription state.
func (s *Subscription) Unsub() {
	if s.relay != nil {
		if frame, err := nostr.ClientClose(s.ID); err == nil {
			_ = s.relay.enqueue(frame)
		}
		s.relay.subs.Delete(s.ID)
	}
	s.closeOnce.do(func() {
		close(s.Events)
	})
}

func (s *Subscription) deliver(e nostr.Event) {
	select {
	case s.Events <- e:
	default:
		// slow consumer: drop rather than block the read pump.
	}
	if !s.eoseAt.IsZero() {
		s.seenAfter++
		if s.policy.Mode == ModeWaitForEvents && s.seenAfter >= s.policy.N {
			s.Unsub()
		}
	}
}

func (s *Subscription) eose() {
	s.eoseAt = time.Now()
	select {
	case s.EOSE <- struct{}{}:
	default:
	}
	switch s.policy.Mode {
	case ModeOnEose:
		s.Unsub()
	case ModeWaitDuration:
		go func() {
			time.Sleep(s.policy.D)
			s.Unsub()
		}()
	}
}

func (s *Subscription) closed(reason string) {
	select {
	case s.Closed <- reason:
	default:
	}
	s.closeOnce.do(func() {
		close(s.Events)
	})
}
