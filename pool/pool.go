// Package pool fans relay operations out across many relay.Relay
// connections: it owns the url→relay map, partitions results into
// Output[T], de-duplicates streamed events, and tracks subscriptions
// so they can be torn down by id.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/asmogo/gonostrpool/relay"
	"github.com/puzpuzpuz/xsync/v3"
)

type relayEntry struct {
	r    *relay.Relay
	mu   sync.Mutex
	bits Capability
}

func (e *relayEntry) unionCaps(c Capability) {
	e.mu.Lock()
	e.bits = e.bits.Union(c)
	e.mu.Unlock()
}

func (e *relayEntry) capabilities() Capability {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bits
}

// Pool manages connections to many relays and fans operations out
// across them (spec §4.2).
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	relays *xsync.MapOf[string, *relayEntry]

	maxRelays    int
	relayOptions []relay.Option
	penaltyBox   *penaltyBox

	subsMu sync.Mutex
	subs   map[string]*poolSubscription

	notifier     func(Notification)
	shutdownOnce sync.Once
}

// poolSubscription tracks the per-relay relay.Subscription objects
// opened under one shared subscription id, so unsubscribe can CLOSE
// all of them (spec §4.2 "unsubscribe / unsubscribe_all").
type poolSubscription struct {
	id   string
	subs map[string]*relay.Subscription
}

// New constructs an empty Pool bound to ctx; cancelling ctx is
// equivalent to calling Shutdown.
func New(ctx context.Context, opts ...Option) *Pool {
	cctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:    cctx,
		cancel: cancel,
		relays: xsync.NewMapOf[string, *relayEntry](),
		subs:   make(map[string]*poolSubscription),
	}
	for _, opt := range opts {
		opt.Apply(p)
	}
	go func() {
		<-cctx.Done()
		p.Shutdown()
	}()
	return p
}

// AddRelay inserts url if absent with caps, or OR-merges caps into the
// existing entry's capability bitset and reports alreadyPresent=true
// (spec §4.2). If connect is true and the relay is new, it begins
// connecting immediately.
func (p *Pool) AddRelay(url string, caps Capability, connect bool) (alreadyPresent bool, err error) {
	normalized, err := nostr.NormalizeURL(url)
	if err != nil {
		return false, err
	}
	if existing, ok := p.relays.Load(normalized); ok {
		existing.unionCaps(caps)
		return true, nil
	}
	if p.maxRelays > 0 {
		count := 0
		p.relays.Range(func(string, *relayEntry) bool { count++; return count < p.maxRelays+1 })
		if count >= p.maxRelays {
			return false, fmt.Errorf("pool: max_relays (%d) reached", p.maxRelays)
		}
	}
	if p.penaltyBox != nil {
		if wait, boxed := p.penaltyBox.boxed(normalized); boxed {
			return false, fmt.Errorf("pool: %s in penalty box, %s remaining", normalized, wait)
		}
	}

	opts := p.relayOptions
	if p.penaltyBox != nil || p.notifier != nil {
		opts = append(append([]relay.Option{}, opts...), relay.WithOnStatusChange(func(s relay.Status) {
			if p.penaltyBox != nil {
				switch s {
				case relay.StatusDisconnected, relay.StatusSleeping:
					p.penaltyBox.strike(normalized)
				}
			}
			p.notify(Notification{Relay: normalized, Kind: s.String()})
		}))
	}
	r, err := relay.New(p.ctx, normalized, opts...)
	if err != nil {
		return false, err
	}
	entry := &relayEntry{r: r, bits: caps}
	actual, loaded := p.relays.LoadOrStore(normalized, entry)
	if loaded {
		actual.unionCaps(caps)
		return true, nil
	}
	if connect {
		actual.r.Connect()
		p.notify(Notification{Relay: normalized, Kind: "connecting"})
	}
	return false, nil
}

// RemoveRelay drops url from the pool. If the relay carries the GOSSIP
// capability and force is false, only the routing bits are cleared and
// the connection is kept; otherwise the relay is shut down and removed
// (spec §4.2).
func (p *Pool) RemoveRelay(url string, force bool) error {
	normalized, err := nostr.NormalizeURL(url)
	if err != nil {
		return err
	}
	entry, ok := p.relays.Load(normalized)
	if !ok {
		return nil
	}
	if !force && entry.capabilities().Has(CapGossip) {
		entry.mu.Lock()
		entry.bits = entry.bits.WithoutRouting()
		entry.mu.Unlock()
		return nil
	}
	entry.r.Shutdown()
	p.relays.Delete(normalized)
	p.notify(Notification{Relay: normalized, Kind: "removed"})
	return nil
}

// Connect begins connecting every relay currently in the pool.
func (p *Pool) Connect() {
	p.relays.Range(func(_ string, e *relayEntry) bool {
		e.r.Connect()
		return true
	})
}

// Disconnect closes every relay's physical connection; the relays
// still reconnect with backoff unless Shutdown has been called.
func (p *Pool) Disconnect() {
	p.relays.Range(func(_ string, e *relayEntry) bool {
		e.r.Disconnect()
		return true
	})
}

// Shutdown stops every relay's supervisor permanently. Idempotent and
// safe to call more than once, including from a deferred cleanup and a
// context-cancellation path racing each other (spec §4.2/§5).
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.relays.Range(func(_ string, e *relayEntry) bool {
			e.r.Shutdown()
			return true
		})
		p.cancel()
	})
}

// SendEvent publishes e to every relay in urls concurrently and
// returns the partitioned outcome (spec §4.2).
func (p *Pool) SendEvent(ctx context.Context, urls []string, e nostr.Event, okTimeout time.Duration) *Output[string] {
	out := newOutput(e.ID)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, url := range urls {
		normalized, err := nostr.NormalizeURL(url)
		if err != nil {
			mu.Lock()
			out.fail(url, err)
			mu.Unlock()
			continue
		}
		entry, ok := p.relays.Load(normalized)
		if !ok {
			mu.Lock()
			out.fail(normalized, relay.ErrNotConnected)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(url string, r *relay.Relay) {
			defer wg.Done()
			pubCtx := ctx
			if okTimeout > 0 {
				var cancel context.CancelFunc
				pubCtx, cancel = context.WithTimeout(ctx, okTimeout)
				defer cancel()
			}
			err := r.Publish(pubCtx, e)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.fail(url, err)
				return
			}
			out.ok(url)
		}(normalized, entry.r)
	}
	wg.Wait()
	return out
}

// Subscribe opens a REQ against every relay named in perRelayFilters,
// sharing subscription id, and records it for later Unsubscribe (spec
// §4.2).
func (p *Pool) Subscribe(ctx context.Context, id string, perRelayFilters map[string][]nostr.Filter, policy relay.ExitPolicy) (*Output[string], error) {
	out := newOutput(id)
	ps := &poolSubscription{id: id, subs: make(map[string]*relay.Subscription)}

	for url, filters := range perRelayFilters {
		normalized, err := nostr.NormalizeURL(url)
		if err != nil {
			out.fail(url, err)
			continue
		}
		entry, ok := p.relays.Load(normalized)
		if !ok {
			out.fail(normalized, relay.ErrNotConnected)
			continue
		}
		sub, err := entry.r.Subscribe(ctx, id, filters, policy)
		if err != nil {
			out.fail(normalized, err)
			continue
		}
		ps.subs[normalized] = sub
		out.ok(normalized)
	}

	p.subsMu.Lock()
	p.subs[id] = ps
	p.subsMu.Unlock()
	return out, nil
}

// Unsubscribe sends CLOSE on every relay carrying subscription id,
// ignoring relays that don't (spec §4.2).
func (p *Pool) Unsubscribe(id string) {
	p.subsMu.Lock()
	ps, ok := p.subs[id]
	delete(p.subs, id)
	p.subsMu.Unlock()
	if !ok {
		return
	}
	for _, sub := range ps.subs {
		sub.Unsub()
	}
}

// UnsubscribeAll tears down every tracked subscription.
func (p *Pool) UnsubscribeAll() {
	p.subsMu.Lock()
	ids := make([]string, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	p.subsMu.Unlock()
	for _, id := range ids {
		p.Unsubscribe(id)
	}
}

// RelayEvent pairs an event with the URL of the relay it arrived from
// (spec §4.2 stream_events).
type RelayEvent struct {
	Relay string
	Event nostr.Event
}

// StreamEvents fans perRelayFilters out, multiplexing every relay's
// subscription into a single channel de-duplicated by event id
// (first-seen wins, spec §4.2). The returned channel closes once every
// relay subscription has ended.
func (p *Pool) StreamEvents(ctx context.Context, id string, perRelayFilters map[string][]nostr.Filter, policy relay.ExitPolicy) (<-chan RelayEvent, error) {
	out := make(chan RelayEvent, 256)
	seen := xsync.NewMapOf[string, struct{}]()

	_, err := p.Subscribe(ctx, id, perRelayFilters, policy)
	if err != nil {
		close(out)
		return out, err
	}

	p.subsMu.Lock()
	ps := p.subs[id]
	p.subsMu.Unlock()
	if ps == nil {
		close(out)
		return out, nil
	}

	var wg sync.WaitGroup
	for url, sub := range ps.subs {
		wg.Add(1)
		go func(url string, sub *relay.Subscription) {
			defer wg.Done()
			for ev := range sub.Events {
				if _, loaded := seen.LoadOrStore(ev.ID, struct{}{}); loaded {
					continue
				}
				select {
				case out <- RelayEvent{Relay: url, Event: ev}:
				case <-ctx.Done():
					return
				}
			}
		}(url, sub)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// Notification is a pool lifecycle event surfaced to an optional
// observer (a supplemented feature beyond the core spec, grounded on
// the penalty-box/middleware style of the orly pool).
type Notification struct {
	Relay string
	Kind  string // a relay.Status string ("connected", "sleeping", "banned", ...), or "connecting"/"removed" from AddRelay/RemoveRelay
}

func (p *Pool) notify(n Notification) {
	if p.notifier != nil {
		p.notifier(n)
	}
}
