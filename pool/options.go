package pool

import (
	"math"
	"sync"
	"time"

	"github.com/asmogo/gonostrpool/relay"
)

// Option configures a Pool at construction time, the same
// apply-yourself pattern relay.Option and the teacher's PoolOption use.
type Option interface {
	IsPoolOption()
	Apply(*Pool)
}

type withMaxRelays int

func (withMaxRelays) IsPoolOption()   {}
func (w withMaxRelays) Apply(p *Pool) { p.maxRelays = int(w) }

// WithMaxRelays caps how many distinct relay URLs add_relay will admit
// (spec §4.2 "Enforces max_relays cap if configured").
func WithMaxRelays(n int) Option { return withMaxRelays(n) }

type withRelayOptions []relay.Option

func (withRelayOptions) IsPoolOption()   {}
func (w withRelayOptions) Apply(p *Pool) { p.relayOptions = w }

// WithRelayOptions sets options applied to every relay.Relay the pool
// constructs.
func WithRelayOptions(opts ...relay.Option) Option { return withRelayOptions(opts) }

type withNotifier func(Notification)

func (withNotifier) IsPoolOption()   {}
func (w withNotifier) Apply(p *Pool) { p.notifier = w }

// WithNotifier installs a callback for pool lifecycle notifications.
func WithNotifier(fn func(Notification)) Option { return withNotifier(fn) }

type withPenaltyBoxOpt struct{}

func (withPenaltyBoxOpt) IsPoolOption() {}
func (withPenaltyBoxOpt) Apply(p *Pool) {
	p.penaltyBox = newPenaltyBox()
}

// WithPenaltyBox enables the penalty box: a relay that fails to
// connect is excluded from further add_relay attempts for a backing-off
// window, so a down relay isn't redialed on every call. Grounded on
// _examples/other_examples/18875f6c_kwsantiago-orly's Pool.penaltyBox.
func WithPenaltyBox() Option { return withPenaltyBoxOpt{} }

// penaltyBox tracks, per relay URL, a strike count and remaining
// wait time before the relay may be retried.
type penaltyBox struct {
	mu      sync.Mutex
	strikes map[string]float64
	until   map[string]time.Time
}

func newPenaltyBox() *penaltyBox {
	return &penaltyBox{
		strikes: make(map[string]float64),
		until:   make(map[string]time.Time),
	}
}

func (b *penaltyBox) boxed(url string) (remaining time.Duration, yes bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.until[url]
	if !ok {
		return 0, false
	}
	remaining = time.Until(until)
	if remaining <= 0 {
		delete(b.until, url)
		return 0, false
	}
	return remaining, true
}

func (b *penaltyBox) strike(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strikes[url]++
	wait := 30.0 + math.Pow(2, b.strikes[url])
	b.until[url] = time.Now().Add(time.Duration(wait) * time.Second)
}
