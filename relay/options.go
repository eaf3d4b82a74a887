package relay

import (
	"time"

	"github.com/asmogo/gonostrpool/signer"
)

// Signer is the capability the engine needs for NIP-42 auth challenges;
// it is the same shape github.com/asmogo/gonostrpool/signer.Signer
// exports, aliased here so relay's public API doesn't force callers to
// import signer just to name the type.
type Signer = signer.Signer

const (
	defaultSendQueueSize   = 256
	defaultConnectTimeout  = 15 * time.Second
	defaultOKTimeout       = 30 * time.Second
	defaultPingInterval    = 25 * time.Second
	defaultMinBackoff      = time.Second
	defaultMaxBackoff      = time.Minute
	defaultIdleTimeout      = 10 * time.Minute
	defaultAuthTimeout      = 15 * time.Second
	defaultRateLimitBackoff = 2 * time.Second
)

// Option configures a Relay at construction time, following the same
// apply-yourself pattern the pool uses for PoolOption.
type Option interface {
	IsRelayOption()
	Apply(*Relay)
}

type withSendQueueSize int

func (withSendQueueSize) IsRelayOption()    {}
func (w withSendQueueSize) Apply(r *Relay)  { r.sendQueueSize = int(w) }

// WithSendQueueSize bounds the outbound MPSC channel (spec §4.1); enqueueing
// returns ErrChannelFull once it is at capacity rather than blocking.
func WithSendQueueSize(n int) Option { return withSendQueueSize(n) }

type withConnectTimeout time.Duration

func (withConnectTimeout) IsRelayOption()   {}
func (w withConnectTimeout) Apply(r *Relay) { r.connectTimeout = time.Duration(w) }

// WithConnectTimeout bounds how long a single dial attempt may take.
func WithConnectTimeout(d time.Duration) Option { return withConnectTimeout(d) }

type withOKTimeout time.Duration

func (withOKTimeout) IsRelayOption()   {}
func (w withOKTimeout) Apply(r *Relay) { r.okTimeout = time.Duration(w) }

// WithOKTimeout bounds how long Publish waits for a correlated OK before
// returning ErrOKTimeout.
func WithOKTimeout(d time.Duration) Option { return withOKTimeout(d) }

type withAuthTimeout time.Duration

func (withAuthTimeout) IsRelayOption()   {}
func (w withAuthTimeout) Apply(r *Relay) { r.authTimeout = time.Duration(w) }

// WithAuthTimeout bounds how long a NIP-42 auth round trip (triggered by
// an auth-required OK/CLOSED) may take before the retry it gates gives
// up with ErrAuthRequired.
func WithAuthTimeout(d time.Duration) Option { return withAuthTimeout(d) }

type withRateLimitBackoff time.Duration

func (withRateLimitBackoff) IsRelayOption()   {}
func (w withRateLimitBackoff) Apply(r *Relay) { r.rateLimitBackoff = time.Duration(w) }

// WithRateLimitBackoff sets how long Publish waits before its single
// retry of an event rejected with a rate-limited OK (spec §4.1 "OK
// correlation contract").
func WithRateLimitBackoff(d time.Duration) Option { return withRateLimitBackoff(d) }

type withPingInterval time.Duration

func (withPingInterval) IsRelayOption()   {}
func (w withPingInterval) Apply(r *Relay) { r.pingInterval = time.Duration(w) }

// WithPingInterval sets the keepalive ping cadence while connected.
func WithPingInterval(d time.Duration) Option { return withPingInterval(d) }

type withBackoff struct{ min, max time.Duration }

func (withBackoff) IsRelayOption() {}
func (w withBackoff) Apply(r *Relay) {
	r.minBackoff = w.min
	r.maxBackoff = w.max
}

// WithBackoff sets the exponential-with-jitter reconnect backoff bounds
// (spec §4.1 "Sleeping" state).
func WithBackoff(min, max time.Duration) Option { return withBackoff{min, max} }

type withIdleTimeout time.Duration

func (withIdleTimeout) IsRelayOption()   {}
func (w withIdleTimeout) Apply(r *Relay) { r.idleTimeout = time.Duration(w) }

// WithIdleTimeout puts an otherwise-healthy connection to Sleeping after
// d without any read or write activity, freeing the socket without
// discarding reconnect state.
func WithIdleTimeout(d time.Duration) Option { return withIdleTimeout(d) }

type withSigner struct{ s Signer }

func (withSigner) IsRelayOption()   {}
func (w withSigner) Apply(r *Relay) { r.signer = w.s }

// WithSigner installs the NIP-42 auth signer; without one, auth-required
// responses are surfaced as ErrAuthRequired instead of retried.
func WithSigner(s Signer) Option { return withSigner{s} }

type withOnNotice func(string)

func (withOnNotice) IsRelayOption()   {}
func (w withOnNotice) Apply(r *Relay) { r.onNotice = w }

// WithOnNotice installs a callback for NOTICE frames.
func WithOnNotice(fn func(string)) Option { return withOnNotice(fn) }

type withOnStatusChange func(Status)

func (withOnStatusChange) IsRelayOption()   {}
func (w withOnStatusChange) Apply(r *Relay) { r.onStatusChange = w }

// WithOnStatusChange installs a callback invoked whenever the
// supervisor observes a lifecycle transition, letting an owner (e.g.
// the pool's penalty box) react to connect failures without polling
// Status.
func WithOnStatusChange(fn func(Status)) Option { return withOnStatusChange(fn) }
