// Package relay implements the connection engine for a single Nostr
// relay: a state machine over its lifecycle, a reconnect supervisor with
// backoff, correlated publish/OK handling, NIP-42 auth interleaving and
// subscriptions with configurable exit policies. Its job stops at one
// relay; fan-out across many lives in the pool package.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/asmogo/gonostrpool/signer"
	"github.com/puzpuzpuz/xsync/v3"
)

// Relay drives one websocket connection to one relay URL, re-dialing on
// failure according to its backoff policy until Shutdown or Ban.
type Relay struct {
	URL    string
	logger *slog.Logger

	status atomicStatus

	sendQueueSize    int
	connectTimeout   time.Duration
	okTimeout        time.Duration
	pingInterval     time.Duration
	minBackoff       time.Duration
	maxBackoff       time.Duration
	idleTimeout      time.Duration
	authTimeout      time.Duration
	rateLimitBackoff time.Duration
	signer           Signer
	onNotice         func(string)
	onStatusChange   func(Status)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	sock         *socket
	sendCh       chan []byte
	pumpDone     chan struct{}
	attempt      int
	challenge    string
	authTried    bool
	authInFlight *authState

	// wake lets an outbound call (Publish, Subscribe) cut an idle sleep
	// short instead of waiting out the reconnect backoff window (spec
	// §4.1: Sleeping "is exited ... on any outbound request").
	wake chan struct{}

	subs         *xsync.MapOf[string, *Subscription]
	okWaiters    *xsync.MapOf[string, chan okResult]
	negWaiters   *xsync.MapOf[string, chan negResult]
	supportsNeg  atomic64 // 0 = unknown/yes, 1 = known-unsupported
	lastActivity atomic64

	stats Stats
}

// Stats are simple, non-authoritative counters useful for observability
// (spec's "Supplemented features" — not part of the wire protocol).
type Stats struct {
	Connects      atomic64
	Disconnects   atomic64
	EventsSent    atomic64
	EventsRecv    atomic64
	SendFailures  atomic64
}

type okResult struct {
	ok      bool
	message string
}

type negResult struct {
	msgHex string
	closed bool
	errMsg string
}

// authState tracks a single in-flight NIP-42 auth round trip so that
// concurrent callers needing auth (e.g. two Publish calls rejected at
// once) share one AUTH event instead of racing separate ones.
type authState struct {
	done chan struct{}
	err  error
}

// New constructs a Relay bound to url, in StatusInitialized. Call
// Connect to begin the connection supervisor loop.
func New(ctx context.Context, url string, opts ...Option) (*Relay, error) {
	normalized, err := nostr.NormalizeURL(url)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	cctx, cancel := context.WithCancel(ctx)
	r := &Relay{
		URL:              normalized,
		logger:           slog.Default().With("relay", normalized),
		sendQueueSize:    defaultSendQueueSize,
		connectTimeout:   defaultConnectTimeout,
		okTimeout:        defaultOKTimeout,
		pingInterval:     defaultPingInterval,
		minBackoff:       defaultMinBackoff,
		maxBackoff:       defaultMaxBackoff,
		idleTimeout:      defaultIdleTimeout,
		authTimeout:      defaultAuthTimeout,
		rateLimitBackoff: defaultRateLimitBackoff,
		ctx:              cctx,
		cancel:           cancel,
		wake:             make(chan struct{}, 1),
		subs:             xsync.NewMapOf[string, *Subscription](),
		okWaiters:        xsync.NewMapOf[string, chan okResult](),
		negWaiters:       xsync.NewMapOf[string, chan negResult](),
	}
	for _, opt := range opts {
		opt.Apply(r)
	}
	r.setStatus(StatusInitialized)
	return r, nil
}

// Status reports the current lifecycle state.
func (r *Relay) Status() Status { return r.status.load() }

// setStatus transitions the state cell and, unless the relay was
// already terminal, notifies onStatusChange (used by owners like the pool's penalty box
// to react to connect failures without polling).
func (r *Relay) setStatus(next Status) {
	if r.status.set(next) && r.onStatusChange != nil {
		r.onStatusChange(next)
	}
}

// SupportsNegentropy reports whether this relay is not known to reject
// NEG-OPEN; it starts optimistic (true) until a NEG-ERR "unsupported"
// is observed (spec §4.4 "capability probe").
func (r *Relay) SupportsNegentropy() bool { return r.supportsNeg.load() == 0 }

// StatsSnapshot is a point-in-time copy of a relay's connection
// counters, safe to pass around and compare.
type StatsSnapshot struct {
	Connects     int64
	Disconnects  int64
	EventsSent   int64
	EventsRecv   int64
	SendFailures int64
}

// Stats returns a snapshot of the relay's connection counters.
func (r *Relay) Stats() StatsSnapshot {
	return StatsSnapshot{
		Connects:     r.stats.Connects.load(),
		Disconnects:  r.stats.Disconnects.load(),
		EventsSent:   r.stats.EventsSent.load(),
		EventsRecv:   r.stats.EventsRecv.load(),
		SendFailures: r.stats.SendFailures.load(),
	}
}

// Connect starts the supervisor goroutine that dials, pumps and
// reconnects with backoff until the context is cancelled or the relay
// is shut down or banned. It returns immediately; use WaitConnected to
// block for the first successful handshake.
func (r *Relay) Connect() {
	if !r.status.compareAndSet(StatusInitialized, StatusPending) {
		r.setStatus(StatusPending)
	}
	go r.supervise()
}

// WaitConnected blocks until the relay reaches StatusConnected or ctx is
// done, whichever comes first.
func (r *Relay) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.Status() == StatusConnected {
			return nil
		}
		if r.status.load().IsTerminal() {
			return ErrTerminal
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) supervise() {
	for r.attempt = 0; ; r.attempt++ {
		if r.status.load().IsTerminal() {
			return
		}
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		r.setStatus(StatusConnecting)
		dialCtx, cancel := context.WithTimeout(r.ctx, r.connectTimeout)
		sock, err := dialSocket(dialCtx, r.URL)
		cancel()
		if err != nil {
			r.logger.Warn("dial failed", "attempt", r.attempt, "err", err)
			if !r.sleep() {
				return
			}
			continue
		}

		r.mu.Lock()
		r.sock = sock
		r.sendCh = make(chan []byte, r.sendQueueSize)
		r.pumpDone = make(chan struct{})
		r.authTried = false
		r.challenge = ""
		r.mu.Unlock()

		r.setStatus(StatusConnected)
		r.stats.Connects.add(1)
		r.attempt = 0
		r.touch()

		idle := r.runConnection(sock)

		r.setStatus(StatusDisconnected)
		r.stats.Disconnects.add(1)
		r.failOutstanding()

		if r.status.load().IsTerminal() {
			return
		}

		if idle {
			// Idle sleep is not a failure: it does not consume a
			// backoff slot, and it is woken by an outbound call
			// rather than a timer (spec §4.1).
			r.attempt = -1
			if !r.idleSleep() {
				return
			}
			continue
		}
		if !r.sleep() {
			return
		}
	}
}

// sleep waits out the backoff window for the current attempt, honouring
// shutdown/context cancellation, and reports whether the caller should
// keep retrying.
func (r *Relay) sleep() bool {
	r.setStatus(StatusSleeping)
	d := backoffDuration(r.attempt, r.minBackoff, r.maxBackoff)
	select {
	case <-time.After(d):
		return !r.status.load().IsTerminal()
	case <-r.ctx.Done():
		return false
	}
}

// idleSleep parks a healthy-but-idle relay in Sleeping until an outbound
// call signals r.wake or the relay is shut down, without touching the
// reconnect attempt counter (spec §4.1: idle sleep is exited "on any
// outbound request", not a timer).
func (r *Relay) idleSleep() bool {
	r.setStatus(StatusSleeping)
	// Discard any wake queued before this sleep began (e.g. by a publish
	// that raced a dial-failure Sleeping window) so only a request
	// issued during this idle sleep wakes it.
	select {
	case <-r.wake:
	default:
	}
	select {
	case <-r.wake:
		return !r.status.load().IsTerminal()
	case <-r.ctx.Done():
		return false
	}
}

// wakeNow nudges a sleeping supervisor into an immediate reconnect
// attempt instead of waiting out its current sleep window.
func (r *Relay) wakeNow() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func backoffDuration(attempt int, min, max time.Duration) time.Duration {
	d := min << attempt
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}

// runConnection drives the read pump, write pump and ping ticker for one
// physical connection, blocking until any of them signals a connection
// loss. It reports whether the loop exited because the connection went
// idle, as opposed to a ping/read/write failure.
func (r *Relay) runConnection(sock *socket) (idleExit bool) {
	connCtx, connCancel := context.WithCancel(r.ctx)
	defer connCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer connCancel()
		r.writePump(connCtx, sock)
	}()
	go func() {
		defer wg.Done()
		defer connCancel()
		r.readPump(connCtx, sock)
	}()

	pingTicker := time.NewTicker(r.pingInterval)
	defer pingTicker.Stop()
	idleTicker := time.NewTicker(r.idleTimeout / 4)
	defer idleTicker.Stop()

loop:
	for {
		select {
		case <-connCtx.Done():
			break loop
		case <-pingTicker.C:
			if err := sock.writePing(); err != nil {
				break loop
			}
		case <-idleTicker.C:
			if time.Since(r.lastSeen()) > r.idleTimeout {
				idleExit = true
				break loop
			}
		}
	}
	connCancel()
	_ = sock.close()
	wg.Wait()
	return idleExit
}

func (r *Relay) writePump(ctx context.Context, sock *socket) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-r.sendCh:
			if err := sock.writeText(frame); err != nil {
				return
			}
			r.touch()
		}
	}
}

func (r *Relay) readPump(ctx context.Context, sock *socket) {
	for {
		raw, err := sock.readText()
		if err != nil {
			return
		}
		r.touch()
		msg, err := nostr.ParseRelayMessage(raw)
		if err != nil {
			r.logger.Debug("unparseable frame", "err", err)
			continue
		}
		r.dispatch(msg)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (r *Relay) dispatch(msg *nostr.RelayMessage) {
	switch msg.Verb {
	case nostr.VerbEvent:
		r.stats.EventsRecv.add(1)
		if sub, ok := r.subs.Load(msg.SubID); ok {
			sub.deliver(*msg.Event)
		}
	case nostr.VerbEOSE:
		if sub, ok := r.subs.Load(msg.SubID); ok {
			sub.eose()
		}
	case nostr.VerbClosed:
		r.handleClosed(msg.SubID, msg.ClosedReason)
	case nostr.VerbOK:
		if ch, ok := r.okWaiters.LoadAndDelete(msg.OKEventID); ok {
			ch <- okResult{ok: msg.OKStatus, message: msg.OKMessage}
		}
	case nostr.VerbNotice:
		if r.onNotice != nil {
			r.onNotice(msg.NoticeText)
		}
	case nostr.VerbAuth:
		r.mu.Lock()
		r.challenge = msg.AuthChallenge
		r.mu.Unlock()
	case nostr.VerbNegMsg:
		if ch, ok := r.negWaiters.Load(msg.SubID); ok {
			ch <- negResult{msgHex: msg.NegMsgHex}
		}
	case nostr.VerbNegErr:
		if ch, ok := r.negWaiters.LoadAndDelete(msg.SubID); ok {
			ch <- negResult{closed: true, errMsg: msg.NegErrReason}
		}
		if msg.NegErrReason == "unsupported" {
			r.supportsNeg.store(1)
		}
	}
}

func (r *Relay) handleClosed(subID, reason string) {
	sub, ok := r.subs.Load(subID)
	if !ok {
		return
	}
	if nostr.ParsePrefix(reason) == nostr.PrefixAuthRequired && r.signer != nil && !sub.authRetried {
		sub.authRetried = true
		// authenticate blocks on the same OK the read pump is about to
		// deliver, so it must run off this goroutine.
		go func() {
			if err := r.authenticate(r.ctx); err != nil {
				sub.closed(reason)
				r.subs.Delete(subID)
				return
			}
			if err := r.resend(sub); err != nil {
				sub.closed(reason)
				r.subs.Delete(subID)
			}
		}()
		return
	}
	sub.closed(reason)
	r.subs.Delete(subID)
}

func (r *Relay) resend(sub *Subscription) error {
	frame, err := nostr.ClientReq(sub.ID, sub.Filters)
	if err != nil {
		return err
	}
	return r.enqueue(frame)
}

// authenticate runs the NIP-42 challenge-response exactly once per
// connection, sharing the in-flight attempt across concurrent callers:
// it builds and signs the kind-22242 auth event, sends it, and blocks
// until a correlated OK arrives, authTimeout elapses, or ctx is done
// (spec §4.1 "NIP-42 interleaving").
func (r *Relay) authenticate(ctx context.Context) error {
	r.mu.Lock()
	if st := r.authInFlight; st != nil {
		r.mu.Unlock()
		select {
		case <-st.done:
			return st.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if r.authTried {
		r.mu.Unlock()
		return ErrAuthRequired
	}
	if r.signer == nil {
		r.mu.Unlock()
		return ErrAuthRequired
	}
	r.authTried = true
	st := &authState{done: make(chan struct{})}
	r.authInFlight = st
	r.mu.Unlock()

	st.err = r.performAuth(ctx)
	close(st.done)

	r.mu.Lock()
	r.authInFlight = nil
	r.mu.Unlock()
	return st.err
}

// performAuth waits for a challenge if one has not yet arrived, then
// signs and sends the kind-22242 event and awaits its OK, all bounded by
// r.authTimeout.
func (r *Relay) performAuth(ctx context.Context) error {
	authCtx, cancel := context.WithTimeout(ctx, r.authTimeout)
	defer cancel()

	challenge, err := r.awaitChallenge(authCtx)
	if err != nil {
		return ErrAuthRequired
	}

	pub, err := r.signer.PublicKey(authCtx)
	if err != nil {
		r.logger.Warn("auth: public key", "err", err)
		return ErrAuthRequired
	}
	unsigned := signer.AuthEvent(pub, r.URL, challenge)
	ev, err := r.signer.Sign(authCtx, unsigned)
	if err != nil {
		r.logger.Warn("auth: sign", "err", err)
		return ErrAuthRequired
	}
	frame, err := nostr.ClientAuth(ev)
	if err != nil {
		return ErrAuthRequired
	}

	ch := make(chan okResult, 1)
	r.okWaiters.Store(ev.ID, ch)
	defer r.okWaiters.Delete(ev.ID)
	if err := r.enqueue(frame); err != nil {
		return ErrAuthRequired
	}

	select {
	case res, ok := <-ch:
		if !ok || !res.ok {
			return ErrAuthRequired
		}
		return nil
	case <-authCtx.Done():
		return ErrAuthRequired
	}
}

// awaitChallenge returns the most recent AUTH challenge, waiting for one
// to arrive if the auth-required rejection beat the AUTH frame naming it
// across the wire.
func (r *Relay) awaitChallenge(ctx context.Context) (string, error) {
	r.mu.Lock()
	challenge := r.challenge
	r.mu.Unlock()
	if challenge != "" {
		return challenge, nil
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			challenge = r.challenge
			r.mu.Unlock()
			if challenge != "" {
				return challenge, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (r *Relay) enqueue(frame []byte) error {
	r.mu.Lock()
	ch := r.sendCh
	r.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	select {
	case ch <- frame:
		return nil
	default:
		r.stats.SendFailures.add(1)
		return ErrChannelFull
	}
}

func (r *Relay) touch()          { r.lastActivity.store(time.Now().UnixNano()) }
func (r *Relay) lastSeen() time.Time {
	return time.Unix(0, r.lastActivity.load())
}

func (r *Relay) failOutstanding() {
	r.okWaiters.Range(func(id string, ch chan okResult) bool {
		close(ch)
		r.okWaiters.Delete(id)
		return true
	})
	r.negWaiters.Range(func(id string, ch chan negResult) bool {
		close(ch)
		r.negWaiters.Delete(id)
		return true
	})
}

// Publish sends an event and blocks until a correlated OK arrives, the
// okTimeout elapses, or ctx is cancelled. A false OK is inspected for
// the two machine-readable prefixes spec §4.1's OK correlation contract
// calls out as retryable: auth-required triggers one NIP-42 round trip
// and a single republish of e on success; rate-limited waits a short,
// fixed backoff and republishes e once. Either retry happens at most
// once per Publish call.
func (r *Relay) Publish(ctx context.Context, e nostr.Event) error {
	return r.publishAttempt(ctx, e, false, false)
}

func (r *Relay) publishAttempt(ctx context.Context, e nostr.Event, authRetried, rateLimitRetried bool) error {
	if r.status.load() == StatusSleeping {
		r.wakeNow()
		if err := r.WaitConnected(ctx); err != nil {
			return err
		}
	}
	if r.status.load() != StatusConnected {
		return ErrNotConnected
	}
	frame, err := nostr.ClientEvent(e)
	if err != nil {
		return err
	}
	ch := make(chan okResult, 1)
	r.okWaiters.Store(e.ID, ch)
	defer r.okWaiters.Delete(e.ID)

	if err := r.enqueue(frame); err != nil {
		return err
	}
	r.stats.EventsSent.add(1)

	timer := time.NewTimer(r.okTimeout)
	defer timer.Stop()
	select {
	case res, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if res.ok {
			return nil
		}
		switch nostr.ParsePrefix(res.message) {
		case nostr.PrefixAuthRequired:
			if authRetried || r.signer == nil {
				return ErrAuthRequired
			}
			if err := r.authenticate(ctx); err != nil {
				return ErrAuthRequired
			}
			return r.publishAttempt(ctx, e, true, rateLimitRetried)
		case nostr.PrefixRateLimited:
			if rateLimitRetried {
				return fmt.Errorf("relay: rejected: %s", res.message)
			}
			select {
			case <-time.After(r.rateLimitBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			return r.publishAttempt(ctx, e, authRetried, true)
		default:
			return fmt.Errorf("relay: rejected: %s", res.message)
		}
	case <-timer.C:
		return ErrOKTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the current physical connection without changing
// the relay's terminal eligibility; the supervisor will reconnect with
// backoff unless Shutdown or Ban has been called.
func (r *Relay) Disconnect() {
	r.mu.Lock()
	sock := r.sock
	r.mu.Unlock()
	if sock != nil {
		_ = sock.close()
	}
}

// Shutdown stops the supervisor permanently; no further reconnects are
// attempted. Idempotent.
func (r *Relay) Shutdown() {
	r.setStatus(StatusShutdown)
	r.cancel()
}

// Ban marks the relay permanently unusable, e.g. after repeated
// protocol violations; distinct from Shutdown for observability.
func (r *Relay) Ban() {
	r.setStatus(StatusBanned)
	r.cancel()
}
