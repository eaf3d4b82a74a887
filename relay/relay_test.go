package relay

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/asmogo/gonostrpool/signer"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"
)

// fakeRelay is a minimal, real websocket server standing in for a relay
// in engine-level tests: it accepts raw TCP connections, performs the
// gobwas/ws handshake (the same framing transport.go's socket uses for
// real dials) and hands each accepted connection to the test so it can
// script OK/AUTH/CLOSED responses by hand.
type fakeRelay struct {
	ln   net.Listener
	conn chan net.Conn
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fr := &fakeRelay{ln: ln, conn: make(chan net.Conn, 8)}
	t.Cleanup(func() { _ = ln.Close() })
	go fr.acceptLoop()
	return fr
}

func (fr *fakeRelay) acceptLoop() {
	for {
		conn, err := fr.ln.Accept()
		if err != nil {
			return
		}
		if _, err := ws.Upgrade(conn); err != nil {
			_ = conn.Close()
			continue
		}
		fr.conn <- conn
	}
}

func (fr *fakeRelay) url() string { return "ws://" + fr.ln.Addr().String() }

// dial returns the server side of the next connection a Relay makes
// against this fake relay.
func (fr *fakeRelay) dial(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-fr.conn:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("fake relay: client never connected")
		return nil
	}
}

// readFrame reads one client-to-relay text frame and decodes it as a
// JSON array, returning the verb and the raw remaining elements.
func readFrame(t *testing.T, conn net.Conn) (string, []json.RawMessage) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgs, err := wsutil.ReadClientMessage(conn, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &arr))
	var verb string
	require.NoError(t, json.Unmarshal(arr[0], &verb))
	return verb, arr
}

func writeFrame(t *testing.T, conn net.Conn, v ...any) {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, wsutil.WriteServerMessage(conn, ws.OpText, payload))
}

func decodeEvent(t *testing.T, raw json.RawMessage) nostr.Event {
	t.Helper()
	var e nostr.Event
	require.NoError(t, json.Unmarshal(raw, &e))
	return e
}

func connectRelay(t *testing.T, fr *fakeRelay, opts ...Option) (*Relay, net.Conn) {
	t.Helper()
	r, err := New(context.Background(), fr.url(), opts...)
	require.NoError(t, err)
	r.Connect()
	t.Cleanup(r.Shutdown)
	conn := fr.dial(t)
	require.NoError(t, r.WaitConnected(context.Background()))
	return r, conn
}

func TestPublishOKCorrelation(t *testing.T) {
	fr := newFakeRelay(t)
	r, conn := connectRelay(t, fr)

	ev := nostr.Event{ID: "event-1", Kind: nostr.KindTextNote, Content: "hi"}
	done := make(chan error, 1)
	go func() { done <- r.Publish(context.Background(), ev) }()

	verb, arr := readFrame(t, conn)
	require.Equal(t, nostr.VerbEvent, verb)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)

	writeFrame(t, conn, "OK", ev.ID, true, "")
	require.NoError(t, <-done)
}

func TestPublishOKFalseUnretryablePrefix(t *testing.T) {
	fr := newFakeRelay(t)
	r, conn := connectRelay(t, fr)

	ev := nostr.Event{ID: "event-2", Kind: nostr.KindTextNote, Content: "hi"}
	done := make(chan error, 1)
	go func() { done <- r.Publish(context.Background(), ev) }()

	_, arr := readFrame(t, conn)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, false, "invalid: bad signature")

	err := <-done
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrAuthRequired)
}

func TestPublishAuthRequiredAwaitsAuthThenRepublishesOnce(t *testing.T) {
	fr := newFakeRelay(t)
	signerKeys, err := signer.NewRandom()
	require.NoError(t, err)
	r, conn := connectRelay(t, fr, WithSigner(signerKeys))

	ev := nostr.Event{ID: "event-3", Kind: nostr.KindTextNote, Content: "gated"}
	done := make(chan error, 1)
	go func() { done <- r.Publish(context.Background(), ev) }()

	// First publish attempt is rejected as auth-required; the relay is
	// then told its challenge.
	verb, arr := readFrame(t, conn)
	require.Equal(t, nostr.VerbEvent, verb)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, false, "auth-required: please authenticate")
	writeFrame(t, conn, "AUTH", "challenge-xyz")

	// The engine signs and sends exactly one kind-22242 AUTH event.
	verb, arr = readFrame(t, conn)
	require.Equal(t, nostr.VerbAuth, verb)
	authEvent := decodeEvent(t, arr[1])
	require.Equal(t, nostr.KindAuth, authEvent.Kind)
	require.Equal(t, "challenge-xyz", authEvent.Tags.Find("challenge").Value())
	writeFrame(t, conn, "OK", authEvent.ID, true, "")

	// Only on OK=true for the auth event does it republish the original
	// event, exactly once.
	verb, arr = readFrame(t, conn)
	require.Equal(t, nostr.VerbEvent, verb)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, true, "")

	require.NoError(t, <-done)
}

func TestPublishAuthRequiredWithoutSignerFailsFast(t *testing.T) {
	fr := newFakeRelay(t)
	r, conn := connectRelay(t, fr)

	ev := nostr.Event{ID: "event-4", Kind: nostr.KindTextNote}
	done := make(chan error, 1)
	go func() { done <- r.Publish(context.Background(), ev) }()

	_, arr := readFrame(t, conn)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, false, "auth-required: please authenticate")

	require.ErrorIs(t, <-done, ErrAuthRequired)
}

func TestPublishAuthRequiredFailsWhenAuthRejected(t *testing.T) {
	fr := newFakeRelay(t)
	signerKeys, err := signer.NewRandom()
	require.NoError(t, err)
	r, conn := connectRelay(t, fr, WithSigner(signerKeys), WithAuthTimeout(time.Second))

	ev := nostr.Event{ID: "event-5", Kind: nostr.KindTextNote}
	done := make(chan error, 1)
	go func() { done <- r.Publish(context.Background(), ev) }()

	_, arr := readFrame(t, conn)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, false, "auth-required: please authenticate")
	writeFrame(t, conn, "AUTH", "challenge-xyz")

	verb, arr := readFrame(t, conn)
	require.Equal(t, nostr.VerbAuth, verb)
	authEvent := decodeEvent(t, arr[1])
	writeFrame(t, conn, "OK", authEvent.ID, false, "restricted: no")

	require.ErrorIs(t, <-done, ErrAuthRequired)
}

func TestPublishRateLimitedRetriesOnceThenGivesUp(t *testing.T) {
	fr := newFakeRelay(t)
	r, conn := connectRelay(t, fr, WithRateLimitBackoff(10*time.Millisecond))

	ev := nostr.Event{ID: "event-6", Kind: nostr.KindTextNote}
	done := make(chan error, 1)
	go func() { done <- r.Publish(context.Background(), ev) }()

	_, arr := readFrame(t, conn)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, false, "rate-limited: slow down")

	// Retried exactly once after the short backoff.
	_, arr = readFrame(t, conn)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, false, "rate-limited: slow down")

	err := <-done
	require.Error(t, err)
}

func TestPublishRateLimitedRetrySucceeds(t *testing.T) {
	fr := newFakeRelay(t)
	r, conn := connectRelay(t, fr, WithRateLimitBackoff(10*time.Millisecond))

	ev := nostr.Event{ID: "event-7", Kind: nostr.KindTextNote}
	done := make(chan error, 1)
	go func() { done <- r.Publish(context.Background(), ev) }()

	_, arr := readFrame(t, conn)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, false, "rate-limited: slow down")

	_, arr = readFrame(t, conn)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, true, "")

	require.NoError(t, <-done)
}

func TestSubscribeClosedAuthRequiredResendsAfterAuth(t *testing.T) {
	fr := newFakeRelay(t)
	signerKeys, err := signer.NewRandom()
	require.NoError(t, err)
	r, conn := connectRelay(t, fr, WithSigner(signerKeys))

	filters := []nostr.Filter{{Kinds: []nostr.Kind{nostr.KindTextNote}}}
	sub, err := r.Subscribe(context.Background(), "sub-1", filters, ExitOnEose())
	require.NoError(t, err)

	verb, arr := readFrame(t, conn)
	require.Equal(t, nostr.VerbReq, verb)
	var subID string
	require.NoError(t, json.Unmarshal(arr[1], &subID))
	require.Equal(t, "sub-1", subID)

	writeFrame(t, conn, "CLOSED", "sub-1", "auth-required: please authenticate")
	writeFrame(t, conn, "AUTH", "challenge-req")

	verb, arr = readFrame(t, conn)
	require.Equal(t, nostr.VerbAuth, verb)
	authEvent := decodeEvent(t, arr[1])
	require.Equal(t, "challenge-req", authEvent.Tags.Find("challenge").Value())
	writeFrame(t, conn, "OK", authEvent.ID, true, "")

	verb, arr = readFrame(t, conn)
	require.Equal(t, nostr.VerbReq, verb)
	require.NoError(t, json.Unmarshal(arr[1], &subID))
	require.Equal(t, "sub-1", subID)

	select {
	case reason := <-sub.Closed:
		t.Fatalf("subscription should not have closed, got: %s", reason)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIdleSleepWakesOnPublishAndReconnects(t *testing.T) {
	fr := newFakeRelay(t)
	r, err := New(context.Background(), fr.url(), WithIdleTimeout(80*time.Millisecond))
	require.NoError(t, err)
	r.Connect()
	t.Cleanup(r.Shutdown)

	_ = fr.dial(t)
	require.NoError(t, r.WaitConnected(context.Background()))

	require.Eventually(t, func() bool {
		return r.Status() == StatusSleeping
	}, 2*time.Second, 10*time.Millisecond, "relay should sleep after going idle")

	ev := nostr.Event{ID: "event-8", Kind: nostr.KindTextNote}
	done := make(chan error, 1)
	go func() { done <- r.Publish(context.Background(), ev) }()

	conn := fr.dial(t)
	verb, arr := readFrame(t, conn)
	require.Equal(t, nostr.VerbEvent, verb)
	require.Equal(t, ev.ID, decodeEvent(t, arr[1]).ID)
	writeFrame(t, conn, "OK", ev.ID, true, "")

	require.NoError(t, <-done)
	require.Equal(t, StatusConnected, r.Status())
}
