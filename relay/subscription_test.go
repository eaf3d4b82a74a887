package relay

import (
	"testing"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/stretchr/testify/require"
)

func newTestSubscription(policy ExitPolicy) *Subscription {
	return &Subscription{
		ID:     "sub1",
		Events: make(chan nostr.Event, 8),
		EOSE:   make(chan struct{}, 1),
		Closed: make(chan string, 1),
		policy: policy,
	}
}

func TestSubscriptionOnEoseClosesEvents(t *testing.T) {
	sub := newTestSubscription(ExitOnEose())
	sub.eose()
	_, ok := <-sub.Events
	require.False(t, ok, "events channel should be closed after EOSE under ModeOnEose")
}

func TestSubscriptionWaitForEventsAfterEose(t *testing.T) {
	sub := newTestSubscription(WaitForEventsAfterEose(2))
	sub.eose()
	sub.deliver(nostr.Event{ID: "1"})
	select {
	case _, ok := <-sub.Events:
		require.True(t, ok)
	default:
		t.Fatal("expected buffered event")
	}
	sub.deliver(nostr.Event{ID: "2"})

	_, ok := <-sub.Events
	require.True(t, ok, "second event should still be delivered before close")
	_, ok = <-sub.Events
	require.False(t, ok, "should auto-close once N post-EOSE events arrive")
}

func TestSubscriptionReceiveAllNeverAutoCloses(t *testing.T) {
	sub := newTestSubscription(ReceiveAll())
	sub.eose()
	sub.deliver(nostr.Event{ID: "1"})
	select {
	case _, ok := <-sub.Closed:
		t.Fatalf("unexpected close signal: %v", ok)
	default:
	}
}
