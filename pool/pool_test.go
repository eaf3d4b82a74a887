package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRelayMergesCapabilitiesWhenAlreadyPresent(t *testing.T) {
	p := New(context.Background())
	defer p.Shutdown()

	already, err := p.AddRelay("wss://relay.example.com", CapRead, false)
	require.NoError(t, err)
	require.False(t, already)

	already, err = p.AddRelay("wss://relay.example.com", CapWrite, false)
	require.NoError(t, err)
	require.True(t, already)

	entry, ok := p.relays.Load("wss://relay.example.com/")
	require.True(t, ok)
	require.True(t, entry.capabilities().Has(CapRead))
	require.True(t, entry.capabilities().Has(CapWrite))
}

func TestAddRelayEnforcesMaxRelays(t *testing.T) {
	p := New(context.Background(), WithMaxRelays(1))
	defer p.Shutdown()

	_, err := p.AddRelay("wss://a.example.com", CapRead, false)
	require.NoError(t, err)

	_, err = p.AddRelay("wss://b.example.com", CapRead, false)
	require.Error(t, err)
}

func TestRemoveRelayKeepsGossipCapableConnectionUnlessForced(t *testing.T) {
	p := New(context.Background())
	defer p.Shutdown()

	_, err := p.AddRelay("wss://relay.example.com", CapRead|CapGossip, false)
	require.NoError(t, err)

	require.NoError(t, p.RemoveRelay("wss://relay.example.com", false))
	entry, ok := p.relays.Load("wss://relay.example.com/")
	require.True(t, ok, "gossip-capable relay should survive a non-forced remove")
	require.False(t, entry.capabilities().Has(CapRead))
	require.True(t, entry.capabilities().Has(CapGossip))

	require.NoError(t, p.RemoveRelay("wss://relay.example.com", true))
	_, ok = p.relays.Load("wss://relay.example.com/")
	require.False(t, ok, "forced remove should drop the relay entirely")
}

func TestUnsubscribeIgnoresUnknownID(t *testing.T) {
	p := New(context.Background())
	defer p.Shutdown()
	p.Unsubscribe("never-existed")
}
