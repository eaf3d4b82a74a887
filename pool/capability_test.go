package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCapabilityUnion(t *testing.T) {
	c := CapRead.Union(CapWrite)
	require.True(t, c.Has(CapRead))
	require.True(t, c.Has(CapWrite))
	require.False(t, c.Has(CapGossip))
}

func TestCapabilityWithoutRouting(t *testing.T) {
	c := CapRead | CapWrite | CapDiscovery | CapGossip
	stripped := c.WithoutRouting()
	require.False(t, stripped.Has(CapRead))
	require.False(t, stripped.Has(CapWrite))
	require.False(t, stripped.Has(CapDiscovery))
	require.True(t, stripped.Has(CapGossip))
}
