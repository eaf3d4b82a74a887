package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutputSucceededRequiresAtLeastOneSuccess(t *testing.T) {
	out := newOutput("event-id")
	require.False(t, out.Succeeded())

	out.fail("wss://a.example/", errors.New("boom"))
	require.False(t, out.Succeeded())

	out.ok("wss://b.example/")
	require.True(t, out.Succeeded())
	require.Equal(t, "boom", out.Failed["wss://a.example/"])
}
