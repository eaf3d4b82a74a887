package relay

import "errors"

var (
	// ErrChannelFull is returned by outbound operations (Publish,
	// Subscribe, NegOpen, ...) when the outbound queue is at capacity (spec §4.1 "bounded MPSC send channel").
	ErrChannelFull = errors.New("relay: send channel full")

	// ErrNotConnected is returned by operations that require an active
	// connection while the relay is not in StatusConnected.
	ErrNotConnected = errors.New("relay: not connected")

	// ErrTerminal is returned by any operation attempted on a relay that
	// has reached a terminal state (Banned or Shutdown).
	ErrTerminal = errors.New("relay: relay is in a terminal state")

	// ErrAuthRequired is surfaced when a publish or subscription request
	// is rejected with an auth-required prefix and no retry was possible
	// (no signer configured, or the retry itself failed).
	ErrAuthRequired = errors.New("relay: auth-required")

	// ErrOKTimeout is returned when no OK was received for a published
	// event within the configured timeout.
	ErrOKTimeout = errors.New("relay: timed out waiting for OK")
)
