package sync

import "time"

// Options configures one Reconcile call (spec §4.4 "Direction control").
type Options struct {
	// doUp/doDown default true; use WithUploadOnly/WithDownloadOnly to
	// restrict direction.
	up, down       bool
	initialTimeout time.Duration
	idleTimeout    time.Duration
}

// DefaultOptions reconciles in both directions with the default timeouts.
func DefaultOptions() Options {
	return Options{
		up:             true,
		down:           true,
		initialTimeout: defaultInitialTimeout,
		idleTimeout:    defaultIdleTimeout,
	}
}

func (o Options) doUp() bool   { return o.up }
func (o Options) doDown() bool { return o.down }

// WithUploadOnly restricts the reconciliation to the upload direction;
// NEG-MSG is still consumed but need_ids is ignored (spec §4.4).
func (o Options) WithUploadOnly() Options {
	o.up, o.down = true, false
	return o
}

// WithDownloadOnly restricts the reconciliation to the download
// direction.
func (o Options) WithDownloadOnly() Options {
	o.up, o.down = false, true
	return o
}

// WithInitialTimeout overrides how long the capability probe waits for
// the relay's first NEG-MSG/NEG-ERR before failing.
func (o Options) WithInitialTimeout(d time.Duration) Options {
	o.initialTimeout = d
	return o
}

// WithIdleTimeout overrides how long the loop waits without any
// relevant message before aborting.
func (o Options) WithIdleTimeout(d time.Duration) Options {
	o.idleTimeout = d
	return o
}
