package relay

import "sync/atomic"

// atomic64 is a tiny wrapper so Stats fields read naturally as counters
// without importing sync/atomic at every call site.
type atomic64 struct {
	v atomic.Int64
}

func (a *atomic64) add(delta int64) { a.v.Add(delta) }
func (a *atomic64) store(v int64)   { a.v.Store(v) }
func (a *atomic64) load() int64     { return a.v.Load() }
