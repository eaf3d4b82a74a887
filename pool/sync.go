package pool

import (
	"context"
	stdsync "sync"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/asmogo/gonostrpool/relay"
	"github.com/asmogo/gonostrpool/store"
	syncpkg "github.com/asmogo/gonostrpool/sync"
)

// Reconciliation is the per-relay outcome of a Sync call, keyed by the
// normalized relay URL that produced it (spec §4.2
// "sync(per_relay_targets, opts) → Output<Reconciliation>").
type Reconciliation = map[string]syncpkg.Summary

// Sync runs the negentropy reconciliation loop (spec §4.4) against
// every relay named in perRelayTargets concurrently, using st as the
// shared local store for both directions. The returned Output's Val
// carries one Summary per relay that completed; relays that failed
// land in Output.Failed instead.
func (p *Pool) Sync(ctx context.Context, perRelayTargets map[string]nostr.Filter, st store.Store, opts syncpkg.Options) (*Output[Reconciliation], error) {
	out := newOutput[Reconciliation](make(Reconciliation))
	var wg stdsync.WaitGroup
	var mu stdsync.Mutex

	for url, filter := range perRelayTargets {
		normalized, err := nostr.NormalizeURL(url)
		if err != nil {
			mu.Lock()
			out.fail(url, err)
			mu.Unlock()
			continue
		}
		entry, ok := p.relays.Load(normalized)
		if !ok {
			mu.Lock()
			out.fail(normalized, relay.ErrNotConnected)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(url string, r *relay.Relay, filter nostr.Filter) {
			defer wg.Done()
			summary, err := syncpkg.Reconcile(ctx, r, st, filter, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.fail(url, err)
				return
			}
			out.Val[url] = summary
			out.ok(url)
		}(normalized, entry.r, filter)
	}

	wg.Wait()
	return out, nil
}
