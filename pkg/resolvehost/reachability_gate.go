package resolvehost

import (
	"context"
	"sync"
	"time"

	"hostresolve/pkg/reachability"
)

// reachabilityGate wraps a reachability.Prober with the cached last-known
// answer the Resolve-Host Request's IPV6_REACHABILITY state consults
// without blocking: probes run in the background, and until the first one
// completes the gate reports reachable.
type reachabilityGate struct {
	prober reachability.Prober
	ttl    time.Duration

	mu       sync.Mutex
	have     bool
	reachable bool
	probedAt time.Time
	inflight bool
}

func newReachabilityGate(prober reachability.Prober, ttl time.Duration) *reachabilityGate {
	return &reachabilityGate{prober: prober, ttl: ttl}
}

// cachedIPv6Reachable returns the last known answer, defaulting to true
// (optimistic) before any probe has completed — matching §4.5.2's note
// that LOCAL_ONLY requests proceed unless reachability is known-false.
func (g *reachabilityGate) cachedIPv6Reachable() bool {
	if g.prober == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.have {
		return true
	}
	return g.reachable
}

// ensureProbed kicks off a fresh probe if the cached answer is missing or
// stale. It does not block the caller on the network round-trip; the
// Request proceeds optimistically with the cached value, as chrome's own
// resolver does for the common case.
func (g *reachabilityGate) ensureProbed(ctx context.Context) {
	if g.prober == nil {
		return
	}
	g.mu.Lock()
	if g.inflight || (g.have && time.Since(g.probedAt) < g.ttl) {
		g.mu.Unlock()
		return
	}
	g.inflight = true
	g.mu.Unlock()

	go func() {
		reachable, err := g.prober.ProbeIPv6Reachability(ctx)
		g.mu.Lock()
		defer g.mu.Unlock()
		g.inflight = false
		if err != nil {
			return
		}
		g.have = true
		g.reachable = reachable
		g.probedAt = time.Now()
	}()
}
