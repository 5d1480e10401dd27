// Package stalehost implements the Stale Host Resolver: a wrapper around a
// *resolvehost.Manager that can answer from a stale cache entry immediately
// while a fresh network lookup keeps running, per §4.8.
package stalehost

import (
	"sync"
	"time"

	"hostresolve/pkg/hostcache"
	"hostresolve/pkg/resolvehost"
)

// Options configures a Resolver.
type Options struct {
	// Delay is how long the wrapper waits for the network request before
	// giving up and delivering the stale entry instead.
	Delay time.Duration
	// MaxExpiredTime bounds how far past its TTL a cache entry may be and
	// still be used as a stale answer. Zero means unbounded.
	MaxExpiredTime time.Duration
	// MaxStaleUses bounds how many times the same entry may already have
	// been served stale before it is no longer usable. Zero means
	// unbounded.
	MaxStaleUses int
	// AllowOtherNetwork permits serving a stale entry created under a
	// network generation other than the current one.
	AllowOtherNetwork bool
	// UseStaleOnNameNotResolved delivers the stale entry instead of
	// NAME_NOT_RESOLVED when the network request comes back empty and a
	// usable stale entry exists.
	UseStaleOnNameNotResolved bool
}

// Status is the synchronous outcome of Resolver.Resolve, mirroring
// resolvehost's own status values.
type Status int

const (
	StatusOK Status = iota
	StatusPending
	StatusError
)

// Resolver wraps an inner *resolvehost.Manager with the delay-timer/
// usable-stale algorithm of §4.8. Its own bookkeeping is mutex-guarded, but
// Resolve and Request.Cancel call straight into the wrapped Manager, which
// is not safe for concurrent use, so calls into a Resolver are serialized
// by the caller the same way calls into the Manager are.
type Resolver struct {
	inner *resolvehost.Manager
	opts  Options

	mu       sync.Mutex
	detached map[*resolvehost.Request]struct{}
}

// New builds a Resolver wrapping inner.
func New(inner *resolvehost.Manager, opts Options) *Resolver {
	return &Resolver{
		inner:    inner,
		opts:     opts,
		detached: make(map[*resolvehost.Request]struct{}),
	}
}

// DetachedCount reports how many background network requests are still
// running after their wrapper Request already delivered a stale answer.
func (r *Resolver) DetachedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.detached)
}

func (r *Resolver) detach(req *resolvehost.Request) {
	r.mu.Lock()
	r.detached[req] = struct{}{}
	r.mu.Unlock()
}

func (r *Resolver) undetach(req *resolvehost.Request) {
	r.mu.Lock()
	delete(r.detached, req)
	r.mu.Unlock()
}

// Resolve runs the §4.8 algorithm: a cache-only probe decides whether a
// fresh or explicitly-requested-stale answer can return synchronously,
// whether a usable stale entry exists to race against a network request,
// or whether the network request alone must carry the resolution.
func (r *Resolver) Resolve(scheme, hostname string, port uint16, params resolvehost.Params, callback func(resolvehost.Error)) (*Request, Status) {
	probeParams := params
	probeParams.CacheUsage = resolvehost.CacheStaleAllowed

	entry, staleInfo, haveEntry := r.inner.ProbeCache(scheme, hostname, port, probeParams)
	fresh := haveEntry && !staleInfo.IsStale

	explicitStale := params.CacheUsage == resolvehost.CacheStaleAllowed ||
		params.CacheUsage == resolvehost.CacheStaleAllowedWhileRefreshing

	if fresh || (haveEntry && explicitStale) {
		req := &Request{callback: callback}
		st := req.finishSync(resolvehost.Squash(resolvehost.Error(entry.Error)), entry.Addresses, staleInfoPtr(staleInfo))
		return req, st
	}

	netParams := params
	netParams.CacheUsage = resolvehost.CacheDisallowed

	if r.usableStale(staleInfo, haveEntry) {
		return r.resolveWithRace(scheme, hostname, port, netParams, entry, staleInfo, callback)
	}

	return r.resolveWithoutRace(scheme, hostname, port, netParams, callback)
}

func staleInfoPtr(st hostcache.Staleness) *hostcache.Staleness {
	if !st.IsStale {
		return nil
	}
	s := st
	return &s
}

// usableStale reports whether st passes the max_expired_time,
// max_stale_uses, and allow_other_network gates of §4.8.
func (r *Resolver) usableStale(st hostcache.Staleness, haveEntry bool) bool {
	if !haveEntry || !st.IsStale {
		return false
	}
	if r.opts.MaxExpiredTime > 0 && st.ExpiredBy > r.opts.MaxExpiredTime {
		return false
	}
	if r.opts.MaxStaleUses > 0 && st.StaleHits > uint64(r.opts.MaxStaleUses) {
		return false
	}
	if !r.opts.AllowOtherNetwork && st.NetworkChanges > 0 {
		return false
	}
	return true
}

// resolveWithoutRace is taken when no usable stale entry exists: the
// network request alone carries the resolution, with no timer racing it.
func (r *Resolver) resolveWithoutRace(scheme, hostname string, port uint16, netParams resolvehost.Params, callback func(resolvehost.Error)) (*Request, Status) {
	req := &Request{callback: callback}

	netReq, netSt := r.inner.Resolve(scheme, hostname, port, netParams, func(err resolvehost.Error) {
		req.settle.Do(func() {
			req.deliverAsync(err, netReq.GetAddressResults(), nil)
		})
	})

	if netSt != resolvehost.StatusPending {
		return req, req.finishSync(netReq.GetResolveErrorInfo(), netReq.GetAddressResults(), nil)
	}

	req.mu.Lock()
	req.netReq = netReq
	req.mu.Unlock()
	return req, StatusPending
}

// resolveWithRace implements steps 2-5 of §4.8: a delay timer races a
// DISALLOWED-cache network request. Whichever settles first wins; the
// loser is either stopped (the timer) or detached to keep running in the
// background (the network request, when the timer wins).
func (r *Resolver) resolveWithRace(scheme, hostname string, port uint16, netParams resolvehost.Params, staleEntry hostcache.Entry, staleInfo hostcache.Staleness, callback func(resolvehost.Error)) (*Request, Status) {
	req := &Request{callback: callback}
	staleErr := resolvehost.Squash(resolvehost.Error(staleEntry.Error))
	staleAddrs := staleEntry.Addresses
	stalePtr := staleInfoPtr(staleInfo)

	netReq, netSt := r.inner.Resolve(scheme, hostname, port, netParams, func(err resolvehost.Error) {
		req.mu.Lock()
		wasDetached := req.detached
		req.mu.Unlock()

		req.settle.Do(func() {
			req.mu.Lock()
			if req.timer != nil {
				req.timer.Stop()
			}
			req.mu.Unlock()

			finalErr, finalAddrs := err, netReq.GetAddressResults()
			if r.opts.UseStaleOnNameNotResolved && err == resolvehost.ErrNameNotResolved {
				finalErr, finalAddrs = staleErr, staleAddrs
			}
			req.deliverAsync(finalErr, finalAddrs, nil)
		})

		if wasDetached {
			r.undetach(netReq)
		}
	})

	if netSt != resolvehost.StatusPending {
		finalErr, finalAddrs := netReq.GetResolveErrorInfo(), netReq.GetAddressResults()
		if r.opts.UseStaleOnNameNotResolved && finalErr == resolvehost.ErrNameNotResolved {
			finalErr, finalAddrs = staleErr, staleAddrs
		}
		return req, req.finishSync(finalErr, finalAddrs, nil)
	}

	req.mu.Lock()
	req.netReq = netReq
	req.timer = time.AfterFunc(r.opts.Delay, func() {
		req.settle.Do(func() {
			req.mu.Lock()
			req.detached = true
			req.mu.Unlock()
			r.detach(netReq)
			req.deliverAsync(staleErr, staleAddrs, stalePtr)
		})
	})
	req.mu.Unlock()

	return req, StatusPending
}

// Request is the handle Resolver.Resolve returns.
type Request struct {
	mu     sync.Mutex
	settle sync.Once

	done      bool
	cancelled bool
	detached  bool

	err      resolvehost.Error
	addrs    []hostcache.Endpoint
	stale    *hostcache.Staleness
	callback func(resolvehost.Error)

	timer  *time.Timer
	netReq *resolvehost.Request
}

// GetAddressResults returns the resolved endpoints. Valid only after
// completion.
func (req *Request) GetAddressResults() []hostcache.Endpoint {
	req.mu.Lock()
	defer req.mu.Unlock()
	return req.addrs
}

// GetResolveErrorInfo returns the completion error.
func (req *Request) GetResolveErrorInfo() resolvehost.Error {
	req.mu.Lock()
	defer req.mu.Unlock()
	return req.err
}

// GetStaleInfo returns staleness info when the delivered result came from
// a stale cache entry, or nil otherwise.
func (req *Request) GetStaleInfo() *hostcache.Staleness {
	req.mu.Lock()
	defer req.mu.Unlock()
	return req.stale
}

// Cancel drops the request. Per §5, this stops a pending delay timer and
// cancels a still-racing network request; a network request that already
// detached (because the timer fired first) is left to run to completion in
// the background.
func (req *Request) Cancel() {
	req.settle.Do(func() {
		req.mu.Lock()
		req.cancelled = true
		timer := req.timer
		netReq := req.netReq
		req.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if netReq != nil {
			netReq.Cancel()
		}
	})
}

func (req *Request) finishSync(err resolvehost.Error, addrs []hostcache.Endpoint, stale *hostcache.Staleness) Status {
	req.mu.Lock()
	req.done = true
	req.err = err
	req.addrs = addrs
	req.stale = stale
	req.mu.Unlock()

	if err == resolvehost.ErrOK {
		return StatusOK
	}
	return StatusError
}

// deliverAsync finishes the request and invokes the caller's callback
// exactly once, unless the request was already cancelled.
func (req *Request) deliverAsync(err resolvehost.Error, addrs []hostcache.Endpoint, stale *hostcache.Staleness) {
	req.mu.Lock()
	if req.cancelled {
		req.mu.Unlock()
		return
	}
	req.done = true
	req.err = err
	req.addrs = addrs
	req.stale = stale
	cb := req.callback
	req.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}
