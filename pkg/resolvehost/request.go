package resolvehost

import (
	"net/netip"

	"hostresolve/pkg/hostcache"
)

// CacheUsage controls how a Request's local phase consults the Host Cache.
type CacheUsage int

const (
	CacheAllowed CacheUsage = iota
	CacheDisallowed
	CacheStaleAllowed
	CacheStaleAllowedWhileRefreshing
)

// SecureDNSPolicy is the per-request override of the manager's secure-DNS
// mode.
type SecureDNSPolicy int

const (
	SecureDNSPolicyAllow SecureDNSPolicy = iota
	SecureDNSPolicyDisable
	SecureDNSPolicyBootstrap
)

// Params are the per-request resolve parameters of §6.2.
type Params struct {
	QueryType                 hostcache.QueryType
	AdditionalQueryTypes       []hostcache.QueryType // used when QueryType is "unspecified"
	InitialPriority            int
	Source                     hostcache.Source
	CacheUsage                 CacheUsage
	IncludeCanonicalName       bool
	LoopbackOnly               bool
	AvoidMulticastResolution   bool
	SecureDNSPolicy            SecureDNSPolicy
	IsSpeculative              bool
}

// status is the synchronous return value of Request.Start.
type status int

const (
	StatusOK status = iota
	StatusPending
	StatusError
)

// Request is the user-facing handle returned by Manager.Resolve. Dropping
// it (calling Cancel before completion) must not invoke the callback.
type Request struct {
	manager  *Manager
	hostname string
	port     uint16
	scheme   string
	params   Params
	priority int

	job *Job

	done     bool
	cancelled bool
	callback func(Error)

	err       Error
	entry     hostcache.Entry
	staleInfo *hostcache.Staleness
}

func newRequest(m *Manager, scheme, hostname string, port uint16, params Params) *Request {
	return &Request{
		manager:  m,
		hostname: hostname,
		port:     port,
		scheme:   scheme,
		params:   params,
		priority: params.InitialPriority,
	}
}

// Start runs the IPV6_REACHABILITY → … → FINISH state machine of §4.5.2.
// A synchronous outcome returns StatusOK or an error status and never
// invokes callback. A PENDING outcome attaches to a Job and guarantees
// callback fires exactly once, unless Cancel is called first.
func (r *Request) Start(callback func(Error)) status {
	r.callback = callback

	if r.params.Source == hostcache.SourceLocalOnly {
		if !r.manager.reachability.cachedIPv6Reachable() {
			return r.finishSync(ErrNameNotResolved)
		}
	} else {
		r.manager.reachability.ensureProbed(r.manager.ctx())
	}

	key := r.manager.buildKey(r.scheme, r.hostname, r.port, r.params)

	if addr, ok := parseIPLiteral(r.hostname); ok {
		entry := hostcache.NewEntry(0, []hostcache.Endpoint{{Addr: addr, Port: r.port}}, hostcache.SourceKindUnknown, -1, r.manager.clock(), r.manager.cache.NetworkGeneration())
		return r.finishSyncWithEntry(ErrOK, entry, hostcache.Staleness{})
	}

	if entry, staleness, ok := r.manager.resolveLocally(key, r.params); ok {
		return r.finishSyncWithEntry(ErrOK, entry, staleness)
	}

	if r.params.Source == hostcache.SourceLocalOnly {
		return r.finishSync(ErrNameNotResolved)
	}

	r.manager.startOrAttachJob(key, r)
	return StatusPending
}

// ChangePriority updates the request's priority, recomputing the
// attached Job's aggregate if any.
func (r *Request) ChangePriority(p int) {
	if r.job != nil {
		r.job.priorityCounts[r.priority]--
		r.job.priorityCounts[p]++
	}
	r.priority = p
	if r.job != nil {
		r.job.recomputeMax()
	}
}

// Cancel drops the request. If it was the last one attached to its Job,
// the Job is torn down without firing any callback.
func (r *Request) Cancel() {
	if r.done || r.cancelled {
		return
	}
	r.cancelled = true
	if r.job != nil {
		r.job.detach(r)
		r.job = nil
	}
}

func (r *Request) finishSync(err Error) status {
	r.done = true
	r.err = err
	if err == ErrOK {
		return StatusOK
	}
	return StatusError
}

func (r *Request) finishSyncWithEntry(err Error, entry hostcache.Entry, staleness hostcache.Staleness) status {
	r.done = true
	r.err = err
	r.entry = entry
	if staleness.IsStale {
		s := staleness
		r.staleInfo = &s
	}
	if err == ErrOK {
		return StatusOK
	}
	return StatusError
}

// complete is invoked by the owning Job exactly once, outside any lock.
func (r *Request) complete(err Error, entry hostcache.Entry) {
	if r.cancelled {
		return
	}
	r.done = true
	r.err = err
	r.entry = entry
	r.job = nil
	if r.callback != nil {
		r.callback(err)
	}
}

// GetAddressResults returns the resolved endpoints. Valid only after
// completion.
func (r *Request) GetAddressResults() []hostcache.Endpoint { return r.entry.Addresses }

// GetResolveErrorInfo returns the squashed completion error.
func (r *Request) GetResolveErrorInfo() Error { return r.err }

// GetStaleInfo returns staleness info when the result came from a stale
// cache entry, or nil otherwise.
func (r *Request) GetStaleInfo() *hostcache.Staleness { return r.staleInfo }

func parseIPLiteral(hostname string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(hostname)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}
