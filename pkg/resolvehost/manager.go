// Package resolvehost implements the Resolve-Host Request / Job / Task
// Sequence / DNS Task machinery: given a hostname, it runs local lookups
// (cache, HOSTS, config presets) before coalescing into a dispatcher-gated
// Job that issues DNS (and, optionally, system/mDNS/NAT64) tasks.
package resolvehost

import (
	"context"
	"net/netip"
	"time"

	"hostresolve/pkg/dnsclient"
	"hostresolve/pkg/hostcache"
	"hostresolve/pkg/priority"
	"hostresolve/pkg/reachability"
)

// Options configures a Manager, per §6.1.
type Options struct {
	MaxConcurrentResolves     int
	ReservedSlots             []int // length == NumPriorities
	NumPriorities             int
	MaxSystemRetryAttempts    int
	InsecureDNSClientEnabled  bool
	AdditionalDNSTypesEnabled bool
	CheckIPv6OnWifi           bool
	HTTPSSVCBOptions          HTTPSSVCBOptions
	CacheEnabled              bool
	CacheCapacity             int
	DefaultSecureDNSMode      hostcache.SecureDNSMode
}

// HTTPSSVCBOptions mirrors §4.7.1's https_svcb_options.
type HTTPSSVCBOptions struct {
	Enable                    bool
	InsecureExtraTimeMax      time.Duration
	InsecureExtraTimePercent  int
	InsecureExtraTimeMin      time.Duration
	SecureExtraTimeMax        time.Duration
	SecureExtraTimePercent    int
	SecureExtraTimeMin        time.Duration
}

// Manager owns the Host Cache, the Priority Dispatcher, and the live
// key→Job map. It is not safe for concurrent use: every Resolve/Cancel/
// ChangePriority call, and every dispatcher callback a Job drives, is
// expected to run on a single owner goroutine, the Go rendering of the
// single-threaded cooperative executor the task sequence assumes.
// Callers that need concurrent access must serialize their own calls into
// the Manager (e.g. a single goroutine draining a channel of requests).
type Manager struct {
	opts       Options
	cache      *hostcache.Cache
	dispatcher *priority.Dispatcher
	jobs       map[hostcache.Key]*Job

	numPriorities int
	clock         func() time.Time

	reachability    *reachabilityGate
	dnsClient       dnsclient.Transaction // insecure (SYSTEM-style plaintext) transport
	secureDNSClient dnsclient.Transaction // DoH transport
	hostsLookup     func(hostname string) (hostcache.Entry, bool)
	presetLookup    func(hostname string) (hostcache.Entry, bool)
	localhost       map[string]hostcache.Entry
}

// Collaborators bundles the external dependencies NewManager wires in.
// DNSClient, SecureDNSClient, HostsLookup, and PresetLookup may each be nil
// to disable the corresponding task kind entirely.
type Collaborators struct {
	Prober          reachability.Prober
	DNSClient       dnsclient.Transaction
	SecureDNSClient dnsclient.Transaction
	HostsLookup     func(hostname string) (hostcache.Entry, bool)
	PresetLookup    func(hostname string) (hostcache.Entry, bool)
}

// NewManager builds a Manager from Options, a Host Cache, and its external
// collaborators.
func NewManager(opts Options, cache *hostcache.Cache, collab Collaborators) *Manager {
	dispatcher := priority.NewDispatcher(opts.NumPriorities, priority.Limits{
		TotalJobs:     opts.MaxConcurrentResolves,
		ReservedSlots: opts.ReservedSlots,
	})
	return &Manager{
		opts:            opts,
		cache:           cache,
		dispatcher:      dispatcher,
		jobs:            make(map[hostcache.Key]*Job),
		numPriorities:   opts.NumPriorities,
		clock:           time.Now,
		reachability:    newReachabilityGate(collab.Prober, 10*time.Second),
		dnsClient:       collab.DNSClient,
		secureDNSClient: collab.SecureDNSClient,
		hostsLookup:     collab.HostsLookup,
		presetLookup:    collab.PresetLookup,
		localhost:       defaultLocalhostEntries(),
	}
}

func (m *Manager) ctx() context.Context { return context.Background() }

// Resolve creates and starts a Request for hostname, returning it
// alongside the synchronous status. callback fires exactly once if and
// only if the returned status is StatusPending and the request is not
// cancelled first.
func (m *Manager) Resolve(scheme, hostname string, port uint16, params Params, callback func(Error)) (*Request, status) {
	req := newRequest(m, scheme, hostname, port, params)
	st := req.Start(callback)
	return req, st
}

// ProbeCache consults the Host Cache and the other local sources for
// (scheme, hostname, port, params) without ever starting a Job or touching
// the network, using the exact same cache key a full Resolve call for
// these params would use. Wrappers such as pkg/stalehost use this for a
// cache-only probe that is always synchronous by construction.
func (m *Manager) ProbeCache(scheme, hostname string, port uint16, params Params) (hostcache.Entry, hostcache.Staleness, bool) {
	if addr, ok := parseIPLiteral(hostname); ok {
		entry := hostcache.NewEntry(0, []hostcache.Endpoint{{Addr: addr, Port: port}}, hostcache.SourceKindUnknown, -1, m.clock(), m.cache.NetworkGeneration())
		return entry, hostcache.Staleness{}, true
	}
	key := m.buildKey(scheme, hostname, port, params)
	return m.resolveLocally(key, params)
}

// OnNetworkChange bumps the cache's network generation. Jobs bound to no
// specific network are expected to be aborted by callers that track
// per-network job sets; this Manager (matching the spec's single-network
// baseline) does not itself cancel in-flight jobs on network change.
func (m *Manager) OnNetworkChange() {
	m.cache.OnNetworkChange()
}

func (m *Manager) buildKey(scheme, hostname string, port uint16, params Params) hostcache.Key {
	types := []hostcache.QueryType{params.QueryType}
	types = append(types, params.AdditionalQueryTypes...)

	var flags hostcache.Flag
	if params.LoopbackOnly {
		flags |= hostcache.FlagLoopbackOnly
	}
	if params.AvoidMulticastResolution {
		flags |= hostcache.FlagAvoidMulticast
	}
	if params.IncludeCanonicalName {
		flags |= hostcache.FlagCanonname
	}

	mode := m.opts.DefaultSecureDNSMode
	switch params.SecureDNSPolicy {
	case SecureDNSPolicyDisable:
		mode = hostcache.SecureDNSOff
	case SecureDNSPolicyBootstrap:
		mode = hostcache.SecureDNSAutomatic
	}

	return hostcache.NewKey(scheme, hostname, port, types, flags, params.Source, mode, hostcache.AnonymizationKey{}, mode == hostcache.SecureDNSSecure)
}

// resolveLocally implements §4.5.2's RESOLVE_LOCALLY phase, excluding the
// IP-literal and localhost checks Start already performs first. Order:
// localhost table → cache (honoring cache_usage) → HOSTS → config preset.
// The returned Staleness is only meaningful (IsStale true) when the entry
// came from a stale cache hit; every other source reports a fresh result.
func (m *Manager) resolveLocally(key hostcache.Key, params Params) (hostcache.Entry, hostcache.Staleness, bool) {
	if entry, ok := m.localhost[key.Hostname]; ok {
		return entry, hostcache.Staleness{}, true
	}

	if entry, staleness, ok := m.lookupCache(key, params.CacheUsage); ok {
		return entry, staleness, true
	}

	if m.hostsLookup != nil {
		if entry, ok := m.hostsLookup(key.Hostname); ok {
			return entry, hostcache.Staleness{}, true
		}
	}

	if m.presetLookup != nil {
		if entry, ok := m.presetLookup(key.Hostname); ok {
			return entry, hostcache.Staleness{}, true
		}
	}

	return hostcache.Entry{}, hostcache.Staleness{}, false
}

func (m *Manager) lookupCache(key hostcache.Key, usage CacheUsage) (hostcache.Entry, hostcache.Staleness, bool) {
	if usage == CacheDisallowed {
		return hostcache.Entry{}, hostcache.Staleness{}, false
	}

	now := m.clock()
	if entry, ok := m.cache.Lookup(key, now); ok {
		return entry, hostcache.Staleness{}, true
	}

	if usage == CacheStaleAllowed || usage == CacheStaleAllowedWhileRefreshing {
		if entry, staleness, ok := m.cache.LookupStale(key, now); ok {
			return entry, staleness, true
		}
	}

	return hostcache.Entry{}, hostcache.Staleness{}, false
}

// startOrAttachJob implements START_JOB: coalesce onto an existing Job for
// key, or build a fresh task list and create one.
func (m *Manager) startOrAttachJob(key hostcache.Key, req *Request) {
	if job, ok := m.jobs[key]; ok {
		job.attach(req)
		return
	}

	tasks := m.buildTasks(key, req.params)
	job := newJob(m, key, tasks, m.opts.CacheEnabled)
	m.jobs[key] = job
	job.attach(req)
	job.advance(nil)
}

// buildTasks assembles the task list per §4.6.1, gated by the manager's
// configuration and the request's source restriction.
func (m *Manager) buildTasks(key hostcache.Key, params Params) []task {
	var tasks []task

	secure := key.SecureDNSMode == hostcache.SecureDNSSecure || key.SecureDNSMode == hostcache.SecureDNSAutomatic
	if secure {
		t := true
		tasks = append(tasks, newCacheLookupTask(TaskSecureCacheLookup, &t))
	}
	tasks = append(tasks, newCacheLookupTask(TaskCacheLookup, nil))
	if key.SecureDNSMode != hostcache.SecureDNSSecure {
		f := false
		tasks = append(tasks, newCacheLookupTask(TaskInsecureCacheLookup, &f))
	}

	if m.presetLookup != nil {
		tasks = append(tasks, newConfigPresetTask(m.presetLookup))
	}
	if m.hostsLookup != nil {
		tasks = append(tasks, newHostsTask(m.hostsLookup))
	}

	if params.Source == hostcache.SourceLocalOnly {
		return tasks
	}

	if key.SecureDNSMode != hostcache.SecureDNSOff && m.secureDNSClient != nil {
		tasks = append(tasks, newDNSTask(m, key, params, true))
	}
	if key.SecureDNSMode != hostcache.SecureDNSSecure && m.opts.InsecureDNSClientEnabled && m.dnsClient != nil {
		tasks = append(tasks, newDNSTask(m, key, params, false))
	}

	return tasks
}

func defaultLocalhostEntries() map[string]hostcache.Entry {
	return map[string]hostcache.Entry{
		"localhost": hostcache.NewEntry(0, []hostcache.Endpoint{
			{Addr: netip.MustParseAddr("127.0.0.1")},
			{Addr: netip.MustParseAddr("::1")},
		}, hostcache.SourceKindUnknown, -1, time.Time{}, 0),
	}
}
