package resolvehost

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"hostresolve/pkg/dnsclient"
	"hostresolve/pkg/hostcache"
)

// minEntryTTL is the floor applied to a DNS Task's cached TTL per §4.7.3:
// even a record with a shorter observed TTL is cached for at least this
// long, to bound how often a hot name is re-queried.
const minEntryTTL = 60 * time.Second

// dnsTask runs the A/AAAA (and, for https and wss hosts, HTTPS-record) transactions for
// one Job. It is an external task: run must return without invoking done
// synchronously, and any transaction that completes after cancel is
// discarded.
type dnsTask struct {
	manager *Manager
	key     hostcache.Key
	params  Params
	secure  bool

	cancelled atomic.Bool
	cancelFn  context.CancelFunc
}

func newDNSTask(m *Manager, key hostcache.Key, params Params, secure bool) *dnsTask {
	return &dnsTask{manager: m, key: key, params: params, secure: secure}
}

func (t *dnsTask) kind() TaskKind {
	if t.secure {
		return TaskSecureDNS
	}
	return TaskDNS
}

func (t *dnsTask) cancel() {
	t.cancelled.Store(true)
	if t.cancelFn != nil {
		t.cancelFn()
	}
}

func (t *dnsTask) transport() dnsclient.Transaction {
	if t.secure {
		return t.manager.secureDNSClient
	}
	return t.manager.dnsClient
}

// run issues the address transactions the Resolve Parameters call for
// (A, AAAA, or both for "unspecified"), plus an HTTPS transaction when
// https_svcb_options.enable is set and the scheme is https or wss, then folds them into a single Cache
// Entry per §4.7.2's address-combination and §4.7.1's extra-time clamp.
func (t *dnsTask) run(ctx context.Context, job *Job, done func(taskResult)) {
	transport := t.transport()
	if transport == nil {
		done(taskResult{err: ErrNameNotResolved})
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancelFn = cancel

	types := addressQueryTypes(t.params.QueryType, t.params.AdditionalQueryTypes)

	go func() {
		started := time.Now()

		var wg sync.WaitGroup
		results := make([]dnsOutcome, len(types))
		for i, qt := range types {
			wg.Add(1)
			go func(i int, qt dnsclient.RRType) {
				defer wg.Done()
				res, err := transport.Do(runCtx, t.key.Hostname, qt)
				results[i] = dnsOutcome{qtype: qt, res: res, err: err}
			}(i, qt)
		}
		wg.Wait()

		var httpsResult *dnsclient.Result
		if t.manager.opts.HTTPSSVCBOptions.Enable && (t.key.Scheme == "https" || t.key.Scheme == "wss") {
			extra := clampExtraTime(time.Since(started), t.secure, t.manager.opts.HTTPSSVCBOptions)
			httpsCtx, httpsCancel := context.WithTimeout(runCtx, extra)
			res, err := transport.Do(httpsCtx, t.key.Hostname, dnsclient.TypeHTTPS)
			httpsCancel()
			if err == nil {
				httpsResult = &res
			}
		}

		if t.cancelled.Load() {
			return
		}

		done(combineDNSResults(results, httpsResult, t.manager.clock()))
	}()
}

func addressQueryTypes(primary hostcache.QueryType, additional []hostcache.QueryType) []dnsclient.RRType {
	want := map[hostcache.QueryType]bool{primary: true}
	for _, q := range additional {
		want[q] = true
	}

	var types []dnsclient.RRType
	if want[hostcache.QueryTypeA] {
		types = append(types, dnsclient.TypeA)
	}
	if want[hostcache.QueryTypeAAAA] {
		types = append(types, dnsclient.TypeAAAA)
	}
	if len(types) == 0 {
		types = []dnsclient.RRType{dnsclient.TypeA, dnsclient.TypeAAAA}
	}
	return types
}

// clampExtraTime implements §4.7.1: extra = clamp(address_elapsed *
// percent/100, min, max), selecting the secure or insecure bound set.
func clampExtraTime(addressElapsed time.Duration, secure bool, opts HTTPSSVCBOptions) time.Duration {
	percent := opts.InsecureExtraTimePercent
	min, max := opts.InsecureExtraTimeMin, opts.InsecureExtraTimeMax
	if secure {
		percent = opts.SecureExtraTimePercent
		min, max = opts.SecureExtraTimeMin, opts.SecureExtraTimeMax
	}
	extra := time.Duration(int64(addressElapsed) * int64(percent) / 100)
	if extra < min {
		extra = min
	}
	if max > 0 && extra > max {
		extra = max
	}
	return extra
}

// dnsOutcome is one address transaction's result, gathered before folding
// them together in combineDNSResults.
type dnsOutcome struct {
	qtype dnsclient.RRType
	res   dnsclient.Result
	err   error
}

func combineDNSResults(results []dnsOutcome, https *dnsclient.Result, now time.Time) taskResult {
	var endpoints []hostcache.Endpoint
	var minTTL time.Duration = -1
	anySuccess := false

	for _, r := range results {
		if r.err != nil || r.res.NXDomain {
			continue
		}
		anySuccess = true
		for _, a := range r.res.Answers {
			endpoints = append(endpoints, hostcache.Endpoint{Addr: a.Addr})
			if minTTL < 0 || a.TTL < minTTL {
				minTTL = a.TTL
			}
		}
	}

	if https != nil && !https.NXDomain {
		for _, a := range https.Answers {
			if minTTL < 0 || a.TTL < minTTL {
				minTTL = a.TTL
			}
		}
	}

	if !anySuccess {
		return taskResult{err: ErrNameNotResolved}
	}

	if minTTL < minEntryTTL {
		minTTL = minEntryTTL
	}

	entry := hostcache.NewEntry(0, endpoints, hostcache.SourceKindDNS, minTTL, now, 0)
	return taskResult{err: ErrOK, entry: entry}
}
