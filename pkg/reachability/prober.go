// Package reachability probes whether the current network path can reach
// the global IPv6 internet and whether a NAT64 prefix is available, caching
// and rate-limiting results the way pkg/forwarder tracks upstream health.
package reachability

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hostresolve/pkg/logging"
)

// Prober is the collaborator the Resolve-Host Request's IPV6_REACHABILITY
// state and the Job's NAT64 task consult.
type Prober interface {
	ProbeIPv6Reachability(ctx context.Context) (bool, error)
	ProbeNAT64(ctx context.Context) (netip.Prefix, bool, error)
}

// DialProber probes by attempting a UDP connect (no packets sent) to a
// well-known globally-routable IPv6 address, the same "does the kernel
// have a route out" trick real resolvers use instead of an HTTP request.
type DialProber struct {
	logger   *logging.Logger
	dialer   net.Dialer
	target   string // host:port probed for IPv6 reachability
	nat64Prefix netip.Prefix
	nat64Known  bool

	limiter *rate.Limiter

	mu       sync.Mutex
	cachedOK bool
	cachedAt time.Time
	cacheTTL time.Duration
}

// NewDialProber creates a prober that rate-limits and caches probes for
// cacheTTL (typically a few seconds to a minute — probes are cheap but
// repeating them on every request in a hot loop is wasteful).
func NewDialProber(logger *logging.Logger, cacheTTL time.Duration) *DialProber {
	return &DialProber{
		logger:   logger,
		target:   "[2001:4860:4860::8888]:53",
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		cacheTTL: cacheTTL,
	}
}

// SetNAT64Prefix configures a statically known NAT64 prefix (discovered
// out-of-band, e.g. from DNS64 configuration); ProbeNAT64 reports it
// without a network round-trip.
func (p *DialProber) SetNAT64Prefix(prefix netip.Prefix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nat64Prefix = prefix
	p.nat64Known = true
}

// ProbeIPv6Reachability reports whether a globally-reachable IPv6
// destination is available, consulting the cache before hitting the
// network.
func (p *DialProber) ProbeIPv6Reachability(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if time.Since(p.cachedAt) < p.cacheTTL {
		ok := p.cachedOK
		p.mu.Unlock()
		return ok, nil
	}
	p.mu.Unlock()

	if err := p.limiter.Wait(ctx); err != nil {
		return false, err
	}

	conn, err := p.dialer.DialContext(ctx, "udp6", p.target)
	ok := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	p.mu.Lock()
	p.cachedOK = ok
	p.cachedAt = time.Now()
	p.mu.Unlock()

	if p.logger != nil {
		p.logger.Debug("probed ipv6 reachability", "reachable", ok)
	}
	return ok, nil
}

// ProbeNAT64 reports the configured NAT64 prefix, if any. This build does
// not perform live NAT64 discovery (that requires issuing a DNS64 AAAA
// query for a well-known IPv4-only name); it only surfaces a prefix set
// via SetNAT64Prefix.
func (p *DialProber) ProbeNAT64(_ context.Context) (netip.Prefix, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nat64Prefix, p.nat64Known, nil
}
