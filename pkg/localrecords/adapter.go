package localrecords

import (
	"net"
	"net/netip"
	"time"

	"hostresolve/pkg/hostcache"
)

// HostsLookup adapts a Manager into the HOSTS task backend's lookup
// signature: given a hostname, return a Cache Entry if any local A/AAAA
// record matches (exact or wildcard), or ok=false to let the task-list
// fall through to the next task.
func HostsLookup(m *Manager) func(hostname string) (hostcache.Entry, bool) {
	return func(hostname string) (hostcache.Entry, bool) {
		var endpoints []hostcache.Endpoint
		var ttl uint32

		ips, ttlA, ok := m.LookupA(hostname)
		if ok {
			ttl = ttlA
			endpoints = append(endpoints, toEndpoints(ips)...)
		}
		ips6, ttl6, ok6 := m.LookupAAAA(hostname)
		if ok6 {
			if ttl == 0 || ttl6 < ttl {
				ttl = ttl6
			}
			endpoints = append(endpoints, toEndpoints(ips6)...)
		}

		if len(endpoints) == 0 {
			return hostcache.Entry{}, false
		}

		now := time.Now()
		entry := hostcache.NewEntry(0, endpoints, hostcache.SourceKindHosts, time.Duration(ttl)*time.Second, now, 0)
		return entry, true
	}
}

func toEndpoints(ips []net.IP) []hostcache.Endpoint {
	out := make([]hostcache.Endpoint, 0, len(ips))
	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		out = append(out, hostcache.Endpoint{Addr: addr.Unmap()})
	}
	return out
}
