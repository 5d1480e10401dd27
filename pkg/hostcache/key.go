// Package hostcache implements a fixed-capacity, TTL- and
// network-generation-aware cache mapping resolved-host lookups to their
// results, plus the key/entry types it stores.
package hostcache

import (
	"sort"
	"strconv"
	"strings"
)

// Source identifies where a Job is willing to obtain results from, and is
// recorded in the Key so that e.g. a SYSTEM-only lookup never collides with
// a DNS-only one for the same hostname.
type Source int

const (
	SourceAny Source = iota
	SourceSystem
	SourceDNS
	SourceMDNS
	SourceLocalOnly
)

// SecureDNSMode selects how DoH participates in a lookup.
type SecureDNSMode int

const (
	SecureDNSOff SecureDNSMode = iota
	SecureDNSAutomatic
	SecureDNSSecure
)

// Flag is a bit in Key.Flags.
type Flag uint32

const (
	FlagCanonname Flag = 1 << iota
	FlagLoopbackOnly
	FlagAvoidMulticast
	FlagDefaultFamilyDueToNoIPv6
)

// AnonymizationKey partitions cache entries when network partitioning is
// enabled. The zero value is the unpartitioned key.
type AnonymizationKey struct {
	Site string
}

// QueryType enumerates the DNS RR types a Key can request.
type QueryType int

const (
	QueryTypeA QueryType = iota
	QueryTypeAAAA
	QueryTypeHTTPS
	QueryTypeTXT
	QueryTypeSRV
	QueryTypePTR
)

// Key uniquely identifies a cache slot and the coalescing group for
// concurrent jobs resolving the same thing. Two keys that compare equal
// must yield interchangeable entries, so every field that participates in
// resolution semantics belongs here and canonicalization must happen before
// a Key is constructed.
type Key struct {
	Scheme                  string
	Hostname                string
	Port                    uint16
	QueryTypes              string // sorted, comma-joined QueryType values; see NewKey
	Flags                   Flag
	Source                  Source
	SecureDNSMode           SecureDNSMode
	NetworkAnonymizationKey AnonymizationKey
	Secure                  bool
}

// NewKey canonicalizes hostname and query types and builds a Key. hostname
// must already be an A-label (IDNA conversion happens above this layer);
// this only lowercases ASCII and strips IPv6 brackets.
func NewKey(scheme, hostname string, port uint16, queryTypes []QueryType, flags Flag, source Source, mode SecureDNSMode, nak AnonymizationKey, secure bool) Key {
	return Key{
		Scheme:                  scheme,
		Hostname:                canonicalizeHostname(hostname),
		Port:                    port,
		QueryTypes:              encodeQueryTypes(queryTypes),
		Flags:                   flags,
		Source:                  source,
		SecureDNSMode:           mode,
		NetworkAnonymizationKey: nak,
		Secure:                  secure,
	}
}

func canonicalizeHostname(host string) string {
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.ToLower(host)
}

func encodeQueryTypes(types []QueryType) string {
	if len(types) == 0 {
		return ""
	}
	ints := make([]int, len(types))
	for i, t := range types {
		ints[i] = int(t)
	}
	sort.Ints(ints)
	parts := make([]string, len(ints))
	for i, v := range ints {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// Less implements the lexicographic ordering §3.1 requires over the key
// tuple. It is only used by tests and diagnostics; the cache itself keys on
// Go's native struct equality via a plain map.
func (k Key) Less(other Key) bool {
	if k.Hostname != other.Hostname {
		return k.Hostname < other.Hostname
	}
	if k.Scheme != other.Scheme {
		return k.Scheme < other.Scheme
	}
	if k.Port != other.Port {
		return k.Port < other.Port
	}
	if k.QueryTypes != other.QueryTypes {
		return k.QueryTypes < other.QueryTypes
	}
	if k.Flags != other.Flags {
		return k.Flags < other.Flags
	}
	if k.Source != other.Source {
		return k.Source < other.Source
	}
	if k.SecureDNSMode != other.SecureDNSMode {
		return k.SecureDNSMode < other.SecureDNSMode
	}
	if k.NetworkAnonymizationKey.Site != other.NetworkAnonymizationKey.Site {
		return k.NetworkAnonymizationKey.Site < other.NetworkAnonymizationKey.Site
	}
	return !k.Secure && other.Secure
}
