package mappedhost

import (
	"hostresolve/pkg/hostcache"
	"hostresolve/pkg/resolvehost"
)

// Status is the synchronous outcome of Resolver.Resolve, mirroring
// resolvehost's own status values.
type Status int

const (
	StatusOK Status = iota
	StatusPending
	StatusError
)

// Resolver wraps an inner *resolvehost.Manager, rewriting, passing through,
// or failing a hostname against a rule list before the inner resolver ever
// sees it, per §4.9.
type Resolver struct {
	inner *resolvehost.Manager
	rules []Rule
}

// New builds a Resolver wrapping inner with rules, evaluated in order.
func New(inner *resolvehost.Manager, rules []Rule) *Resolver {
	return &Resolver{inner: inner, rules: rules}
}

// Resolve applies the rule list to (hostname, port) before delegating to
// the inner resolver. A MAP ... ^NOTFOUND match fails the request
// synchronously with NAME_NOT_RESOLVED without ever reaching the inner
// resolver; an EXCLUDE match stops further rule evaluation and resolves
// the original hostname unchanged; any other MAP match substitutes the
// host (and, when given, the port) before delegating.
func (r *Resolver) Resolve(scheme, hostname string, port uint16, params resolvehost.Params, callback func(resolvehost.Error)) (*Request, Status) {
	targetHost, targetPort, notFound := r.apply(hostname, port)
	if notFound {
		return &Request{err: resolvehost.ErrNameNotResolved}, StatusError
	}

	inner, st := r.inner.Resolve(scheme, targetHost, targetPort, params, callback)

	switch st {
	case resolvehost.StatusOK:
		return &Request{inner: inner}, StatusOK
	case resolvehost.StatusPending:
		return &Request{inner: inner}, StatusPending
	default:
		return &Request{inner: inner}, StatusError
	}
}

// apply evaluates rules against hostname in order; the first match
// determines the outcome. notFound reports a MAP ... ^NOTFOUND match.
func (r *Resolver) apply(hostname string, port uint16) (targetHost string, targetPort uint16, notFound bool) {
	for _, rule := range r.rules {
		if !matchPattern(rule.Pattern, hostname) {
			continue
		}
		switch rule.Kind {
		case KindExclude:
			return hostname, port, false
		case KindMap:
			if rule.NotFound {
				return hostname, port, true
			}
			outPort := port
			if rule.ReplacementPort != 0 {
				outPort = rule.ReplacementPort
			}
			return rule.ReplacementHost, outPort, false
		}
	}
	return hostname, port, false
}

// Request is the handle Resolver.Resolve returns. It delegates to the
// wrapped resolvehost.Request when the hostname was passed through or
// substituted, or reports a synthetic NAME_NOT_RESOLVED failure when a
// ^NOTFOUND rule matched before the inner resolver was ever invoked.
type Request struct {
	inner *resolvehost.Request
	err   resolvehost.Error
}

// GetAddressResults returns the resolved endpoints. Valid only after
// completion.
func (req *Request) GetAddressResults() []hostcache.Endpoint {
	if req.inner != nil {
		return req.inner.GetAddressResults()
	}
	return nil
}

// GetResolveErrorInfo returns the completion error.
func (req *Request) GetResolveErrorInfo() resolvehost.Error {
	if req.inner != nil {
		return req.inner.GetResolveErrorInfo()
	}
	return req.err
}

// GetStaleInfo returns staleness info when the result came from a stale
// cache entry, or nil otherwise.
func (req *Request) GetStaleInfo() *hostcache.Staleness {
	if req.inner != nil {
		return req.inner.GetStaleInfo()
	}
	return nil
}

// Cancel drops the request. A no-op for a synthetic ^NOTFOUND failure,
// since it never reached the inner resolver.
func (req *Request) Cancel() {
	if req.inner != nil {
		req.inner.Cancel()
	}
}
