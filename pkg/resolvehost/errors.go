package resolvehost

import "fmt"

// Error is the closed set of result codes a resolution can end in, per the
// error-kind table. Integer values are internal to this build; callers
// should compare against the named constants, never raw numbers.
type Error int

const (
	ErrOK Error = iota
	ErrIOPending
	ErrNameNotResolved
	ErrDNSCacheMiss
	ErrDNSRequestCancelled
	ErrHostResolverQueueTooLarge
	ErrNetworkChanged
	ErrContextShutDown
	ErrICANNNameCollision
	ErrDNSNameHTTPSOnly
	ErrInternetDisconnected
)

func (e Error) String() string {
	switch e {
	case ErrOK:
		return "OK"
	case ErrIOPending:
		return "IO_PENDING"
	case ErrNameNotResolved:
		return "NAME_NOT_RESOLVED"
	case ErrDNSCacheMiss:
		return "DNS_CACHE_MISS"
	case ErrDNSRequestCancelled:
		return "DNS_REQUEST_CANCELLED"
	case ErrHostResolverQueueTooLarge:
		return "HOST_RESOLVER_QUEUE_TOO_LARGE"
	case ErrNetworkChanged:
		return "NETWORK_CHANGED"
	case ErrContextShutDown:
		return "CONTEXT_SHUT_DOWN"
	case ErrICANNNameCollision:
		return "ICANN_NAME_COLLISION"
	case ErrDNSNameHTTPSOnly:
		return "DNS_NAME_HTTPS_ONLY"
	case ErrInternetDisconnected:
		return "INTERNET_DISCONNECTED"
	default:
		return fmt.Sprintf("UNKNOWN_ERROR(%d)", int(e))
	}
}

func (e Error) Error() string { return e.String() }

// Squash maps any internal error code to the reduced set that is safe to
// surface to a caller, per §7's propagation policy: OK, IO_PENDING,
// INTERNET_DISCONNECTED, NAME_NOT_RESOLVED, and DNS_NAME_HTTPS_ONLY pass
// through unchanged; everything else becomes NAME_NOT_RESOLVED.
func Squash(e Error) Error {
	switch e {
	case ErrOK, ErrIOPending, ErrInternetDisconnected, ErrNameNotResolved, ErrDNSNameHTTPSOnly:
		return e
	default:
		return ErrNameNotResolved
	}
}

// fatal reports whether a task-level error must end the Job outright
// instead of falling through to the next task in the sequence.
func (e Error) fatal() bool {
	switch e {
	case ErrDNSNameHTTPSOnly, ErrICANNNameCollision, ErrNetworkChanged, ErrContextShutDown, ErrHostResolverQueueTooLarge:
		return true
	default:
		return false
	}
}
