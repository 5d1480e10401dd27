package resolvehost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_String(t *testing.T) {
	assert.Equal(t, "OK", ErrOK.String())
	assert.Equal(t, "NAME_NOT_RESOLVED", ErrNameNotResolved.String())
	assert.Equal(t, "ICANN_NAME_COLLISION", ErrICANNNameCollision.String())
	assert.Contains(t, Error(999).String(), "UNKNOWN_ERROR")
}

func TestSquash_PassesThroughSafeSubset(t *testing.T) {
	for _, e := range []Error{ErrOK, ErrIOPending, ErrInternetDisconnected, ErrNameNotResolved, ErrDNSNameHTTPSOnly} {
		assert.Equal(t, e, Squash(e))
	}
}

func TestSquash_ReducesEverythingElseToNameNotResolved(t *testing.T) {
	for _, e := range []Error{ErrDNSCacheMiss, ErrDNSRequestCancelled, ErrHostResolverQueueTooLarge, ErrNetworkChanged, ErrContextShutDown, ErrICANNNameCollision} {
		assert.Equal(t, ErrNameNotResolved, Squash(e))
	}
}

func TestError_Fatal(t *testing.T) {
	for _, e := range []Error{ErrDNSNameHTTPSOnly, ErrICANNNameCollision, ErrNetworkChanged, ErrContextShutDown, ErrHostResolverQueueTooLarge} {
		assert.True(t, e.fatal(), e.String())
	}
	for _, e := range []Error{ErrOK, ErrDNSCacheMiss, ErrDNSRequestCancelled, ErrNameNotResolved} {
		assert.False(t, e.fatal(), e.String())
	}
}
