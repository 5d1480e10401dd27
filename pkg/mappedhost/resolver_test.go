package mappedhost

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostresolve/pkg/dnsclient"
	"hostresolve/pkg/hostcache"
	"hostresolve/pkg/resolvehost"
)

// stubTransport answers every DNS query with the same canned result,
// recording the hostnames it was asked to resolve.
type stubTransport struct {
	result dnsclient.Result
	err    error
	asked  []string
}

func (s *stubTransport) Do(ctx context.Context, hostname string, qtype dnsclient.RRType) (dnsclient.Result, error) {
	s.asked = append(s.asked, hostname)
	return s.result, s.err
}

func newResolverForTest(t *testing.T, transport dnsclient.Transaction, rules string) (*Resolver, *stubTransport) {
	t.Helper()
	st, ok := transport.(*stubTransport)
	require.True(t, ok)

	cache := hostcache.New(16, nil, nil)
	mgrOpts := resolvehost.Options{
		MaxConcurrentResolves:    4,
		ReservedSlots:            []int{0, 0, 0, 0},
		NumPriorities:            4,
		InsecureDNSClientEnabled: true,
		DefaultSecureDNSMode:     hostcache.SecureDNSOff,
	}
	mgr := resolvehost.NewManager(mgrOpts, cache, resolvehost.Collaborators{DNSClient: transport})

	rules2, err := ParseRules(rules)
	require.NoError(t, err)

	return New(mgr, rules2), st
}

func waitForCallback(t *testing.T, ch <-chan resolvehost.Error, timeout time.Duration) resolvehost.Error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callback")
		return 0
	}
}

func TestResolver_MapRuleRewritesHostBeforeResolving(t *testing.T) {
	addr := netip.MustParseAddr("10.1.0.1")
	transport := &stubTransport{result: dnsclient.Result{Answers: []dnsclient.Answer{{Addr: addr, TTL: time.Minute}}}}
	r, transport := newResolverForTest(t, transport, "MAP *.example.com internal.example.net")

	done := make(chan resolvehost.Error, 1)
	_, st := r.Resolve("http", "www.example.com", 80, resolvehost.Params{}, func(err resolvehost.Error) {
		done <- err
	})
	require.Equal(t, StatusPending, st)

	err := waitForCallback(t, done, time.Second)
	assert.Equal(t, resolvehost.ErrOK, err)
	require.Len(t, transport.asked, 1)
	assert.Equal(t, "internal.example.net", transport.asked[0])
}

func TestResolver_MapRuleWithPortOverridesPortOnly(t *testing.T) {
	addr := netip.MustParseAddr("10.1.0.2")
	transport := &stubTransport{result: dnsclient.Result{Answers: []dnsclient.Answer{{Addr: addr, TTL: time.Minute}}}}
	r, _ := newResolverForTest(t, transport, "MAP *.example.com internal.example.net:9000")

	done := make(chan resolvehost.Error, 1)
	req, st := r.Resolve("http", "www.example.com", 80, resolvehost.Params{}, func(err resolvehost.Error) {
		done <- err
	})
	require.Equal(t, StatusPending, st)
	err := waitForCallback(t, done, time.Second)
	assert.Equal(t, resolvehost.ErrOK, err)
	require.Len(t, req.GetAddressResults(), 1)
}

func TestResolver_NotFoundRuleFailsSynchronouslyWithoutNetwork(t *testing.T) {
	transport := &stubTransport{result: dnsclient.Result{Answers: []dnsclient.Answer{{Addr: netip.MustParseAddr("10.1.0.3"), TTL: time.Minute}}}}
	r, transport := newResolverForTest(t, transport, "MAP blocked.example.com ^NOTFOUND")

	req, st := r.Resolve("http", "blocked.example.com", 80, resolvehost.Params{}, func(resolvehost.Error) {
		t.Fatal("callback must never fire for a synchronous NOTFOUND")
	})
	require.Equal(t, StatusError, st)
	assert.Equal(t, resolvehost.ErrNameNotResolved, req.GetResolveErrorInfo())
	assert.Empty(t, transport.asked, "the inner resolver must never be reached")
}

func TestResolver_ExcludeRuleStopsFurtherMatchingAndPassesThrough(t *testing.T) {
	addr := netip.MustParseAddr("10.1.0.4")
	transport := &stubTransport{result: dnsclient.Result{Answers: []dnsclient.Answer{{Addr: addr, TTL: time.Minute}}}}
	r, transport := newResolverForTest(t, transport, "EXCLUDE keep.example.com, MAP *.example.com internal.example.net")

	done := make(chan resolvehost.Error, 1)
	_, st := r.Resolve("http", "keep.example.com", 80, resolvehost.Params{}, func(err resolvehost.Error) {
		done <- err
	})
	require.Equal(t, StatusPending, st)

	err := waitForCallback(t, done, time.Second)
	assert.Equal(t, resolvehost.ErrOK, err)
	require.Len(t, transport.asked, 1)
	assert.Equal(t, "keep.example.com", transport.asked[0], "EXCLUDE must leave the hostname unchanged")
}

func TestResolver_NoMatchingRulePassesHostnameThrough(t *testing.T) {
	addr := netip.MustParseAddr("10.1.0.5")
	transport := &stubTransport{result: dnsclient.Result{Answers: []dnsclient.Answer{{Addr: addr, TTL: time.Minute}}}}
	r, transport := newResolverForTest(t, transport, "MAP *.other.com internal.example.net")

	done := make(chan resolvehost.Error, 1)
	_, st := r.Resolve("http", "unrelated.example.com", 80, resolvehost.Params{}, func(err resolvehost.Error) {
		done <- err
	})
	require.Equal(t, StatusPending, st)

	err := waitForCallback(t, done, time.Second)
	assert.Equal(t, resolvehost.ErrOK, err)
	assert.Equal(t, "unrelated.example.com", transport.asked[0])
}
