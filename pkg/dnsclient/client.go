// Package dnsclient implements the wire-level DNS and DNS-over-HTTPS
// transactions the DNS Task issues, grounded on the teacher's forwarder
// stack (connection pooling, round-robin upstream selection, circuit
// breaking) but reshaped around a single (hostname, record type) request
// instead of a full inbound query message.
package dnsclient

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"

	"hostresolve/pkg/forwarder"
	"hostresolve/pkg/logging"
)

// RRType is the subset of DNS record types the DNS Task requests.
type RRType int

const (
	TypeA RRType = iota
	TypeAAAA
	TypeHTTPS
)

func (t RRType) dnsType() uint16 {
	switch t {
	case TypeAAAA:
		return dns.TypeAAAA
	case TypeHTTPS:
		return dns.TypeHTTPS
	default:
		return dns.TypeA
	}
}

// Answer is a single resolved address with its record TTL.
type Answer struct {
	Addr netip.Addr
	TTL  time.Duration
}

// Result is what a Transaction hands back for one (hostname, type) query.
type Result struct {
	Answers       []Answer
	CanonicalName string
	NXDomain      bool
}

// Transaction is what the DNS Task drives; implementations may run over
// plaintext UDP/TCP (InsecureClient) or DNS-over-HTTPS (DoHClient).
type Transaction interface {
	Do(ctx context.Context, hostname string, qtype RRType) (Result, error)
}

// InsecureClient issues plaintext DNS queries against a pool of upstream
// servers, reusing the teacher's forwarder.UpstreamHealth circuit breaker
// and a pooled *dns.Client exactly as pkg/forwarder.Forwarder does.
type InsecureClient struct {
	logger    *logging.Logger
	upstreams []string
	health    *forwarder.UpstreamHealth
	pool      sync.Pool
	index     atomic.Uint32
	timeout   time.Duration
}

// NewInsecureClient builds an InsecureClient over upstreams (host:port),
// normalizing missing ports to 53.
func NewInsecureClient(upstreams []string, logger *logging.Logger, timeout time.Duration) *InsecureClient {
	normalized := make([]string, len(upstreams))
	for i, u := range upstreams {
		if _, _, err := net.SplitHostPort(u); err != nil {
			normalized[i] = net.JoinHostPort(u, "53")
		} else {
			normalized[i] = u
		}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	c := &InsecureClient{
		logger:    logger,
		upstreams: normalized,
		timeout:   timeout,
		health: forwarder.NewUpstreamHealth(normalized, forwarder.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			TimeoutSeconds:   30,
		}),
	}
	c.pool.New = func() any {
		return &dns.Client{Net: "udp", Timeout: timeout}
	}
	return c
}

func (c *InsecureClient) selectUpstream() (string, error) {
	n := len(c.upstreams)
	if n == 0 {
		return "", fmt.Errorf("dnsclient: no upstreams configured")
	}
	start := int(c.index.Add(1)) % n
	for i := 0; i < n; i++ {
		u := c.upstreams[(start+i)%n]
		if c.health == nil || c.health.IsHealthy(u) {
			return u, nil
		}
	}
	return c.upstreams[start], nil
}

// Do implements Transaction.
func (c *InsecureClient) Do(ctx context.Context, hostname string, qtype RRType) (Result, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), qtype.dnsType())
	msg.RecursionDesired = true

	upstream, err := c.selectUpstream()
	if err != nil {
		return Result{}, err
	}

	client := c.pool.Get().(*dns.Client)
	defer c.pool.Put(client)

	var resp *dns.Msg
	queryErr := error(nil)
	if breaker := c.health.GetBreaker(upstream); breaker != nil {
		queryErr = breaker.Call(func() error {
			var exchangeErr error
			resp, _, exchangeErr = client.ExchangeContext(ctx, msg, upstream)
			return exchangeErr
		})
	} else {
		resp, _, queryErr = client.ExchangeContext(ctx, msg, upstream)
	}
	if queryErr != nil {
		if c.logger != nil {
			c.logger.Debug("dns transaction failed", "upstream", upstream, "hostname", hostname, "error", queryErr)
		}
		return Result{}, queryErr
	}
	return parseResponse(resp), nil
}

func parseResponse(resp *dns.Msg) Result {
	if resp == nil {
		return Result{NXDomain: true}
	}
	if resp.Rcode == dns.RcodeNameError {
		return Result{NXDomain: true}
	}

	var res Result
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if addr, ok := netip.AddrFromSlice(rec.A.To4()); ok {
				res.Answers = append(res.Answers, Answer{Addr: addr, TTL: time.Duration(rec.Hdr.Ttl) * time.Second})
			}
		case *dns.AAAA:
			if addr, ok := netip.AddrFromSlice(rec.AAAA.To16()); ok {
				res.Answers = append(res.Answers, Answer{Addr: addr, TTL: time.Duration(rec.Hdr.Ttl) * time.Second})
			}
		case *dns.CNAME:
			res.CanonicalName = rec.Target
		}
	}
	return res
}
