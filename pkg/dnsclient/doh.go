package dnsclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/miekg/dns"

	"hostresolve/pkg/logging"
)

// DoHClient issues DNS-over-HTTPS queries per RFC 8484, using the wire
// message format (application/dns-message) so the same dns.Msg encode/
// decode path as InsecureClient applies. Unlike InsecureClient it pools
// connections through net/http's transport instead of a dns.Client pool,
// since a DoH transaction is an HTTPS request, not a raw UDP/TCP exchange.
type DoHClient struct {
	logger   *logging.Logger
	endpoint string
	http     *http.Client
}

// NewDoHClient builds a client against a single DoH endpoint (e.g.
// "https://dns.google/dns-query").
func NewDoHClient(endpoint string, logger *logging.Logger, timeout time.Duration) *DoHClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DoHClient{
		logger:   logger,
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Do implements Transaction.
func (c *DoHClient) Do(ctx context.Context, hostname string, qtype RRType) (Result, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(hostname), qtype.dnsType())
	msg.RecursionDesired = true
	msg.Id = 0 // RFC 8484 recommends 0 for cacheable GET/POST requests

	packed, err := msg.Pack()
	if err != nil {
		return Result{}, fmt.Errorf("dnsclient: pack query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(packed))
	if err != nil {
		return Result{}, fmt.Errorf("dnsclient: build doh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := c.http.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("doh transaction failed", "endpoint", c.endpoint, "hostname", hostname, "error", err)
		}
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("dnsclient: doh endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("dnsclient: read doh response: %w", err)
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return Result{}, fmt.Errorf("dnsclient: unpack doh response: %w", err)
	}

	return parseResponse(reply), nil
}
