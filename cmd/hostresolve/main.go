// Command hostresolve is a one-shot CLI for the resolvehost Manager: it
// resolves a single hostname through the same Request/Job/Task machinery a
// long-running caller would drive, optionally layered with the Mapped Host
// Resolver or the Stale Host Resolver wrapper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"hostresolve/pkg/config"
	"hostresolve/pkg/dnsclient"
	"hostresolve/pkg/hostcache"
	"hostresolve/pkg/hrconfig"
	"hostresolve/pkg/logging"
	"hostresolve/pkg/mappedhost"
	"hostresolve/pkg/reachability"
	"hostresolve/pkg/resolvehost"
	"hostresolve/pkg/stalehost"
)

var (
	configPath  = flag.String("config", "", "Path to hrconfig YAML file (defaults applied if empty)")
	hostnameArg = flag.String("host", "", "Hostname to resolve (required)")
	scheme      = flag.String("scheme", "https", "URL scheme of the resolving context")
	port        = flag.Uint("port", 443, "Port of the resolving context")
	queryType   = flag.String("query-type", "A", "DNS query type: A, AAAA, or HTTPS")
	source      = flag.String("source", "any", "Allowed result source: any, system, dns, mdns, local")
	secureDNS   = flag.String("secure-dns", "allow", "Per-request secure DNS policy: allow, disable, bootstrap")
	upstreamDNS = flag.String("upstream-dns", "1.1.1.1:53,8.8.8.8:53", "Comma-separated plaintext DNS upstreams")
	dohEndpoint = flag.String("doh-endpoint", "", "DNS-over-HTTPS endpoint (disables secure DNS if empty)")
	timeout     = flag.Duration("timeout", 5*time.Second, "Overall resolution timeout")
	showVersion = flag.Bool("version", false, "Show version information and exit")

	version = "dev"
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("hostresolve\nVersion: %s\nGo Version: %s\n", version, runtime.Version())
		return
	}

	if strings.TrimSpace(*hostnameArg) == "" {
		fmt.Fprintln(os.Stderr, "Error: -host is required")
		flag.Usage()
		os.Exit(1)
	}

	logger, err := logging.New(&config.LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	hrc, err := loadHRConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load hrconfig: %v\n", err)
		os.Exit(1)
	}

	params, err := buildParams()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager, cache := buildManager(hrc, logger)

	resolveCtx, resolveCancel := context.WithTimeout(ctx, *timeout)
	defer resolveCancel()

	endpoints, resolveErr := resolve(resolveCtx, hrc, manager, *scheme, *hostnameArg, uint16(*port), params)

	logger.Info("resolution finished", "host", *hostnameArg, "cache_size", cache.Size())

	if resolveErr != nil {
		fmt.Fprintf(os.Stderr, "Resolution failed: %v\n", resolveErr)
		os.Exit(1)
	}
	for _, ep := range endpoints {
		fmt.Printf("%s:%d\n", ep.Addr, ep.Port)
	}
}

func loadHRConfig(path string) (*hrconfig.Config, error) {
	if path == "" {
		return hrconfig.LoadWithDefaults(), nil
	}
	return hrconfig.Load(path)
}

func buildManager(hrc *hrconfig.Config, logger *logging.Logger) (*resolvehost.Manager, *hostcache.Cache) {
	cache := hostcache.New(hrc.ManagerOptions().CacheCapacity, logger, nil)
	prober := reachability.NewDialProber(logger, 10*time.Second)

	upstreams := strings.Split(*upstreamDNS, ",")
	insecure := dnsclient.NewInsecureClient(upstreams, logger, *timeout)

	var secure dnsclient.Transaction
	if strings.TrimSpace(*dohEndpoint) != "" {
		secure = dnsclient.NewDoHClient(*dohEndpoint, logger, *timeout)
	}

	manager := resolvehost.NewManager(hrc.ManagerOptions(), cache, resolvehost.Collaborators{
		Prober:          prober,
		DNSClient:       insecure,
		SecureDNSClient: secure,
	})
	return manager, cache
}

func buildParams() (resolvehost.Params, error) {
	qt, err := parseQueryType(*queryType)
	if err != nil {
		return resolvehost.Params{}, err
	}
	src, err := parseSource(*source)
	if err != nil {
		return resolvehost.Params{}, err
	}
	policy, err := parseSecureDNSPolicy(*secureDNS)
	if err != nil {
		return resolvehost.Params{}, err
	}
	return resolvehost.Params{
		QueryType:       qt,
		Source:          src,
		SecureDNSPolicy: policy,
	}, nil
}

// resolve drives a single Resolve call, layered with at most one of the
// Mapped Host Resolver or the Stale Host Resolver per hrc's configuration
// (the two wrap a *resolvehost.Manager independently, so the CLI picks one
// rather than chaining them).
func resolve(ctx context.Context, hrc *hrconfig.Config, manager *resolvehost.Manager, scheme, host string, port uint16, params resolvehost.Params) ([]hostcache.Endpoint, error) {
	rules, err := hrc.MappedHostRulesParsed()
	if err != nil {
		return nil, fmt.Errorf("mapped host rules: %w", err)
	}

	switch {
	case hrc.StaleHost.Enabled:
		resolver := stalehost.New(manager, hrc.StaleHostOptions())
		done := make(chan resolvehost.Error, 1)
		req, st := resolver.Resolve(scheme, host, port, params, func(err resolvehost.Error) { done <- err })
		if st != stalehost.StatusPending {
			return finish(req.GetResolveErrorInfo(), req.GetAddressResults())
		}
		if err := waitForCompletion(ctx, done, req.Cancel); err != nil {
			return nil, err
		}
		return finish(req.GetResolveErrorInfo(), req.GetAddressResults())

	case len(rules) > 0:
		resolver := mappedhost.New(manager, rules)
		done := make(chan resolvehost.Error, 1)
		req, st := resolver.Resolve(scheme, host, port, params, func(err resolvehost.Error) { done <- err })
		if st != mappedhost.StatusPending {
			return finish(req.GetResolveErrorInfo(), req.GetAddressResults())
		}
		if err := waitForCompletion(ctx, done, req.Cancel); err != nil {
			return nil, err
		}
		return finish(req.GetResolveErrorInfo(), req.GetAddressResults())

	default:
		done := make(chan resolvehost.Error, 1)
		req, st := manager.Resolve(scheme, host, port, params, func(err resolvehost.Error) { done <- err })
		if st != resolvehost.StatusPending {
			return finish(req.GetResolveErrorInfo(), req.GetAddressResults())
		}
		if err := waitForCompletion(ctx, done, req.Cancel); err != nil {
			return nil, err
		}
		return finish(req.GetResolveErrorInfo(), req.GetAddressResults())
	}
}

// waitForCompletion blocks until done fires or ctx is cancelled, cancelling
// the request on timeout/signal so its callback never fires afterward.
func waitForCompletion(ctx context.Context, done <-chan resolvehost.Error, cancel func()) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func finish(err resolvehost.Error, addrs []hostcache.Endpoint) ([]hostcache.Endpoint, error) {
	if err != resolvehost.ErrOK {
		return nil, errors.New(err.String())
	}
	return addrs, nil
}

func parseQueryType(s string) (hostcache.QueryType, error) {
	switch strings.ToUpper(s) {
	case "A":
		return hostcache.QueryTypeA, nil
	case "AAAA":
		return hostcache.QueryTypeAAAA, nil
	case "HTTPS":
		return hostcache.QueryTypeHTTPS, nil
	default:
		return 0, fmt.Errorf("unknown query type %q (want A, AAAA, or HTTPS)", s)
	}
}

func parseSource(s string) (hostcache.Source, error) {
	switch strings.ToLower(s) {
	case "any":
		return hostcache.SourceAny, nil
	case "system":
		return hostcache.SourceSystem, nil
	case "dns":
		return hostcache.SourceDNS, nil
	case "mdns":
		return hostcache.SourceMDNS, nil
	case "local":
		return hostcache.SourceLocalOnly, nil
	default:
		return 0, fmt.Errorf("unknown source %q (want any, system, dns, mdns, or local)", s)
	}
}

func parseSecureDNSPolicy(s string) (resolvehost.SecureDNSPolicy, error) {
	switch strings.ToLower(s) {
	case "allow":
		return resolvehost.SecureDNSPolicyAllow, nil
	case "disable":
		return resolvehost.SecureDNSPolicyDisable, nil
	case "bootstrap":
		return resolvehost.SecureDNSPolicyBootstrap, nil
	default:
		return 0, fmt.Errorf("unknown secure DNS policy %q (want allow, disable, or bootstrap)", s)
	}
}
