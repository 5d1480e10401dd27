package hrconfig

import (
	"fmt"

	"hostresolve/pkg/hostcache"
	"hostresolve/pkg/policy"
)

// SecureDNSOverrideEngine evaluates a hostname against the configured
// secure_dns_overrides rules and returns the first matching rule's secure
// DNS mode, so a deployment can force individual hostnames to skip or
// require DoH regardless of the manager's DefaultSecureDNSMode.
type SecureDNSOverrideEngine struct {
	engine *policy.Engine
	modes  map[string]hostcache.SecureDNSMode
}

// NewSecureDNSOverrideEngine compiles the configured override rules.
func NewSecureDNSOverrideEngine(rules []SecureDNSRule) (*SecureDNSOverrideEngine, error) {
	engine := policy.NewEngine()
	modes := make(map[string]hostcache.SecureDNSMode, len(rules))

	for _, r := range rules {
		mode, err := secureDNSMode(r.Mode)
		if err != nil {
			return nil, fmt.Errorf("secure_dns_overrides[%s]: %w", r.Name, err)
		}
		if err := engine.AddRule(&policy.Rule{
			Name:    r.Name,
			Logic:   r.Logic,
			Action:  r.Mode,
			Enabled: r.Enabled,
		}); err != nil {
			return nil, fmt.Errorf("secure_dns_overrides[%s]: %w", r.Name, err)
		}
		modes[r.Name] = mode
	}

	return &SecureDNSOverrideEngine{engine: engine, modes: modes}, nil
}

// Resolve evaluates hostname (and, when known, the query type) against the
// override rules and reports the forced mode from the first enabled rule
// that matches, if any.
func (e *SecureDNSOverrideEngine) Resolve(hostname, queryType string) (hostcache.SecureDNSMode, bool) {
	if e == nil || e.engine.Count() == 0 {
		return 0, false
	}
	matched, rule := e.engine.Evaluate(policy.NewContext(hostname, "", queryType))
	if !matched {
		return 0, false
	}
	mode, ok := e.modes[rule.Name]
	return mode, ok
}
