// Package hrconfig loads and hot-reloads the YAML configuration for a
// resolvehost.Manager, per §6.1, plus the Mapped Host Resolver rule string
// and Stale Host Resolver options layered on top of it.
package hrconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hostresolve/pkg/hostcache"
	"hostresolve/pkg/mappedhost"
	"hostresolve/pkg/resolvehost"
	"hostresolve/pkg/stalehost"
)

// Config is the on-disk shape of a resolver deployment's configuration.
//
//nolint:fieldalignment // organized for readability
type Config struct {
	MaxConcurrentResolves     int              `yaml:"max_concurrent_resolves"`
	ReservedSlots             []int            `yaml:"reserved_slots"`
	NumPriorities             int              `yaml:"num_priorities"`
	MaxSystemRetryAttempts    int              `yaml:"max_system_retry_attempts"`
	InsecureDNSClientEnabled  bool             `yaml:"insecure_dns_client_enabled"`
	AdditionalDNSTypesEnabled bool             `yaml:"additional_dns_types_enabled"`
	CheckIPv6OnWifi           bool             `yaml:"check_ipv6_on_wifi"`
	CacheEnabled              bool             `yaml:"cache_enabled"`
	CacheCapacity             int              `yaml:"cache_capacity"`
	DefaultSecureDNSMode      string           `yaml:"default_secure_dns_mode"` // off|automatic|secure
	HTTPSSVCB                 HTTPSSVCBConfig  `yaml:"https_svcb"`
	SecureDNSOverrides        []SecureDNSRule  `yaml:"secure_dns_overrides"`
	MappedHostRules           string           `yaml:"mapped_host_rules"`
	StaleHost                 StaleHostConfig  `yaml:"stale_host"`
}

// HTTPSSVCBConfig mirrors resolvehost.HTTPSSVCBOptions, per §4.7.
type HTTPSSVCBConfig struct {
	Enable                   bool          `yaml:"enable"`
	InsecureExtraTimeMax     time.Duration `yaml:"insecure_extra_time_max"`
	InsecureExtraTimePercent int           `yaml:"insecure_extra_time_percent"`
	InsecureExtraTimeMin     time.Duration `yaml:"insecure_extra_time_min"`
	SecureExtraTimeMax       time.Duration `yaml:"secure_extra_time_max"`
	SecureExtraTimePercent   int           `yaml:"secure_extra_time_percent"`
	SecureExtraTimeMin       time.Duration `yaml:"secure_extra_time_min"`
}

// SecureDNSRule is one entry of a policy-engine-evaluated override that can
// force a hostname's secure DNS mode regardless of DefaultSecureDNSMode.
type SecureDNSRule struct {
	Name    string `yaml:"name"`
	Logic   string `yaml:"logic"` // expr-lang expression over policy.Context
	Mode    string `yaml:"mode"`  // off|automatic|secure
	Enabled bool   `yaml:"enabled"`
}

// StaleHostConfig configures the optional Stale Host Resolver wrapper.
type StaleHostConfig struct {
	Enabled                   bool          `yaml:"enabled"`
	Delay                     time.Duration `yaml:"delay"`
	MaxExpiredTime            time.Duration `yaml:"max_expired_time"`
	MaxStaleUses              int           `yaml:"max_stale_uses"`
	AllowOtherNetwork         bool          `yaml:"allow_other_network"`
	UseStaleOnNameNotResolved bool          `yaml:"use_stale_on_name_not_resolved"`
}

// Load reads and validates a Config from a YAML file, applying defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	// #nosec G304 - path is supplied by the operator via CLI flag or env.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hrconfig file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse hrconfig YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hrconfig validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults returns a Config with sensible defaults and no file.
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentResolves == 0 {
		c.MaxConcurrentResolves = 64
	}
	if c.NumPriorities == 0 {
		c.NumPriorities = 4
	}
	if len(c.ReservedSlots) == 0 {
		c.ReservedSlots = make([]int, c.NumPriorities)
	}
	if c.CacheEnabled && c.CacheCapacity == 0 {
		c.CacheCapacity = 1000
	}
	if c.DefaultSecureDNSMode == "" {
		c.DefaultSecureDNSMode = "off"
	}
	if c.HTTPSSVCB.Enable && c.HTTPSSVCB.InsecureExtraTimeMax == 0 {
		c.HTTPSSVCB.InsecureExtraTimeMax = 50 * time.Millisecond
	}
	if c.HTTPSSVCB.Enable && c.HTTPSSVCB.SecureExtraTimeMax == 0 {
		c.HTTPSSVCB.SecureExtraTimeMax = 50 * time.Millisecond
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.MaxConcurrentResolves <= 0 {
		return fmt.Errorf("max_concurrent_resolves must be > 0")
	}
	if c.NumPriorities <= 0 {
		return fmt.Errorf("num_priorities must be > 0")
	}
	if len(c.ReservedSlots) != c.NumPriorities {
		return fmt.Errorf("reserved_slots must have num_priorities (%d) entries, got %d", c.NumPriorities, len(c.ReservedSlots))
	}
	if _, err := secureDNSMode(c.DefaultSecureDNSMode); err != nil {
		return fmt.Errorf("default_secure_dns_mode: %w", err)
	}
	for _, rule := range c.SecureDNSOverrides {
		if _, err := secureDNSMode(rule.Mode); err != nil {
			return fmt.Errorf("secure_dns_overrides[%s]: %w", rule.Name, err)
		}
	}
	if c.StaleHost.MaxStaleUses < 0 {
		return fmt.Errorf("stale_host.max_stale_uses must be >= 0")
	}
	if _, err := mappedhost.ParseRules(c.MappedHostRules); err != nil {
		return fmt.Errorf("mapped_host_rules: %w", err)
	}
	return nil
}

func secureDNSMode(s string) (hostcache.SecureDNSMode, error) {
	switch s {
	case "", "off":
		return hostcache.SecureDNSOff, nil
	case "automatic":
		return hostcache.SecureDNSAutomatic, nil
	case "secure":
		return hostcache.SecureDNSSecure, nil
	default:
		return 0, fmt.Errorf("unknown secure DNS mode %q (want off, automatic, or secure)", s)
	}
}

// ManagerOptions translates Config into resolvehost.Options.
func (c *Config) ManagerOptions() resolvehost.Options {
	mode, _ := secureDNSMode(c.DefaultSecureDNSMode) // validated by Load/Validate
	return resolvehost.Options{
		MaxConcurrentResolves:     c.MaxConcurrentResolves,
		ReservedSlots:             append([]int(nil), c.ReservedSlots...),
		NumPriorities:             c.NumPriorities,
		MaxSystemRetryAttempts:    c.MaxSystemRetryAttempts,
		InsecureDNSClientEnabled:  c.InsecureDNSClientEnabled,
		AdditionalDNSTypesEnabled: c.AdditionalDNSTypesEnabled,
		CheckIPv6OnWifi:           c.CheckIPv6OnWifi,
		HTTPSSVCBOptions: resolvehost.HTTPSSVCBOptions{
			Enable:                   c.HTTPSSVCB.Enable,
			InsecureExtraTimeMax:     c.HTTPSSVCB.InsecureExtraTimeMax,
			InsecureExtraTimePercent: c.HTTPSSVCB.InsecureExtraTimePercent,
			InsecureExtraTimeMin:     c.HTTPSSVCB.InsecureExtraTimeMin,
			SecureExtraTimeMax:       c.HTTPSSVCB.SecureExtraTimeMax,
			SecureExtraTimePercent:   c.HTTPSSVCB.SecureExtraTimePercent,
			SecureExtraTimeMin:       c.HTTPSSVCB.SecureExtraTimeMin,
		},
		CacheEnabled:         c.CacheEnabled,
		CacheCapacity:        cacheCapacity(c),
		DefaultSecureDNSMode: mode,
	}
}

func cacheCapacity(c *Config) int {
	if !c.CacheEnabled {
		return 0
	}
	return c.CacheCapacity
}

// MappedHostRulesParsed parses the configured rule string.
func (c *Config) MappedHostRulesParsed() ([]mappedhost.Rule, error) {
	return mappedhost.ParseRules(c.MappedHostRules)
}

// StaleHostOptions translates Config into stalehost.Options.
func (c *Config) StaleHostOptions() stalehost.Options {
	return stalehost.Options{
		Delay:                     c.StaleHost.Delay,
		MaxExpiredTime:            c.StaleHost.MaxExpiredTime,
		MaxStaleUses:              c.StaleHost.MaxStaleUses,
		AllowOtherNetwork:         c.StaleHost.AllowOtherNetwork,
		UseStaleOnNameNotResolved: c.StaleHost.UseStaleOnNameNotResolved,
	}
}
