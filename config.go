package authgate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/travelmate/authgate/attempt"
	"github.com/travelmate/authgate/jwt"
	"github.com/travelmate/authgate/quota"
	"github.com/travelmate/authgate/session"
)

// Quota scope names.
const (
	ScopeIP        = "ip"
	ScopePrincipal = "principal"
	// endpointScopePrefix is prepended to an endpoint path prefix to form its scope name.
	endpointScopePrefix = "endpoint:"
)

// Config is the engine configuration.
type Config struct {
	JWT     jwt.Config
	Quota   QuotaConfig
	Attempt attempt.Config
	Lockout attempt.LockoutConfig
	Session session.Config

	// CollaboratorTimeout bounds every call to a store, the principal
	// provider or the notifier.
	CollaboratorTimeout time.Duration
	// MaintenanceIdleHorizon is how long a quota bucket may stay untouched
	// before RunMaintenance evicts it.
	MaintenanceIdleHorizon time.Duration
	// KeyPrefix namespaces Redis keys when the builder is given a Redis client.
	KeyPrefix string

	Audit   AuditConfig
	Notify  NotifyConfig
	Metrics MetricsConfig
}

// QuotaConfig holds the default scope policies and endpoint overrides.
type QuotaConfig struct {
	IP        quota.Policy
	Principal quota.Policy
	// Endpoints are matched by longest path prefix and keyed by client IP.
	Endpoints []EndpointQuota
}

// EndpointQuota narrows the quota of requests whose path starts with Prefix.
type EndpointQuota struct {
	Prefix string
	Policy quota.Policy
}

// AuditConfig controls the asynchronous audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// NotifyConfig controls asynchronous anomaly notifications.
type NotifyConfig struct {
	BufferSize int
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT.PrivateKey must still be set.
func DefaultConfig() Config {
	return Config{
		JWT: jwt.Config{
			AccessTTL:     15 * time.Minute,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "travelmate",
		},
		Quota: QuotaConfig{
			IP:        quota.PerMinute(200),
			Principal: quota.PerMinute(100),
			Endpoints: []EndpointQuota{
				{Prefix: "/api/users/login", Policy: quota.PerMinute(5)},
				{Prefix: "/api/users/register", Policy: quota.PerMinute(3)},
				{Prefix: "/api/users/shake", Policy: quota.PerMinute(20)},
				{Prefix: "/api/chat/rooms", Policy: quota.PerMinute(30)},
				{Prefix: "/api/travel-groups", Policy: quota.PerMinute(10)},
			},
		},
		Attempt:                attempt.DefaultConfig(),
		Lockout:                attempt.DefaultLockoutConfig(),
		Session:                session.DefaultConfig(),
		CollaboratorTimeout:    3 * time.Second,
		MaintenanceIdleHorizon: 10 * time.Minute,
		KeyPrefix:              "authgate",
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Notify:  NotifyConfig{BufferSize: 256},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if len(c.JWT.PrivateKey) == 0 && len(c.JWT.PublicKey) == 0 {
		return errors.New("JWT requires a signing key")
	}

	if err := c.Quota.IP.Validate(); err != nil {
		return fmt.Errorf("Quota IP: %w", err)
	}
	if err := c.Quota.Principal.Validate(); err != nil {
		return fmt.Errorf("Quota Principal: %w", err)
	}
	seen := make(map[string]bool, len(c.Quota.Endpoints))
	for _, ep := range c.Quota.Endpoints {
		if !strings.HasPrefix(ep.Prefix, "/") {
			return fmt.Errorf("Quota endpoint %q must start with /", ep.Prefix)
		}
		if seen[ep.Prefix] {
			return fmt.Errorf("Quota endpoint %q configured twice", ep.Prefix)
		}
		seen[ep.Prefix] = true
		if err := ep.Policy.Validate(); err != nil {
			return fmt.Errorf("Quota endpoint %q: %w", ep.Prefix, err)
		}
	}

	if c.Attempt.MaxAttempts < 1 {
		return errors.New("Attempt MaxAttempts must be >= 1")
	}
	if c.Attempt.Window <= 0 {
		return errors.New("Attempt Window must be > 0")
	}
	if c.Attempt.KnownOriginTTL <= 0 {
		return errors.New("Attempt KnownOriginTTL must be > 0")
	}
	if c.Lockout.Enabled {
		if c.Lockout.Threshold < 1 {
			return errors.New("Lockout Threshold must be >= 1")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
	}

	if c.Session.MaxDevices < 1 {
		return errors.New("Session MaxDevices must be >= 1")
	}
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}

	if c.CollaboratorTimeout <= 0 {
		return errors.New("CollaboratorTimeout must be > 0")
	}
	if c.MaintenanceIdleHorizon <= 0 {
		return errors.New("MaintenanceIdleHorizon must be > 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	return nil
}

// endpointTable resolves request paths to endpoint scopes.
type endpointTable struct {
	// prefixes sorted by length, longest first
	prefixes []string
}

func newEndpointTable(eps []EndpointQuota) endpointTable {
	t := endpointTable{prefixes: make([]string, 0, len(eps))}
	for _, ep := range eps {
		t.prefixes = append(t.prefixes, ep.Prefix)
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i]) != len(t.prefixes[j]) {
			return len(t.prefixes[i]) > len(t.prefixes[j])
		}
		return t.prefixes[i] < t.prefixes[j]
	})
	return t
}

func (t endpointTable) match(path string) (string, bool) {
	for _, p := range t.prefixes {
		if strings.HasPrefix(path, p) {
			return endpointScopePrefix + p, true
		}
	}
	return "", false
}
