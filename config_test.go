package authgate

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/travelmate/authgate/quota"
)

func TestDefaultConfigNeedsOnlyAKey(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing signing key to fail validation")
	}
	cfg.JWT.PrivateKey = testSigningKey
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with key: %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero access ttl", func(c *Config) { c.JWT.AccessTTL = 0 }},
		{"bad ip policy", func(c *Config) { c.Quota.IP = quota.Policy{} }},
		{"endpoint without slash", func(c *Config) {
			c.Quota.Endpoints = append(c.Quota.Endpoints, EndpointQuota{Prefix: "api", Policy: quota.PerMinute(1)})
		}},
		{"duplicate endpoint", func(c *Config) {
			c.Quota.Endpoints = append(c.Quota.Endpoints, EndpointQuota{Prefix: "/api/users/login", Policy: quota.PerMinute(1)})
		}},
		{"zero attempts", func(c *Config) { c.Attempt.MaxAttempts = 0 }},
		{"zero window", func(c *Config) { c.Attempt.Window = 0 }},
		{"lockout threshold", func(c *Config) { c.Lockout.Threshold = 0 }},
		{"max devices", func(c *Config) { c.Session.MaxDevices = 0 }},
		{"session ttl", func(c *Config) { c.Session.TTL = -time.Second }},
		{"timeout", func(c *Config) { c.CollaboratorTimeout = 0 }},
		{"audit buffer", func(c *Config) { c.Audit.BufferSize = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Audit.Enabled = true
			tc.mut(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEndpointScopeLongestPrefix(t *testing.T) {
	table := newEndpointTable([]EndpointQuota{
		{Prefix: "/api/users", Policy: quota.PerMinute(50)},
		{Prefix: "/api/users/login", Policy: quota.PerMinute(5)},
	})
	cases := map[string]string{
		"/api/users/login":       "endpoint:/api/users/login",
		"/api/users/login/extra": "endpoint:/api/users/login",
		"/api/users/me":          "endpoint:/api/users",
		"/api/trips":             "",
	}
	for path, want := range cases {
		got, ok := table.match(path)
		if got != want || ok != (want != "") {
			t.Fatalf("match(%q) = %q,%v want %q", path, got, ok, want)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	locked := lockedError(90 * time.Second)
	if !errors.Is(locked, ErrAccountLocked) || errors.Is(locked, ErrTooManyAttempts) {
		t.Fatal("locked error should match only its own kind")
	}
	if locked.Status != http.StatusLocked || locked.Remaining != 90*time.Second {
		t.Fatalf("unexpected locked error %+v", locked)
	}
	if locked.Message != "account is locked, try again in 2 minute(s)" {
		t.Fatalf("message = %q", locked.Message)
	}

	cause := errors.New("redis down")
	ie := internalError(cause)
	if !errors.Is(ie, ErrInternal) || !errors.Is(ie, cause) {
		t.Fatal("internal error should match its kind and cause")
	}
	if KindOf(cause) != KindInternal || KindOf(ErrRateLimitExceeded) != KindRateLimitExceeded {
		t.Fatal("KindOf mismatch")
	}
	if ErrTooManyAttempts.Status != http.StatusTooManyRequests || ErrSessionInvalid.Status != http.StatusUnauthorized {
		t.Fatal("unexpected statuses")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Inc(MetricLoginSuccess)
	m.Add(MetricSessionRevoked, 3)
	m.Observe(MetricLoginLatency, 30*time.Millisecond)
	m.Observe(MetricLoginLatency, 2*time.Second)

	s := m.Snapshot()
	if s.Counters[MetricLoginSuccess] != 1 || s.Counters[MetricSessionRevoked] != 3 {
		t.Fatalf("unexpected counters %v", s.Counters)
	}
	h := s.Histograms[MetricLoginLatency]
	if h[2] != 1 || h[len(h)-1] != 1 {
		t.Fatalf("unexpected histogram %v", h)
	}

	off := NewMetrics(MetricsConfig{})
	off.Inc(MetricLoginSuccess)
	if off.Value(MetricLoginSuccess) != 0 {
		t.Fatal("disabled metrics should not count")
	}
}
