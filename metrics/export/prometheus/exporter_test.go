package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/travelmate/authgate"
)

type fakeSource struct {
	snapshot authgate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authgate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporter(fakeSource{snapshot: authgate.NewMetrics(authgate.MetricsConfig{}).Snapshot()})
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output, got:\n%s", got)
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := NewExporter(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{
				authgate.MetricLoginSuccess:   7,
				authgate.MetricSessionEvicted: 2,
			},
			Histograms: map[authgate.MetricID][]uint64{
				authgate.MetricLoginLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"authgate_login_success_total 7",
		"authgate_session_evicted_total 2",
		"authgate_rate_limit_hit_total 0",
		`authgate_login_latency_seconds_bucket{le="0.01"} 1`,
		`authgate_login_latency_seconds_bucket{le="+Inf"} 36`,
		"authgate_login_latency_seconds_count 36",
		"authgate_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestRenderFromEngine(t *testing.T) {
	cfg := authgate.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("test-signing-key-0123456789abcdef")
	cfg.Audit.Enabled = false
	engine, err := authgate.New().WithConfig(cfg).WithPrincipalProvider(authgate.NewMemoryPrincipals()).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	engine.Identify("not-a-token")

	rec := httptest.NewRecorder()
	NewExporter(engine).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "authgate_access_malformed_total 1") {
		t.Fatalf("engine counter missing:\n%s", rec.Body.String())
	}
}

func TestEscapeHelp(t *testing.T) {
	if got := escapeHelp("a\\b\nc"); got != `a\\b\nc` {
		t.Fatalf("escapeHelp = %q", got)
	}
}
