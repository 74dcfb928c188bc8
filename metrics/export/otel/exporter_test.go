package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/travelmate/authgate"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[authgate.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authgate.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authgate.MetricsSnapshot{
		Counters:   make(map[authgate.MetricID]uint64, len(f.counters)),
		Histograms: map[authgate.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[authgate.MetricLoginLatency] = append([]uint64(nil), f.latency...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestExporterPublishesSnapshot(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{
		counters: map[authgate.MetricID]uint64{authgate.MetricLoginSuccess: 3},
		latency:  []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped:  1,
	}

	exp, err := NewExporter(provider.Meter("authgate-test"), src)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	got := collect(t, reader)
	sum, ok := got["authgate_login_success_total"].Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 3 {
		t.Fatalf("login success = %+v", got["authgate_login_success_total"].Data)
	}
	buckets, ok := got["authgate_login_latency_seconds_bucket"].Data.(metricdata.Gauge[int64])
	if !ok || len(buckets.DataPoints) != 8 {
		t.Fatalf("latency buckets = %+v", got["authgate_login_latency_seconds_bucket"].Data)
	}
	var inf int64 = -1
	for _, dp := range buckets.DataPoints {
		if v, ok := dp.Attributes.Value("le"); ok && v.AsString() == "+Inf" {
			inf = dp.Value
		}
	}
	if inf != 8 {
		t.Fatalf("+Inf bucket = %d", inf)
	}
	dropped, ok := got["authgate_audit_dropped_total"].Data.(metricdata.Sum[int64])
	if !ok || dropped.DataPoints[0].Value != 1 {
		t.Fatalf("audit dropped = %+v", got["authgate_audit_dropped_total"].Data)
	}
}

func TestExporterSkipsDisabledHistogram(t *testing.T) {
	reader, provider := newMeter()
	exp, err := NewExporter(provider.Meter("authgate-test"), &fakeSource{})
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if m, ok := got["authgate_login_latency_seconds_bucket"]; ok {
		if g, _ := m.Data.(metricdata.Gauge[int64]); len(g.DataPoints) != 0 {
			t.Fatalf("expected no bucket points, got %+v", g.DataPoints)
		}
	}
}

func TestExporterRejectsNil(t *testing.T) {
	_, provider := newMeter()
	if _, err := NewExporter(provider.Meter("authgate-test"), nil); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := NewExporter(nil, &fakeSource{}); err == nil {
		t.Fatal("expected error for nil meter")
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newMeter()
	src := &fakeSource{counters: map[authgate.MetricID]uint64{authgate.MetricLoginSuccess: 1}}

	exp, err := NewExporter(provider.Meter("authgate-test"), src)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[authgate.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
