package internaldefs

import (
	"strings"
	"testing"

	"github.com/travelmate/authgate"
)

func TestCounterDefsCoverEveryCounter(t *testing.T) {
	seen := make(map[authgate.MetricID]bool)
	names := make(map[string]bool)
	for _, def := range CounterDefs {
		if seen[def.ID] || names[def.Name] {
			t.Fatalf("duplicate definition %+v", def)
		}
		if !strings.HasPrefix(def.Name, "authgate_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	for id := authgate.MetricLoginSuccess; id < authgate.MetricLoginLatency; id++ {
		if !seen[id] {
			t.Fatalf("metric %d has no counter definition", id)
		}
	}
}

func TestHistogramBounds(t *testing.T) {
	got := HistogramBounds()
	if len(got) != BucketCount {
		t.Fatalf("len = %d, want %d", len(got), BucketCount)
	}
	if got[0] != "0.01" || got[len(got)-1] != "+Inf" {
		t.Fatalf("bounds = %v", got)
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets([]uint64{1, 2, 3})
	if len(got) != BucketCount {
		t.Fatalf("len = %d", len(got))
	}
	if got[0] != 1 || got[1] != 3 || got[2] != 6 || got[BucketCount-1] != 6 {
		t.Fatalf("cumulative = %v", got)
	}
}
