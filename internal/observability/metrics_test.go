package observability

import (
	"testing"
	"time"

	"github.com/danmuck/setl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("coordinator", "GET", "/health", 200, 12*time.Millisecond)
	RecordGeneration(0, 3*time.Millisecond)
	RecordHaloRow(1, "up")
	RecordMatches(0, 0)
	RecordMatches(0, 2)
	RecordTransportMessage("halo_down")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	want := map[string]bool{
		"setl_http_requests_total":           false,
		"setl_http_request_duration_seconds": false,
		"setl_worker_generations_total":      false,
		"setl_worker_generation_seconds":     false,
		"setl_halo_rows_total":               false,
		"setl_matches_total":                 false,
		"setl_transport_messages_total":      false,
	}
	for _, mf := range families {
		if _, ok := want[mf.GetName()]; ok && len(mf.GetMetric()) > 0 {
			want[mf.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("metric %s not gathered", name)
		}
	}
}
