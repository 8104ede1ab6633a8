package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_BasicRegistration(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{name: "ingest requests", ok: IngestRequestsTotal != nil},
		{name: "forward duration", ok: ForwardDuration != nil},
		{name: "liveness reports", ok: LivenessReportsTotal != nil},
		{name: "heartbeats", ok: HeartbeatsTotal != nil},
		{name: "discovery registrations", ok: DiscoveryRegistrationsTotal != nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.ok {
				t.Fatalf("%s collector is nil", tt.name)
			}
		})
	}
}

func TestMetrics_IngestRequestsTotal(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		result string
		incN   int
	}{
		{name: "ok label", stream: "stream-a", result: "ok", incN: 1},
		{name: "failed label", stream: "stream-a", result: "failed", incN: 2},
		{name: "unknown stream label", stream: "ghost", result: "unknown_stream", incN: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(IngestRequestsTotal.WithLabelValues(tt.stream, tt.result))
			for i := 0; i < tt.incN; i++ {
				IngestRequestsTotal.WithLabelValues(tt.stream, tt.result).Inc()
			}
			after := testutil.ToFloat64(IngestRequestsTotal.WithLabelValues(tt.stream, tt.result))
			diff := after - before
			if diff != float64(tt.incN) {
				t.Fatalf("counter diff mismatch\nexpected: %#v\nactual: %#v", float64(tt.incN), diff)
			}
		})
	}
}

func TestMetrics_ForwardDuration(t *testing.T) {
	tests := []struct {
		name    string
		observe float64
	}{
		{name: "small", observe: 0.001},
		{name: "large", observe: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ForwardDuration.Observe(tt.observe)
			count := testutil.CollectAndCount(ForwardDuration)
			assert.Greater(t, count, 0, "histogram not collected; count=%#v", count)
		})
	}
}

func TestRegister_ServesMetrics(t *testing.T) {
	LivenessReportsTotal.WithLabelValues("missing").Inc()

	mux := http.NewServeMux()
	Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tigon_liveness_reports_total"))
}
