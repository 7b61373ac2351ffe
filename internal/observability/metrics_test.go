package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// scrape serves the handler once and parses the text exposition.
func scrape(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(rr.Body.Bytes()))
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	return families
}

func TestObserveRun(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveRun(OutcomeOK, 6, 1, 20*time.Millisecond)
	m.ObserveRun(OutcomeInvalid, 0, 0, time.Millisecond)

	if got := testutil.ToFloat64(m.ComputeRuns.WithLabelValues(OutcomeOK)); got != 1 {
		t.Errorf("runs{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ComputePairs); got != 6 {
		t.Errorf("pairs = %v, want 6", got)
	}
	if got := testutil.ToFloat64(m.SkippedTracks); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}

	families := scrape(t, m)
	h, ok := families["tewa_compute_duration_seconds"]
	if !ok {
		t.Fatal("duration histogram missing from exposition")
	}
	if got := h.GetMetric()[0].GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("histogram sample_count = %d, want 2", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRun(OutcomeOK, 1, 0, time.Second)
	m.AlertFired("r", "critical")
	m.SetWSClients(3)
}

func TestUnaryInterceptorRecordsCode(t *testing.T) {
	m := newTestMetrics(t)
	interceptor := m.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/tewa.v1.ThreatService/Compute"}

	_, _ = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	_, _ = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "no scenario")
	})

	if got := testutil.ToFloat64(m.RPCRequests.WithLabelValues("ThreatService", "Compute", "OK")); got != 1 {
		t.Errorf("requests{OK} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RPCRequests.WithLabelValues("ThreatService", "Compute", "NotFound")); got != 1 {
		t.Errorf("requests{NotFound} = %v, want 1", got)
	}
}

func TestNewMetrics_ReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("first NewMetrics: %v", err)
	}
	b, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("second NewMetrics: %v", err)
	}
	a.ComputePairs.Add(2)
	if got := testutil.ToFloat64(b.ComputePairs); got != 2 {
		t.Errorf("second collector sees %v, want shared counter 2", got)
	}
}

func TestHandler_RejectsPost(t *testing.T) {
	m := newTestMetrics(t)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in, service, method string
	}{
		{"/tewa.v1.ThreatService/Rank", "ThreatService", "Rank"},
		{"", "unknown", "unknown"},
		{"/broken", "unknown", "unknown"},
	}
	for _, tt := range tests {
		s, m := SplitMethod(tt.in)
		if s != tt.service || m != tt.method {
			t.Errorf("SplitMethod(%q) = %q, %q", tt.in, s, m)
		}
	}
}
