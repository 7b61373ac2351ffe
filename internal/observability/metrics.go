package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Outcome labels for tewa_compute_runs_total.
const (
	OutcomeOK      = "ok"
	OutcomeInvalid = "invalid"
	OutcomeError   = "error"
)

// Metrics bundles the Prometheus collectors of the threat evaluation
// service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	ComputeRuns     *prometheus.CounterVec
	ComputePairs    prometheus.Counter
	SkippedTracks   prometheus.Counter
	ComputeDuration prometheus.Histogram

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	AlertsFired *prometheus.CounterVec
	WSClients   prometheus.Gauge
}

// NewMetrics registers the collectors against reg, defaulting to the global
// Prometheus registry when nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{gatherer: gatherer}
	var err error

	if m.ComputeRuns, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tewa_compute_runs_total",
		Help: "Compute calls, labeled by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if m.ComputePairs, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tewa_compute_pairs_total",
		Help: "Scored (track, defended asset) pairs.",
	})); err != nil {
		return nil, err
	}
	if m.SkippedTracks, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tewa_compute_skipped_tracks_total",
		Help: "Tracks skipped because no state could be resolved at the requested instant.",
	})); err != nil {
		return nil, err
	}
	if m.ComputeDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tewa_compute_duration_seconds",
		Help:    "Wall time of one compute call, persistence included.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})); err != nil {
		return nil, err
	}
	if m.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tewa_rpc_requests_total",
		Help: "Handled gRPC calls, labeled by service, method and status code.",
	}, []string{"service", "method", "code"})); err != nil {
		return nil, err
	}
	if m.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tewa_rpc_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"})); err != nil {
		return nil, err
	}
	if m.AlertsFired, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tewa_alerts_fired_total",
		Help: "Threat alerts fired, labeled by rule and severity.",
	}, []string{"rule", "severity"})); err != nil {
		return nil, err
	}
	if m.WSClients, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tewa_ws_clients",
		Help: "Connected threat-board WebSocket clients.",
	})); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveRun records one compute call.
func (m *Metrics) ObserveRun(outcome string, pairs, skipped int, d time.Duration) {
	if m == nil {
		return
	}
	m.ComputeRuns.WithLabelValues(outcome).Inc()
	m.ComputePairs.Add(float64(pairs))
	m.SkippedTracks.Add(float64(skipped))
	m.ComputeDuration.Observe(d.Seconds())
}

// AlertFired increments the alert counter.
func (m *Metrics) AlertFired(rule, severity string) {
	if m == nil {
		return
	}
	m.AlertsFired.WithLabelValues(rule, severity).Inc()
}

// SetWSClients sets the connected client gauge.
func (m *Metrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.WSClients.Set(float64(n))
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if m == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		m.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		m.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Handler serves the gathered metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		families, err := gatherer.Gather()
		if err != nil {
			slog.Warn("observability: gather failed", "err", err)
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range families {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("observability: encode failed", "family", mf.GetName(), "err", err)
				return
			}
		}
	})
}

// SplitMethod parses a fully-qualified gRPC method name into service and
// method, returning "unknown" for parts it cannot find.
func SplitMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service, method := parts[len(parts)-2], parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register registers c, returning the already-registered collector of the
// same type when one exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("observability: collector already registered with incompatible type: %w", err)
		}
		return c, fmt.Errorf("observability: register: %w", err)
	}
	return c, nil
}
