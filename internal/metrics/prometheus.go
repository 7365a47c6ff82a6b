package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a private registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler exposing reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Serve exposes reg on addr until ctx is cancelled. It returns the bound
// address once listening so ":0" can be used in tests.
func Serve(ctx context.Context, addr, path string, reg *prometheus.Registry) (net.Addr, <-chan error, error) {
	if path == "" {
		path = "/metrics"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(path, Handler(reg))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return ln.Addr(), done, nil
}

// LinkMetrics holds the bridge, tunnel, radio and harness collectors. All
// methods are safe on a nil receiver so components can run without metrics.
type LinkMetrics struct {
	FramesTotal     *prometheus.CounterVec // labels: side, verdict
	TunnelBytes     *prometheus.CounterVec // labels: direction
	CaptureOverflow *prometheus.CounterVec // labels: iface
	InjectRejected  *prometheus.CounterVec // labels: iface
	StepsTotal      *prometheus.CounterVec // labels: opcode, result
	StepDuration    *prometheus.HistogramVec
}

// NewLinkMetrics registers and returns the linkshim collectors.
func NewLinkMetrics(reg *prometheus.Registry) *LinkMetrics {
	m := &LinkMetrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshim_bridge_frames_total",
			Help: "Frames received by the bridge, by side and verdict.",
		}, []string{"side", "verdict"}),
		TunnelBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshim_tunnel_bytes_total",
			Help: "Bytes crossing the frame tunnel, including length prefixes.",
		}, []string{"direction"}),
		CaptureOverflow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshim_capture_overflow_total",
			Help: "Captured frames dropped because the endpoint queue was full.",
		}, []string{"iface"}),
		InjectRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshim_inject_rejected_total",
			Help: "Frames not injected because the rate limit was exceeded.",
		}, []string{"iface"}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkshim_harness_steps_total",
			Help: "Diagnostic steps completed, by opcode and result.",
		}, []string{"opcode", "result"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkshim_harness_step_seconds",
			Help:    "Time from first request to final response per diagnostic step.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"opcode"}),
	}
	reg.MustRegister(m.FramesTotal, m.TunnelBytes, m.CaptureOverflow, m.InjectRejected, m.StepsTotal, m.StepDuration)
	return m
}

// Frame counts one bridge verdict.
func (m *LinkMetrics) Frame(side, verdict string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(side, verdict).Inc()
}

// AddBytes counts tunnel bytes. It satisfies tunnel.Counters.
func (m *LinkMetrics) AddBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.TunnelBytes.WithLabelValues(direction).Add(float64(n))
}

// Overflow counts one capture queue overflow.
func (m *LinkMetrics) Overflow(iface string) {
	if m == nil {
		return
	}
	m.CaptureOverflow.WithLabelValues(iface).Inc()
}

// Rejected counts one rate-limited injection.
func (m *LinkMetrics) Rejected(iface string) {
	if m == nil {
		return
	}
	m.InjectRejected.WithLabelValues(iface).Inc()
}

// Step records a finished diagnostic step.
func (m *LinkMetrics) Step(opcode string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "pass"
	if !success {
		result = "fail"
	}
	m.StepsTotal.WithLabelValues(opcode, result).Inc()
	m.StepDuration.WithLabelValues(opcode).Observe(elapsed.Seconds())
}
