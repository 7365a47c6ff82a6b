package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkSummary(t *testing.T) {
	sink := NewSink()
	sink.Record(StepMetric{Step: "position", Opcode: "POSITION", Success: true, Elapsed: 5 * time.Millisecond})
	sink.Record(StepMetric{Step: "uptime", Opcode: "UPTIME", Success: true, Elapsed: 10 * time.Millisecond})
	sink.Record(StepMetric{Step: "mem_write", Opcode: "MEM_WRITE", Success: false, Error: "value mismatch"})

	summary := sink.GetSummary()
	if summary.TotalSteps != 3 {
		t.Fatalf("expected total 3, got %d", summary.TotalSteps)
	}
	if summary.Passed != 2 || summary.Failed != 1 {
		t.Fatalf("unexpected pass/fail counts: %d/%d", summary.Passed, summary.Failed)
	}
	if summary.MinMs != 5 || summary.MaxMs != 10 || summary.AvgMs != 7.5 {
		t.Fatalf("unexpected min/max/avg: %v/%v/%v", summary.MinMs, summary.MaxMs, summary.AvgMs)
	}
	if summary.P50Ms != 5 || summary.P99Ms != 10 {
		t.Fatalf("unexpected percentiles: p50=%v p99=%v", summary.P50Ms, summary.P99Ms)
	}
	if summary.Buckets["5_10ms"] != 1 || summary.Buckets["10_50ms"] != 1 {
		t.Fatalf("unexpected buckets: %v", summary.Buckets)
	}
	if stats := summary.ByOpcode["MEM_WRITE"]; stats == nil || stats.Failed != 1 {
		t.Fatalf("expected one MEM_WRITE failure, got %+v", stats)
	}
	if len(sink.GetMetrics()) != 3 {
		t.Fatalf("expected 3 recorded metrics")
	}
}

func TestSinkEmpty(t *testing.T) {
	summary := NewSink().GetSummary()
	if summary.TotalSteps != 0 || summary.P50Ms != 0 {
		t.Fatalf("empty sink should produce zero summary, got %+v", summary)
	}
}

func TestLinkMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLinkMetrics(reg)

	m.Frame("network", "forwarded")
	m.Frame("network", "forwarded")
	m.Frame("network", "self")
	m.AddBytes("out", 12)
	m.Overflow("mon0")
	m.Rejected("mon1")
	m.Step("POSITION", true, 20*time.Millisecond)
	m.Step("UPTIME", false, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("network", "forwarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("network", "self")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.TunnelBytes.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CaptureOverflow.WithLabelValues("mon0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InjectRejected.WithLabelValues("mon1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepsTotal.WithLabelValues("UPTIME", "fail")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StepDuration))
}

func TestLinkMetricsNilSafe(t *testing.T) {
	var m *LinkMetrics
	m.Frame("device", "decode")
	m.AddBytes("in", 4)
	m.Overflow("mon0")
	m.Rejected("mon0")
	m.Step("ATTEST", true, 0)
}

func TestServe(t *testing.T) {
	reg := NewRegistry()
	m := NewLinkMetrics(reg)
	m.Frame("stream", "forwarded")

	ctx, cancel := context.WithCancel(context.Background())
	addr, done, err := Serve(ctx, "127.0.0.1:0", "/metrics", reg)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `linkshim_bridge_frames_total{side="stream",verdict="forwarded"} 1`))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
