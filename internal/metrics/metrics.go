package metrics

// In-process aggregation of diagnostic step timings for run reports

import (
	"math"
	"sort"
	"sync"
	"time"
)

// StepMetric is one completed (or failed) diagnostic step.
type StepMetric struct {
	Timestamp time.Time
	Step      string
	Opcode    string
	Success   bool
	Elapsed   time.Duration
	Responses int
	Error     string
}

// Sink collects step metrics and aggregates them.
type Sink struct {
	mu      sync.RWMutex
	metrics []StepMetric
}

// Summary contains aggregated statistics over all recorded steps.
type Summary struct {
	TotalSteps int                     `json:"total_steps"`
	Passed     int                     `json:"passed"`
	Failed     int                     `json:"failed"`
	MinMs      float64                 `json:"min_ms"`
	MaxMs      float64                 `json:"max_ms"`
	AvgMs      float64                 `json:"avg_ms"`
	P50Ms      float64                 `json:"p50_ms"`
	P90Ms      float64                 `json:"p90_ms"`
	P95Ms      float64                 `json:"p95_ms"`
	P99Ms      float64                 `json:"p99_ms"`
	Buckets    map[string]int          `json:"buckets,omitempty"`
	ByOpcode   map[string]*OpcodeStats `json:"by_opcode,omitempty"`
}

// OpcodeStats contains statistics for one opcode.
type OpcodeStats struct {
	Count  int     `json:"count"`
	Passed int     `json:"passed"`
	Failed int     `json:"failed"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	SumMs  float64 `json:"-"`
}

// NewSink creates an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Record appends a step metric.
func (s *Sink) Record(m StepMetric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
}

// GetMetrics returns a copy of all recorded metrics.
func (s *Sink) GetMetrics() []StepMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StepMetric, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// GetSummary aggregates everything recorded so far.
func (s *Sink) GetSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &Summary{
		Buckets:  make(map[string]int),
		ByOpcode: make(map[string]*OpcodeStats),
	}
	durations := make([]float64, 0, len(s.metrics))
	var sum float64

	for _, m := range s.metrics {
		summary.TotalSteps++
		stats, ok := summary.ByOpcode[m.Opcode]
		if !ok {
			stats = &OpcodeStats{}
			summary.ByOpcode[m.Opcode] = stats
		}
		stats.Count++

		if !m.Success {
			summary.Failed++
			stats.Failed++
			continue
		}
		summary.Passed++
		stats.Passed++

		ms := float64(m.Elapsed) / float64(time.Millisecond)
		if ms <= 0 {
			continue
		}
		durations = append(durations, ms)
		sum += ms
		incrementBucket(summary.Buckets, ms)
		if summary.MinMs == 0 || ms < summary.MinMs {
			summary.MinMs = ms
		}
		if ms > summary.MaxMs {
			summary.MaxMs = ms
		}
		if stats.MinMs == 0 || ms < stats.MinMs {
			stats.MinMs = ms
		}
		if ms > stats.MaxMs {
			stats.MaxMs = ms
		}
		stats.SumMs += ms
		stats.AvgMs = stats.SumMs / float64(stats.Passed)
	}

	if len(durations) > 0 {
		summary.AvgMs = sum / float64(len(durations))
	}
	p := computePercentiles(durations)
	summary.P50Ms, summary.P90Ms, summary.P95Ms, summary.P99Ms = p[0], p[1], p[2], p[3]
	return summary
}

func incrementBucket(buckets map[string]int, value float64) {
	switch {
	case value < 1:
		buckets["lt_1ms"]++
	case value < 5:
		buckets["1_5ms"]++
	case value < 10:
		buckets["5_10ms"]++
	case value < 50:
		buckets["10_50ms"]++
	case value < 100:
		buckets["50_100ms"]++
	case value < 500:
		buckets["100_500ms"]++
	default:
		buckets["gt_500ms"]++
	}
}

func computePercentiles(values []float64) [4]float64 {
	var result [4]float64
	if len(values) == 0 {
		return result
	}
	sort.Float64s(values)
	result[0] = percentile(values, 0.50)
	result[1] = percentile(values, 0.90)
	result[2] = percentile(values, 0.95)
	result[3] = percentile(values, 0.99)
	return result
}

func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
