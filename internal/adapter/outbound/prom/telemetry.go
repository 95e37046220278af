// Package prom implements the telemetry sink on Prometheus metrics.
package prom

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agenticmail/toolgate/internal/domain/telemetry"
)

// TelemetrySink implements telemetry.Sink with Prometheus counters and
// histograms, plus an internal aggregate map backing the JSON snapshot
// endpoint. Record is lock-light and never returns an error.
type TelemetrySink struct {
	invocationsTotal *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	outputBytes      *prometheus.CounterVec

	mu    sync.Mutex
	stats map[string]telemetry.ToolStats
}

// NewTelemetrySink creates the sink and registers its metrics with reg.
func NewTelemetrySink(reg prometheus.Registerer) *TelemetrySink {
	return &TelemetrySink{
		invocationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "tool_invocations_total",
				Help:      "Total executed tool invocations",
			},
			[]string{"tool", "result"}, // result=success/failure
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgate",
				Name:      "tool_duration_seconds",
				Help:      "Tool execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		outputBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgate",
				Name:      "tool_output_bytes_total",
				Help:      "Total bytes of tool result content",
			},
			[]string{"tool"},
		),
		stats: make(map[string]telemetry.ToolStats),
	}
}

// Record aggregates one executed invocation.
func (s *TelemetrySink) Record(toolName, agentID string, duration time.Duration, success bool, outputSize int) {
	result := "success"
	if !success {
		result = "failure"
	}
	s.invocationsTotal.WithLabelValues(toolName, result).Inc()
	s.duration.WithLabelValues(toolName).Observe(duration.Seconds())
	s.outputBytes.WithLabelValues(toolName).Add(float64(outputSize))

	s.mu.Lock()
	st := s.stats[toolName]
	st.Calls++
	if success {
		st.Successes++
	} else {
		st.Failures++
	}
	st.TotalDurationMs += duration.Milliseconds()
	st.TotalOutputBytes += int64(outputSize)
	s.stats[toolName] = st
	s.mu.Unlock()
}

// Snapshot returns a copy of the per-tool aggregates.
func (s *TelemetrySink) Snapshot() map[string]telemetry.ToolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]telemetry.ToolStats, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out
}

// Compile-time interface verification.
var _ telemetry.Sink = (*TelemetrySink)(nil)
