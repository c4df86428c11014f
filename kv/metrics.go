package kv

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the Prometheus collectors of one Engine.
// A nil *metrics records nothing.
type metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	state      prometheus.Gauge
}

// WithMetrics registers engine metrics with reg:
//
//   - memvault_kv_operations_total{op,result}
//   - memvault_kv_operation_duration_seconds{op}
//   - memvault_kv_state (numeric State)
//
// Use prometheus.WrapRegistererWith to tell several engines apart.
// Default: no metrics
func WithMetrics(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) {
		m := &metrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "memvault",
				Subsystem: "kv",
				Name:      "operations_total",
				Help:      "Storage engine operations by result.",
			}, []string{"op", "result"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "memvault",
				Subsystem: "kv",
				Name:      "operation_duration_seconds",
				Help:      "Storage engine operation latency.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			}, []string{"op"}),
			state: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "memvault",
				Subsystem: "kv",
				Name:      "state",
				Help:      "Engine state: 0 uninitialized, 1 initializing, 2 ready, 3 failed, 4 closed.",
			}),
		}

		reg.MustRegister(m.operations, m.duration, m.state)
		e.metrics = m
	}
}

func (m *metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}

	result := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}

	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
