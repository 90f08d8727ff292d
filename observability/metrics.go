// Package observability exports Prometheus metrics and structured-logging
// setup for the staking engine.
package observability

import (
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records position-engine activity. It satisfies the engine's
// Metrics interface.
type EngineMetrics struct {
	opens  *prometheus.CounterVec
	closes *prometheus.CounterVec
	loops  *prometheus.HistogramVec
	fees   prometheus.Counter
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Engine returns the lazily-initialised metrics registry for the position
// engine.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			opens: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loopstake",
				Subsystem: "engine",
				Name:      "opens_total",
				Help:      "Total open invocations segmented by outcome.",
			}, []string{"outcome"}),
			closes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loopstake",
				Subsystem: "engine",
				Name:      "closes_total",
				Help:      "Total close invocations segmented by outcome.",
			}, []string{"outcome"}),
			loops: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "loopstake",
				Subsystem: "engine",
				Name:      "loop_iterations",
				Help:      "Pool-facing loop iterations consumed per invocation.",
				Buckets:   []float64{0, 1, 2, 3, 4, 5},
			}, []string{"operation"}),
			fees: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loopstake",
				Subsystem: "engine",
				Name:      "fees_collected_wei",
				Help:      "Cumulative entry and exit fees in wei.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.opens,
			engineRegistry.closes,
			engineRegistry.loops,
			engineRegistry.fees,
		)
	})
	return engineRegistry
}

// RecordOpen counts one open invocation and its loop consumption.
func (m *EngineMetrics) RecordOpen(outcome string, loops int) {
	if m == nil {
		return
	}
	m.opens.WithLabelValues(outcome).Inc()
	m.loops.WithLabelValues("open").Observe(float64(loops))
}

// RecordClose counts one close invocation and its loop consumption.
func (m *EngineMetrics) RecordClose(outcome string, loops int) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(outcome).Inc()
	m.loops.WithLabelValues("close").Observe(float64(loops))
}

// AddFees accumulates collected fees. Precision above float64 is acceptable
// to lose here; the ledger remains the source of truth.
func (m *EngineMetrics) AddFees(wei *uint256.Int) {
	if m == nil || wei == nil || wei.IsZero() {
		return
	}
	value, _ := new(big.Float).SetInt(wei.ToBig()).Float64()
	m.fees.Add(value)
}
