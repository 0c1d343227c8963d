// Package control exposes runtime metrics and debug probes for the relay,
// and loads its environment-driven configuration.
package control

import (
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the relay's Prometheus collector set.
type Metrics struct {
	InstanceID string

	SpoolLength       prometheus.Gauge
	ConnectedClients  prometheus.Gauge
	FillCompletions   prometheus.Counter
	DrainCompletions  prometheus.Counter
	SpliceErrors      prometheus.Counter
	RetentionTrims    prometheus.Counter
	HolePunchFailures prometheus.Counter
}

// NewMetrics constructs and registers a Metrics set against reg, labeling
// every collector with a fresh per-process instance id.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	instanceID := uuid.NewString()
	constLabels := prometheus.Labels{"instance": instanceID}

	m := &Metrics{
		InstanceID: instanceID,
		SpoolLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "jetrelay",
			Name:        "spool_length_bytes",
			Help:        "Current length of the append-only spool file.",
			ConstLabels: constLabels,
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "jetrelay",
			Name:        "connected_clients",
			Help:        "Number of clients currently registered with the delivery engine.",
			ConstLabels: constLabels,
		}),
		FillCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "jetrelay",
			Name:        "fill_completions_total",
			Help:        "Number of completed spool-to-pipe splice operations.",
			ConstLabels: constLabels,
		}),
		DrainCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "jetrelay",
			Name:        "drain_completions_total",
			Help:        "Number of completed pipe-to-socket splice operations.",
			ConstLabels: constLabels,
		}),
		SpliceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "jetrelay",
			Name:        "splice_errors_total",
			Help:        "Number of splice completions that failed for a reason other than a client hangup.",
			ConstLabels: constLabels,
		}),
		RetentionTrims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "jetrelay",
			Name:        "retention_trims_total",
			Help:        "Number of times the time index was trimmed for retention.",
			ConstLabels: constLabels,
		}),
		HolePunchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "jetrelay",
			Name:        "hole_punch_failures_total",
			Help:        "Number of retention-triggered hole-punch calls that failed.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		m.SpoolLength,
		m.ConnectedClients,
		m.FillCompletions,
		m.DrainCompletions,
		m.SpliceErrors,
		m.RetentionTrims,
		m.HolePunchFailures,
	)
	return m
}

// SetConnectedClients implements delivery.EngineMetrics.
func (m *Metrics) SetConnectedClients(n int) { m.ConnectedClients.Set(float64(n)) }

// IncFillCompletions implements delivery.EngineMetrics.
func (m *Metrics) IncFillCompletions() { m.FillCompletions.Inc() }

// IncDrainCompletions implements delivery.EngineMetrics.
func (m *Metrics) IncDrainCompletions() { m.DrainCompletions.Inc() }

// IncSpliceErrors implements delivery.EngineMetrics.
func (m *Metrics) IncSpliceErrors() { m.SpliceErrors.Inc() }

// IncRetentionTrims implements upstream.CopierMetrics.
func (m *Metrics) IncRetentionTrims() { m.RetentionTrims.Inc() }

// IncHolePunchFailures implements upstream.CopierMetrics.
func (m *Metrics) IncHolePunchFailures() { m.HolePunchFailures.Inc() }
