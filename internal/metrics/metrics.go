// Package metrics exposes transfer activity as Prometheus collectors
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/curtbushko/zoom-to-vault/internal/transfer"
)

// Metrics observes the orchestrator and records transfer outcomes
type Metrics struct {
	registry *prometheus.Registry

	TransfersStarted  *prometheus.CounterVec
	TransfersFinished *prometheus.CounterVec
	TransfersActive   prometheus.Gauge
	BytesTransferred  *prometheus.CounterVec
	TransferDuration  *prometheus.HistogramVec
	SyncRuns          *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TransfersStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoom_vault_transfers_started_total",
				Help: "Total number of recording file transfers that opened a download",
			},
			[]string{"file_type"},
		),
		TransfersFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoom_vault_transfers_finished_total",
				Help: "Total number of recording file transfers by terminal state",
			},
			[]string{"file_type", "state"},
		),
		TransfersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zoom_vault_transfers_active",
				Help: "Number of transfers currently streaming",
			},
		),
		BytesTransferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoom_vault_bytes_transferred_total",
				Help: "Total number of bytes uploaded to the object store",
			},
			[]string{"file_type"},
		),
		TransferDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zoom_vault_transfer_duration_seconds",
				Help:    "Duration of transfers from download start to terminal state",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
			[]string{"state"},
		),
		SyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zoom_vault_sync_users_total",
				Help: "Total number of per-user sync runs by outcome",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.TransfersStarted,
		m.TransfersFinished,
		m.TransfersActive,
		m.BytesTransferred,
		m.TransferDuration,
		m.SyncRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TransferStarted implements transfer.Observer
func (m *Metrics) TransferStarted(snapshot transfer.Snapshot) {
	m.TransfersStarted.WithLabelValues(fileTypeLabel(snapshot.FileType)).Inc()
	m.TransfersActive.Inc()
}

// TransferFinished implements transfer.Observer
func (m *Metrics) TransferFinished(snapshot transfer.Snapshot) {
	fileType := fileTypeLabel(snapshot.FileType)
	state := snapshot.State.String()
	if snapshot.Skipped {
		state = "skipped"
	}
	m.TransfersFinished.WithLabelValues(fileType, state).Inc()

	if snapshot.StartedAt.IsZero() {
		return
	}
	m.TransfersActive.Dec()
	m.BytesTransferred.WithLabelValues(fileType).Add(float64(snapshot.BytesTransferred))
	m.TransferDuration.WithLabelValues(state).Observe(snapshot.FinishedAt.Sub(snapshot.StartedAt).Seconds())
}

// SyncFinished counts one per-user sync run
func (m *Metrics) SyncFinished(succeeded bool) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	m.SyncRuns.WithLabelValues(outcome).Inc()
}

func fileTypeLabel(fileType string) string {
	if fileType == "" {
		return "unknown"
	}
	return fileType
}
