// Package metrics exports backup outcomes in the Prometheus text format for
// node_exporter's textfile collector.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var resultKinds = []status.ResultKind{status.Success, status.Failure, status.Interrupt}

// BackupMetrics is the metric set describing the last backup.
type BackupMetrics struct {
	LastBackupTimestamp  prometheus.Gauge
	LastSuccessTimestamp prometheus.Gauge
	LastResult           *prometheus.GaugeVec
	Duration             prometheus.Gauge
	Roots                prometheus.Gauge
	RunsTotal            *prometheus.CounterVec
}

// NewBackupMetrics creates the metric set and registers it with reg.
func NewBackupMetrics(reg prometheus.Registerer) (*BackupMetrics, error) {
	m := &BackupMetrics{
		LastBackupTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keldris_desktop",
			Name:      "last_backup_timestamp_seconds",
			Help:      "Unix time the last backup finished.",
		}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keldris_desktop",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup.",
		}),
		LastResult: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keldris_desktop",
			Name:      "last_backup_result",
			Help:      "1 for the result of the last backup, 0 otherwise.",
		}, []string{"result"}),
		Duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keldris_desktop",
			Name:      "last_backup_duration_seconds",
			Help:      "Wall time of the last backup.",
		}),
		Roots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "keldris_desktop",
			Name:      "last_backup_roots",
			Help:      "Number of roots transferred by the last backup.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keldris_desktop",
			Name:      "backup_runs_total",
			Help:      "Backups finished by this process, by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		m.LastBackupTimestamp, m.LastSuccessTimestamp, m.LastResult, m.Duration, m.Roots, m.RunsTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// Seed sets the gauges from a persisted status.
func (m *BackupMetrics) Seed(st status.Status) {
	if st.LastSuccessDate != nil {
		m.LastSuccessTimestamp.Set(float64(st.LastSuccessDate.Unix()))
	}
	if st.LastResult.IsTerminal() && st.LastResultDate != nil {
		m.LastBackupTimestamp.Set(float64(st.LastResultDate.Unix()))
		m.setResult(st.LastResult)
	}
}

// Observe updates the metrics from a finished run.
func (m *BackupMetrics) Observe(run backup.Run) {
	m.LastBackupTimestamp.Set(float64(run.CompletedAt.Unix()))
	if run.Result == status.Success {
		m.LastSuccessTimestamp.Set(float64(run.CompletedAt.Unix()))
	}
	m.setResult(run.Result)
	m.Duration.Set(run.CompletedAt.Sub(run.StartedAt).Seconds())
	m.Roots.Set(float64(len(run.Roots)))
	m.RunsTotal.WithLabelValues(string(run.Result)).Inc()
}

func (m *BackupMetrics) setResult(result status.ResultKind) {
	for _, k := range resultKinds {
		v := 0.0
		if k == result {
			v = 1
		}
		m.LastResult.WithLabelValues(string(k)).Set(v)
	}
}

// TextfileExporter rewrites a .prom file after every run.
type TextfileExporter struct {
	path     string
	registry *prometheus.Registry
	metrics  *BackupMetrics
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewTextfileExporter creates an exporter writing to path, seeded from st.
func NewTextfileExporter(path string, st status.Status, logger zerolog.Logger) (*TextfileExporter, error) {
	reg := prometheus.NewRegistry()
	m, err := NewBackupMetrics(reg)
	if err != nil {
		return nil, err
	}
	m.Seed(st)
	return &TextfileExporter{
		path:     path,
		registry: reg,
		metrics:  m,
		logger:   logger.With().Str("component", "metrics").Logger(),
	}, nil
}

// Metrics returns the exported metric set.
func (e *TextfileExporter) Metrics() *BackupMetrics { return e.metrics }

// RecordRun observes run and rewrites the textfile.
func (e *TextfileExporter) RecordRun(_ context.Context, run backup.Run) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.metrics.Observe(run)
	return e.write()
}

func (e *TextfileExporter) write() error {
	if err := os.MkdirAll(filepath.Dir(e.path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(e.path, e.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	e.logger.Debug().Str("path", e.path).Msg("metrics written")
	return nil
}
