package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/status"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func resultValue(t *testing.T, vec *prometheus.GaugeVec, result status.ResultKind) float64 {
	t.Helper()
	return gaugeValue(t, vec.WithLabelValues(string(result)))
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, result status.ResultKind) float64 {
	t.Helper()
	var m dto.Metric
	if err := vec.WithLabelValues(string(result)).Write(&m); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestBackupMetrics_Observe(t *testing.T) {
	m, err := NewBackupMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("success sets both timestamps", func(t *testing.T) {
		m.Observe(backup.Run{
			StartedAt:   start,
			CompletedAt: start.Add(90 * time.Second),
			Result:      status.Success,
			Roots:       []string{"/"},
		})

		want := float64(start.Add(90 * time.Second).Unix())
		if got := gaugeValue(t, m.LastBackupTimestamp); got != want {
			t.Errorf("last backup = %f, want %f", got, want)
		}
		if got := gaugeValue(t, m.LastSuccessTimestamp); got != want {
			t.Errorf("last success = %f, want %f", got, want)
		}
		if got := gaugeValue(t, m.Duration); got != 90 {
			t.Errorf("duration = %f, want 90", got)
		}
		if got := resultValue(t, m.LastResult, status.Success); got != 1 {
			t.Errorf("success result = %f, want 1", got)
		}
	})

	t.Run("failure keeps last success", func(t *testing.T) {
		later := start.Add(time.Hour)
		m.Observe(backup.Run{StartedAt: later, CompletedAt: later.Add(time.Second), Result: status.Failure})

		if got := gaugeValue(t, m.LastSuccessTimestamp); got != float64(start.Add(90*time.Second).Unix()) {
			t.Errorf("last success moved to %f", got)
		}
		if got := resultValue(t, m.LastResult, status.Failure); got != 1 {
			t.Errorf("failure result = %f, want 1", got)
		}
		if got := resultValue(t, m.LastResult, status.Success); got != 0 {
			t.Errorf("success result = %f, want 0", got)
		}
		if got := counterValue(t, m.RunsTotal, status.Failure); got != 1 {
			t.Errorf("failure runs = %f, want 1", got)
		}
	})
}

func TestBackupMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewBackupMetrics(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewBackupMetrics(reg); err == nil {
		t.Fatal("expected error registering twice")
	}
}

func TestTextfileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "keldris.prom")
	success := time.Date(2026, 2, 27, 8, 0, 0, 0, time.UTC)
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)

	exp, err := NewTextfileExporter(path, status.Status{
		LastResult:      status.Success,
		LastResultDate:  &success,
		LastSuccessDate: &success,
	}, logger)
	if err != nil {
		t.Fatalf("failed to create exporter: %v", err)
	}

	if got := gaugeValue(t, exp.Metrics().LastSuccessTimestamp); got != float64(success.Unix()) {
		t.Errorf("seeded last success = %f, want %f", got, float64(success.Unix()))
	}

	start := success.Add(24 * time.Hour)
	err = exp.RecordRun(context.Background(), backup.Run{
		StartedAt:   start,
		CompletedAt: start.Add(time.Minute),
		Result:      status.Interrupt,
	})
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`keldris_desktop_last_backup_result{result="INTERRUPT"} 1`,
		`keldris_desktop_last_backup_result{result="SUCCESS"} 0`,
		`keldris_desktop_backup_runs_total{result="INTERRUPT"} 1`,
		"# TYPE keldris_desktop_last_success_timestamp_seconds gauge",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
}
