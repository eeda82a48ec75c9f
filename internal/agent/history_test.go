package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/status"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	h, err := OpenHistory(filepath.Join(t.TempDir(), "state", "history.db"), logger)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_RecordAndList(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	first := backup.Run{
		ID:          uuid.New(),
		StartedAt:   base,
		CompletedAt: base.Add(3 * time.Minute),
		Result:      status.Success,
		Roots:       []string{"/", "/mnt/data"},
	}
	second := backup.Run{
		StartedAt:   base.Add(time.Hour),
		CompletedAt: base.Add(time.Hour + time.Second),
		Result:      status.Failure,
		Err:         errors.New("connection refused"),
	}
	for _, run := range []backup.Run{first, second} {
		if err := h.RecordRun(ctx, run); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}

	entries, err := h.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	latest := entries[0]
	if latest.Result != status.Failure {
		t.Errorf("newest entry result = %s, want FAILURE", latest.Result)
	}
	if latest.Error != "connection refused" {
		t.Errorf("error = %q", latest.Error)
	}
	if latest.ID == uuid.Nil {
		t.Error("expected an id to be assigned")
	}

	oldest := entries[1]
	if oldest.ID != first.ID {
		t.Errorf("ID mismatch: got %s, want %s", oldest.ID, first.ID)
	}
	if len(oldest.Roots) != 2 || oldest.Roots[1] != "/mnt/data" {
		t.Errorf("roots = %v", oldest.Roots)
	}
	if oldest.Duration() != 3*time.Minute {
		t.Errorf("duration = %s, want 3m", oldest.Duration())
	}
	if !oldest.StartedAt.Equal(base) {
		t.Errorf("started at = %s, want %s", oldest.StartedAt, base)
	}

	limited, err := h.List(ctx, 1)
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected 1 entry, got %d", len(limited))
	}
}

func TestHistory_Summary(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	empty, err := h.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if empty.Total != 0 || empty.LastFailure != nil {
		t.Errorf("unexpected empty summary: %+v", empty)
	}

	results := []status.ResultKind{status.Success, status.Failure, status.Success, status.Interrupt, status.Failure}
	for i, r := range results {
		start := base.Add(time.Duration(i) * time.Hour)
		run := backup.Run{StartedAt: start, CompletedAt: start.Add(time.Minute), Result: r}
		if err := h.RecordRun(ctx, run); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}

	summary, err := h.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total != 5 {
		t.Errorf("total = %d, want 5", summary.Total)
	}
	if summary.ByResult[status.Success] != 2 || summary.ByResult[status.Failure] != 2 || summary.ByResult[status.Interrupt] != 1 {
		t.Errorf("by result = %v", summary.ByResult)
	}
	wantFailure := base.Add(4*time.Hour + time.Minute)
	if summary.LastFailure == nil || !summary.LastFailure.Equal(wantFailure) {
		t.Errorf("last failure = %v, want %s", summary.LastFailure, wantFailure)
	}
}

func TestHistory_Prune(t *testing.T) {
	h := openTestHistory(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{100 * 24 * time.Hour, 91 * 24 * time.Hour, 10 * 24 * time.Hour} {
		start := now.Add(-age)
		run := backup.Run{StartedAt: start, CompletedAt: start.Add(time.Minute), Result: status.Success}
		if err := h.RecordRun(ctx, run); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}

	removed, err := h.Prune(ctx, now, DefaultHistoryRetention)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	entries, err := h.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 remaining entry, got %d", len(entries))
	}
}
