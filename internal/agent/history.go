package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/status"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// DefaultHistoryRetention is how long finished runs are kept.
const DefaultHistoryRetention = 90 * 24 * time.Hour

// HistoryEntry is one recorded backup run.
type HistoryEntry struct {
	ID          uuid.UUID         `json:"id"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Result      status.ResultKind `json:"result"`
	Roots       []string          `json:"roots,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (e HistoryEntry) Duration() time.Duration {
	return e.CompletedAt.Sub(e.StartedAt)
}

// HistorySummary aggregates the recorded runs.
type HistorySummary struct {
	Total       int                       `json:"total"`
	ByResult    map[status.ResultKind]int `json:"by_result"`
	LastFailure *time.Time                `json:"last_failure,omitempty"`
}

// History stores backup runs in a local SQLite database.
type History struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenHistory opens or creates the history database at path.
func OpenHistory(path string, logger zerolog.Logger) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	h := &History{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	h.logger.Debug().Str("path", path).Msg("history database opened")
	return h, nil
}

func (h *History) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS backup_runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL,
			result TEXT NOT NULL,
			roots TEXT,
			error TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_backup_runs_started_at ON backup_runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_backup_runs_result ON backup_runs(result);
	`
	_, err := h.db.Exec(schema)
	return err
}

// RecordRun stores a finished run.
func (h *History) RecordRun(ctx context.Context, run backup.Run) error {
	id := run.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var roots sql.NullString
	if len(run.Roots) > 0 {
		data, err := json.Marshal(run.Roots)
		if err != nil {
			return fmt.Errorf("marshal roots: %w", err)
		}
		roots = sql.NullString{String: string(data), Valid: true}
	}

	var errMsg sql.NullString
	if run.Err != nil {
		errMsg = sql.NullString{String: run.Err.Error(), Valid: true}
	}

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO backup_runs (id, started_at, completed_at, result, roots, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		id.String(),
		run.StartedAt.UnixMilli(),
		run.CompletedAt.UnixMilli(),
		string(run.Result),
		roots,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("insert backup run: %w", err)
	}
	return nil
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (h *History) List(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT id, started_at, completed_at, result, roots, error
		FROM backup_runs
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query backup runs: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			id, result         string
			started, completed int64
			roots, errMsg      sql.NullString
		)
		if err := rows.Scan(&id, &started, &completed, &result, &roots, &errMsg); err != nil {
			return nil, fmt.Errorf("scan backup run: %w", err)
		}

		entry := HistoryEntry{
			StartedAt:   time.UnixMilli(started),
			CompletedAt: time.UnixMilli(completed),
			Result:      status.ParseResultKind(result),
			Error:       errMsg.String,
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			h.logger.Warn().Str("id", id).Msg("skipping run with invalid id")
			continue
		}
		if roots.Valid {
			if err := json.Unmarshal([]byte(roots.String), &entry.Roots); err != nil {
				h.logger.Warn().Err(err).Str("id", id).Msg("invalid roots in history")
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Summary counts the recorded runs by result.
func (h *History) Summary(ctx context.Context) (*HistorySummary, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT result, COUNT(*) FROM backup_runs GROUP BY result`)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	summary := &HistorySummary{ByResult: map[status.ResultKind]int{}}
	for rows.Next() {
		var result string
		var n int
		if err := rows.Scan(&result, &n); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summary.ByResult[status.ParseResultKind(result)] += n
		summary.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	err = h.db.QueryRowContext(ctx,
		`SELECT MAX(completed_at) FROM backup_runs WHERE result = ?`, string(status.Failure)).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query last failure: %w", err)
	}
	if last.Valid {
		t := time.UnixMilli(last.Int64)
		summary.LastFailure = &t
	}
	return summary, nil
}

// Prune removes runs that started before now minus olderThan.
func (h *History) Prune(ctx context.Context, now time.Time, olderThan time.Duration) (int, error) {
	cutoff := now.Add(-olderThan).UnixMilli()
	res, err := h.db.ExecContext(ctx, `DELETE FROM backup_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune backup runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		h.logger.Debug().Int64("removed", n).Msg("pruned backup history")
	}
	return int(n), nil
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
