// Package status persists the outcome of the last backup run.
//
// The status file is the only channel between a running backup process and
// its observers (CLI status, the linker, the next scheduled run). It is
// replaced atomically and every field degrades to a safe default on read.
package status

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/fsutil"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// HeartbeatInterval is how often a running backup refreshes its RUNNING record.
const HeartbeatInterval = 5 * time.Second

// ResultKind is the outcome recorded for the last run.
type ResultKind string

const (
	HasNotRun ResultKind = "HAS_NOT_RUN"
	Running   ResultKind = "RUNNING"
	Success   ResultKind = "SUCCESS"
	Failure   ResultKind = "FAILURE"
	Interrupt ResultKind = "INTERRUPT"
	Stale     ResultKind = "STALE"
	Unknown   ResultKind = "UNKNOWN"
)

var validKinds = map[ResultKind]bool{
	HasNotRun: true,
	Running:   true,
	Success:   true,
	Failure:   true,
	Interrupt: true,
	Stale:     true,
	Unknown:   true,
}

// ParseResultKind parses a persisted result name. Unrecognized names map to Unknown.
func ParseResultKind(s string) ResultKind {
	k := ResultKind(strings.ToUpper(strings.TrimSpace(s)))
	if validKinds[k] {
		return k
	}
	return Unknown
}

// IsTerminal reports whether the kind marks a finished run.
func (k ResultKind) IsTerminal() bool {
	switch k {
	case Success, Failure, Interrupt:
		return true
	}
	return false
}

// Status is a snapshot of the status file.
type Status struct {
	LastResult      ResultKind
	LastResultDate  *time.Time
	LastSuccessDate *time.Time
}

// IsStale reports whether a RUNNING record has outlived its heartbeat: the
// writer is presumed dead when no refresh arrived for twice the interval.
func IsStale(s Status, now time.Time) bool {
	if s.LastResult != Running || s.LastResultDate == nil {
		return false
	}
	return now.Sub(*s.LastResultDate) > 2*HeartbeatInterval
}

// Effective returns the result to show to users, reinterpreting a stale
// RUNNING record as STALE.
func (s Status) Effective(now time.Time) ResultKind {
	if IsStale(s, now) {
		return Stale
	}
	return s.LastResult
}

// Store reads and writes the status file.
type Store struct {
	path   string
	clock  env.Clock
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewStore creates a status store backed by path.
func NewStore(path string, clock env.Clock, logger zerolog.Logger) *Store {
	if clock == nil {
		clock = env.RealClock{}
	}
	return &Store{
		path:   path,
		clock:  clock,
		logger: logger.With().Str("component", "status_store").Logger(),
	}
}

// Path returns the status file location.
func (s *Store) Path() string { return s.path }

// Load reads the current status. It never fails: a missing file means the
// agent has not run yet, and each unreadable field falls back on its own.
func (s *Store) Load() Status {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Status{LastResult: HasNotRun}
		}
		s.logger.Warn().Err(err).Msg("cannot read status file")
		return Status{LastResult: Unknown}
	}

	fields, err := parseFields(data)
	if err != nil {
		s.logger.Warn().Err(err).Int("readable_fields", len(fields)).Msg("status file is corrupted")
	}

	st := Status{LastResult: Unknown}
	if v, ok := fields["lastresult"]; ok {
		st.LastResult = ParseResultKind(v)
	} else if len(fields) == 0 && err == nil {
		st.LastResult = HasNotRun
	}
	st.LastResultDate = s.parseMillis(fields, "lastdate")
	st.LastSuccessDate = s.parseMillis(fields, "lastsuccess")
	return st
}

// parseFields decodes the flat key/value document. When the document as a
// whole does not parse, each line is decoded on its own so one bad line
// cannot hide the others; the returned error reports the corruption.
func parseFields(data []byte) (map[string]string, error) {
	var fields map[string]string
	docErr := yaml.Unmarshal(data, &fields)
	if docErr == nil {
		return fields, nil
	}

	fields = make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		var kv map[string]string
		if err := yaml.Unmarshal([]byte(trimmed), &kv); err != nil {
			continue
		}
		for k, v := range kv {
			fields[k] = v
		}
	}
	return fields, docErr
}

func (s *Store) parseMillis(fields map[string]string, key string) *time.Time {
	v, ok := fields[key]
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		s.logger.Warn().Str("field", key).Str("value", v).Msg("ignoring invalid status date")
		return nil
	}
	t := time.UnixMilli(ms)
	return &t
}

// SetLastStatus records result with the current time. The last success date
// only moves on SUCCESS; otherwise it is carried over from the file.
func (s *Store) SetLastStatus(result ResultKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(result, s.Load())
}

// Heartbeat records RUNNING unless a terminal status was written at or after
// since, in which case the run is already over and the write is skipped. It
// reports whether the record was written.
func (s *Store) Heartbeat(since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.Load()
	if prev.LastResult.IsTerminal() && prev.LastResultDate != nil && !prev.LastResultDate.Before(since) {
		s.logger.Debug().Str("result", string(prev.LastResult)).Msg("skipping heartbeat after terminal status")
		return false, nil
	}
	return true, s.write(Running, prev)
}

func (s *Store) write(result ResultKind, prev Status) error {
	now := s.clock.Now()
	doc := statusDocument{
		LastResult: string(result),
		LastDate:   now.UnixMilli(),
	}
	switch {
	case result == Success:
		doc.LastSuccess = now.UnixMilli()
	case prev.LastSuccessDate != nil:
		doc.LastSuccess = prev.LastSuccessDate.UnixMilli()
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	s.logger.Debug().Str("result", string(result)).Msg("status updated")
	return nil
}

type statusDocument struct {
	LastResult  string `yaml:"lastresult"`
	LastDate    int64  `yaml:"lastdate"`
	LastSuccess int64  `yaml:"lastsuccess,omitempty"`
}
