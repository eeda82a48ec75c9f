// Package pidfile implements the advisory single-instance guard used by the
// backup process. The pid file is not an OS lock: the read-check-write window
// is accepted for a single-user desktop.
package pidfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/MacJediWizard/keldris-desktop/internal/fsutil"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessTable looks up and signals OS processes.
type ProcessTable interface {
	// Name returns the executable name of pid, or an error if it does not exist.
	Name(ctx context.Context, pid int32) (string, error)
	// Terminate asks pid to exit.
	Terminate(ctx context.Context, pid int32) error
}

// SystemProcesses is the ProcessTable of the running host.
type SystemProcesses struct{}

func (SystemProcesses) Name(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.NameWithContext(ctx)
}

func (SystemProcesses) Terminate(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return err
	}
	return p.TerminateWithContext(ctx)
}

// Guard owns one pid file.
type Guard struct {
	path       string
	executable string
	procs      ProcessTable
	pid        int32
	logger     zerolog.Logger

	mu   sync.Mutex
	held bool
}

// New creates a guard for path. executable is the process name expected
// behind a live pid; a recorded pid running anything else is treated as stale.
func New(path, executable string, procs ProcessTable, logger zerolog.Logger) *Guard {
	if procs == nil {
		procs = SystemProcesses{}
	}
	return &Guard{
		path:       path,
		executable: executable,
		procs:      procs,
		pid:        int32(os.Getpid()),
		logger:     logger.With().Str("component", "pidfile").Str("path", path).Logger(),
	}
}

// WithPID overrides the pid considered to be the current process.
func (g *Guard) WithPID(pid int32) *Guard {
	g.pid = pid
	return g
}

// Acquire records the current process in the pid file, failing with
// AlreadyRunningError if another live instance of the agent is recorded or
// this guard is already held.
func (g *Guard) Acquire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.held {
		return &errs.AlreadyRunningError{PID: g.pid}
	}
	if pid, ok := g.read(); ok && pid != g.pid && g.isAgent(ctx, pid) {
		return &errs.AlreadyRunningError{PID: pid}
	}

	if err := fsutil.WriteFileAtomic(g.path, []byte(strconv.Itoa(int(g.pid))+"\n"), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	g.held = true
	g.logger.Debug().Int32("pid", g.pid).Msg("pid file acquired")
	return nil
}

// Release removes the pid file if it still names the current process.
// Failures are logged only.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.held = false

	pid, ok := g.read()
	if ok && pid != g.pid {
		g.logger.Debug().Int32("pid", pid).Msg("pid file owned by another process, leaving it")
		return
	}
	if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.logger.Warn().Err(err).Msg("failed to remove pid file")
	}
}

// Find returns the pid of the live agent process recorded in the pid file.
func (g *Guard) Find(ctx context.Context) (int32, error) {
	pid, ok := g.read()
	if !ok || !g.isAgent(ctx, pid) {
		return 0, &errs.NotRunningError{}
	}
	return pid, nil
}

// Terminate signals the recorded agent process to stop.
func (g *Guard) Terminate(ctx context.Context) (int32, error) {
	pid, err := g.Find(ctx)
	if err != nil {
		return 0, err
	}
	if err := g.procs.Terminate(ctx, pid); err != nil {
		return pid, fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	g.logger.Info().Int32("pid", pid).Msg("termination requested")
	return pid, nil
}

func (g *Guard) read() (int32, bool) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.Warn().Err(err).Msg("cannot read pid file")
		}
		return 0, false
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 32)
	if err != nil || pid <= 0 {
		g.logger.Warn().Str("content", strings.TrimSpace(string(data))).Msg("ignoring invalid pid file")
		return 0, false
	}
	return int32(pid), true
}

func (g *Guard) isAgent(ctx context.Context, pid int32) bool {
	name, err := g.procs.Name(ctx, pid)
	if err != nil {
		return false
	}
	return sameExecutable(name, g.executable)
}

func sameExecutable(a, b string) bool {
	trim := func(s string) string {
		s = filepath.Base(strings.TrimSpace(s))
		return strings.TrimSuffix(strings.ToLower(s), ".exe")
	}
	return trim(a) != "" && trim(a) == trim(b)
}
