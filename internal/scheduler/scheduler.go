// Package scheduler registers the periodic OS trigger that runs the agent's
// backup command. POSIX hosts use the user crontab, Windows uses the Task
// Scheduler. Callers only see the Scheduler interface and errs.SchedulerError.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/rs/zerolog"
)

// BackupAction is the argument the trigger passes to the agent binary.
const BackupAction = "backup"

// Scheduler installs, removes and detects the periodic backup trigger.
type Scheduler interface {
	// Create (re)installs the trigger. It is idempotent.
	Create(ctx context.Context) error
	// Delete removes the trigger and reports whether one was found.
	Delete(ctx context.Context) (bool, error)
	// Exists reports whether a trigger invoking this agent is registered.
	Exists(ctx context.Context) (bool, error)
}

// Runner executes an external command, feeding stdin when non-nil, and
// returns its combined output.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// New selects the backend for the host OS.
func New(e *env.Environment, runner Runner, logger zerolog.Logger) Scheduler {
	if runner == nil {
		runner = ExecRunner{}
	}
	if e.IsWindows() {
		return NewTaskScheduler(e.Executable, runner, logger)
	}
	return NewCrontab(e.Executable, e.Hostname+e.Username, runner, logger)
}

func wrap(op string, err error, output []byte) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(string(output))
	if msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}
	return &errs.SchedulerError{Op: op, Err: err}
}
