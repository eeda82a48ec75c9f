package scheduler

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// TaskName is the Windows scheduled task registered for the agent.
const TaskName = "Keldris Desktop Backup"

// TaskScheduler manages an hourly Windows scheduled task. The orchestrator
// decides on each invocation whether a backup is actually due.
type TaskScheduler struct {
	executable string
	runner     Runner
	logger     zerolog.Logger
}

// NewTaskScheduler creates a Task Scheduler backend for executable.
func NewTaskScheduler(executable string, runner Runner, logger zerolog.Logger) *TaskScheduler {
	return &TaskScheduler{
		executable: executable,
		runner:     runner,
		logger:     logger.With().Str("component", "task_scheduler").Logger(),
	}
}

func (s *TaskScheduler) Create(ctx context.Context) error {
	action := `"` + s.executable + `" ` + BackupAction
	out, err := s.runner.Run(ctx, nil, "schtasks",
		"/create", "/f", "/sc", "HOURLY", "/tn", TaskName, "/tr", action)
	if err != nil {
		return wrap("create", err, out)
	}
	s.logger.Info().Str("task", TaskName).Msg("scheduled task installed")
	return nil
}

func (s *TaskScheduler) Delete(ctx context.Context) (bool, error) {
	exists, err := s.Exists(ctx)
	if err != nil || !exists {
		return false, err
	}
	out, err := s.runner.Run(ctx, nil, "schtasks", "/delete", "/f", "/tn", TaskName)
	if err != nil {
		return false, wrap("delete", err, out)
	}
	s.logger.Info().Str("task", TaskName).Msg("scheduled task removed")
	return true, nil
}

func (s *TaskScheduler) Exists(ctx context.Context) (bool, error) {
	out, err := s.runner.Run(ctx, nil, "schtasks", "/query", "/tn", TaskName, "/fo", "LIST", "/v")
	if err != nil {
		if strings.Contains(strings.ToLower(string(out)), "cannot find") {
			return false, nil
		}
		return false, wrap("query", err, out)
	}
	return strings.Contains(strings.ToLower(string(out)), strings.ToLower(s.executable)), nil
}
