// Package agent wires the backup agent's components together and exposes the
// operations the command line drives.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/config"
	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/MacJediWizard/keldris-desktop/internal/httpclient"
	"github.com/MacJediWizard/keldris-desktop/internal/link"
	"github.com/MacJediWizard/keldris-desktop/internal/patterns"
	"github.com/MacJediWizard/keldris-desktop/internal/pidfile"
	"github.com/MacJediWizard/keldris-desktop/internal/scheduler"
	"github.com/MacJediWizard/keldris-desktop/internal/status"
	"github.com/rs/zerolog"
)

// Deps are the components behind an Agent. History is optional.
type Deps struct {
	Env          *env.Environment
	Orchestrator *backup.Orchestrator
	Linker       *link.Linker
	Scheduler    scheduler.Scheduler
	Status       *status.Store
	Guard        *pidfile.Guard
	History      *History
	Clock        env.Clock
	Logger       zerolog.Logger
}

// Agent is the facade over backup, linking, scheduling and pattern editing.
type Agent struct {
	deps   Deps
	logger zerolog.Logger
}

// New creates an Agent.
func New(deps Deps) *Agent {
	if deps.Clock == nil {
		deps.Clock = env.RealClock{}
	}
	return &Agent{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "agent").Logger(),
	}
}

// Env returns the host environment.
func (a *Agent) Env() *env.Environment { return a.deps.Env }

// Backup runs or schedules a backup.
func (a *Agent) Backup(ctx context.Context, opts backup.Options) error {
	return a.deps.Orchestrator.Backup(ctx, opts)
}

// IsBackupTime reports whether a scheduled backup is due.
func (a *Agent) IsBackupTime() (bool, error) {
	return a.deps.Orchestrator.IsBackupTime()
}

// Stop terminates a running backup.
func (a *Agent) Stop(ctx context.Context, force bool) error {
	return a.deps.Orchestrator.StopBackup(ctx, force)
}

// Link associates the agent with a repository on the server.
func (a *Agent) Link(ctx context.Context, req link.Request) error {
	return a.deps.Linker.Link(ctx, req)
}

// Unlink forgets the server link.
func (a *Agent) Unlink(ctx context.Context) error {
	return a.deps.Linker.Unlink(ctx)
}

// RegisterScheduler installs the periodic trigger. The agent must be linked.
func (a *Agent) RegisterScheduler(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if !cfg.IsConfigured() {
		return errs.ErrNotConfigured
	}
	return a.deps.Scheduler.Create(ctx)
}

// UnregisterScheduler removes the periodic trigger and reports whether one
// was installed.
func (a *Agent) UnregisterScheduler(ctx context.Context) (bool, error) {
	return a.deps.Scheduler.Delete(ctx)
}

// SetSchedule changes the backup frequency.
func (a *Agent) SetSchedule(s config.Schedule) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	cfg.Schedule = s
	return cfg.Save(a.deps.Env.ConfigPath())
}

// PatternView is the user's selection and what a backup would use.
type PatternView struct {
	User     patterns.Patterns
	Resolved patterns.Patterns
	Defaults bool
}

// Patterns returns the user's patterns, falling back to the defaults when no
// pattern file exists.
func (a *Agent) Patterns() (*PatternView, error) {
	user, err := patterns.Load(a.deps.Env.PatternsPath(), a.logger)
	if err != nil {
		return nil, err
	}
	view := &PatternView{User: user}
	if user == nil {
		view.User = patterns.Defaults(a.deps.Env)
		view.Defaults = true
	}
	view.Resolved = patterns.Resolve(a.deps.Env, view.User)
	return view, nil
}

// SetIncludePatterns replaces every include rule with values.
func (a *Agent) SetIncludePatterns(values []string) (patterns.Patterns, error) {
	return a.replacePatterns(true, values)
}

// SetExcludePatterns replaces every exclude rule with values.
func (a *Agent) SetExcludePatterns(values []string) (patterns.Patterns, error) {
	return a.replacePatterns(false, values)
}

func (a *Agent) replacePatterns(include bool, values []string) (patterns.Patterns, error) {
	view, err := a.Patterns()
	if err != nil {
		return nil, err
	}
	updated := view.User.ReplaceKind(include, values)
	if err := patterns.Save(a.deps.Env.PatternsPath(), updated); err != nil {
		return nil, err
	}
	a.logger.Info().
		Bool("include", include).
		Int("rules", len(updated)).
		Msg("patterns updated")
	return updated, nil
}

// StatusView summarizes the agent's state for display.
type StatusView struct {
	Result           status.ResultKind `json:"result"`
	LastResultDate   *time.Time        `json:"last_result_date,omitempty"`
	LastSuccessDate  *time.Time        `json:"last_success_date,omitempty"`
	Configured       bool              `json:"configured"`
	RemoteHost       string            `json:"remote_host,omitempty"`
	RepositoryName   string            `json:"repository_name,omitempty"`
	Schedule         config.Schedule   `json:"schedule"`
	BackupDue        bool              `json:"backup_due"`
	NextBackup       *time.Time        `json:"next_backup,omitempty"`
	RunningPID       int32             `json:"running_pid,omitempty"`
	TriggerInstalled bool              `json:"trigger_installed"`
	NextTrigger      *time.Time        `json:"next_trigger,omitempty"`
	Proxy            string            `json:"proxy"`
	History          *HistorySummary   `json:"history,omitempty"`
}

// nextRunner is implemented by schedulers that can predict their next firing.
type nextRunner interface {
	Next(from time.Time) (time.Time, error)
}

// Status collects the current state. Probing failures are logged and leave
// the corresponding fields empty.
func (a *Agent) Status(ctx context.Context) (*StatusView, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	now := a.deps.Clock.Now()
	st := a.deps.Status.Load()
	view := &StatusView{
		Result:          st.Effective(now),
		LastResultDate:  st.LastResultDate,
		LastSuccessDate: st.LastSuccessDate,
		Configured:      cfg.IsConfigured(),
		RemoteHost:      cfg.RemoteHost,
		RepositoryName:  cfg.RepositoryName,
		Schedule:        cfg.EffectiveSchedule(),
		BackupDue:       backup.IsBackupTime(cfg, st, now),
		Proxy:           httpclient.ProxyInfo(cfg.GetProxyConfig()),
	}
	if next := backup.NextBackupTime(cfg, st); !next.IsZero() {
		view.NextBackup = &next
	}

	pid, err := a.deps.Guard.Find(ctx)
	var notRunning *errs.NotRunningError
	switch {
	case err == nil:
		view.RunningPID = pid
	case !errors.As(err, &notRunning):
		a.logger.Warn().Err(err).Msg("cannot check for a running backup")
	}

	if a.deps.Scheduler != nil {
		installed, err := a.deps.Scheduler.Exists(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("cannot query the scheduler")
		}
		view.TriggerInstalled = installed
		if nr, ok := a.deps.Scheduler.(nextRunner); ok && installed {
			if next, err := nr.Next(now); err == nil {
				view.NextTrigger = &next
			}
		}
	}

	if a.deps.History != nil {
		summary, err := a.deps.History.Summary(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("cannot read backup history")
		}
		view.History = summary
	}
	return view, nil
}

// History returns up to limit recorded runs, newest first.
func (a *Agent) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if a.deps.History == nil {
		return nil, fmt.Errorf("backup history is not available")
	}
	return a.deps.History.List(ctx, limit)
}

// PruneHistory drops runs older than DefaultHistoryRetention.
func (a *Agent) PruneHistory(ctx context.Context) (int, error) {
	if a.deps.History == nil {
		return 0, nil
	}
	return a.deps.History.Prune(ctx, a.deps.Clock.Now(), DefaultHistoryRetention)
}

func (a *Agent) loadConfig() (*config.ScheduleConfig, error) {
	cfg, err := config.Load(a.deps.Env.ConfigPath())
	if err != nil {
		return nil, &errs.MisconfiguredError{Item: "config", Err: err}
	}
	cfg.ApplyDefaults(a.deps.Env)
	return cfg, nil
}
