package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/config"
	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/MacJediWizard/keldris-desktop/internal/patterns"
	"github.com/MacJediWizard/keldris-desktop/internal/pidfile"
	"github.com/MacJediWizard/keldris-desktop/internal/status"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// scheduleSlack is the share of the schedule interval after which a backup
// counts as due, so a trigger firing a few seconds early is not skipped.
const scheduleSlack = 0.98

// IsBackupTime reports whether a backup is due under cfg's schedule.
func IsBackupTime(cfg *config.ScheduleConfig, st status.Status, now time.Time) bool {
	if st.LastSuccessDate == nil {
		return true
	}
	return now.Sub(*st.LastSuccessDate) > dueAfter(cfg)
}

// NextBackupTime returns when the next scheduled backup becomes due, or the
// zero time when no backup ever succeeded.
func NextBackupTime(cfg *config.ScheduleConfig, st status.Status) time.Time {
	if st.LastSuccessDate == nil {
		return time.Time{}
	}
	return st.LastSuccessDate.Add(dueAfter(cfg))
}

func dueAfter(cfg *config.ScheduleConfig) time.Duration {
	interval := time.Duration(cfg.EffectiveSchedule().IntervalHours()) * time.Hour
	return time.Duration(scheduleSlack * float64(interval))
}

// Options controls one Backup call.
type Options struct {
	// Force runs even if the schedule says no backup is due.
	Force bool
	// Background re-executes the agent as a detached process and returns.
	Background bool
}

// Run describes one finished backup.
type Run struct {
	ID          uuid.UUID
	StartedAt   time.Time
	CompletedAt time.Time
	Result      status.ResultKind
	Roots       []string
	Err         error
}

// RunRecorder receives every finished run. Failures are logged only.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// HostKeyProber refreshes the trusted host key after a verification failure.
type HostKeyProber interface {
	Probe(ctx context.Context, dest Destination) error
}

// Deps are the collaborators of an Orchestrator. Zero-value optional fields
// fall back to no-op or real implementations.
type Deps struct {
	Env       *env.Environment
	Status    *status.Store
	Guard     *pidfile.Guard
	Transport Transport
	Prober    HostKeyProber
	Roots     patterns.RootLister
	Inhibitor SleepInhibitor
	Spawner   Spawner
	Recorders []RunRecorder
	Clock     env.Clock
	Logger    zerolog.Logger
}

// Orchestrator runs backups.
type Orchestrator struct {
	deps              Deps
	heartbeatInterval time.Duration
	logger            zerolog.Logger
}

// NewOrchestrator creates an orchestrator from deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = env.RealClock{}
	}
	if deps.Inhibitor == nil {
		deps.Inhibitor = NopInhibitor{}
	}
	if deps.Roots == nil {
		deps.Roots = patterns.PartitionLister{GOOS: deps.Env.GOOS}
	}
	return &Orchestrator{
		deps:              deps,
		heartbeatInterval: status.HeartbeatInterval,
		logger:            deps.Logger.With().Str("component", "orchestrator").Logger(),
	}
}

// IsBackupTime reports whether a scheduled backup is due now.
func (o *Orchestrator) IsBackupTime() (bool, error) {
	cfg, err := config.Load(o.deps.Env.ConfigPath())
	if err != nil {
		return false, err
	}
	return IsBackupTime(cfg, o.deps.Status.Load(), o.deps.Clock.Now()), nil
}

// Backup runs a backup now, or does nothing when none is due and opts.Force
// is unset. Cancelling ctx interrupts the transfer and records INTERRUPT.
func (o *Orchestrator) Backup(ctx context.Context, opts Options) error {
	if opts.Background {
		if o.deps.Spawner == nil {
			return errors.New("background backup is not available")
		}
		args := []string{"backup"}
		if opts.Force {
			args = append(args, "--force")
		}
		return o.deps.Spawner.Spawn(args...)
	}

	cfg, err := config.Load(o.deps.Env.ConfigPath())
	if err != nil {
		return &errs.MisconfiguredError{Item: "config", Err: err}
	}
	if !opts.Force {
		st := o.deps.Status.Load()
		if !IsBackupTime(cfg, st, o.deps.Clock.Now()) {
			o.logger.Info().
				Str("schedule", string(cfg.EffectiveSchedule())).
				Msg("backup not due yet, skipping")
			return nil
		}
	}

	if err := o.deps.Guard.Acquire(ctx); err != nil {
		return err
	}
	defer o.deps.Guard.Release()

	run := Run{ID: uuid.New(), StartedAt: o.deps.Clock.Now()}
	log := o.logger.With().Str("run_id", run.ID.String()).Logger()
	log.Info().Bool("force", opts.Force).Msg("backup started")

	stopHeartbeat := o.startHeartbeat(run.StartedAt)
	roots, runErr := o.run(ctx, cfg, log)
	stopHeartbeat()

	run.Roots = roots
	run.CompletedAt = o.deps.Clock.Now()
	switch {
	case runErr == nil:
		run.Result = status.Success
	case ctx.Err() != nil:
		run.Result = status.Interrupt
		runErr = &errs.InterruptedError{}
	default:
		run.Result = status.Failure
	}
	run.Err = runErr

	if err := o.deps.Status.SetLastStatus(run.Result); err != nil {
		log.Error().Err(err).Msg("failed to record backup status")
	}
	o.record(run, log)

	if runErr != nil {
		log.Error().Err(runErr).Str("result", string(run.Result)).Msg("backup failed")
		return runErr
	}
	log.Info().Strs("roots", roots).Dur("duration", run.CompletedAt.Sub(run.StartedAt)).Msg("backup completed")
	return nil
}

// run validates the configuration and transfers every active root. The
// first failing root ends the run.
func (o *Orchestrator) run(ctx context.Context, cfg *config.ScheduleConfig, log zerolog.Logger) ([]string, error) {
	cfg.ApplyDefaults(o.deps.Env)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.CheckFiles(); err != nil {
		return nil, err
	}
	user, err := patterns.Load(o.deps.Env.PatternsPath(), o.logger)
	if err != nil {
		return nil, &errs.MisconfiguredError{Item: "patterns", Err: err}
	}
	if len(user) == 0 {
		return nil, &errs.MisconfiguredError{Item: "patterns"}
	}

	resolved := patterns.Resolve(o.deps.Env, user)
	all, err := o.deps.Roots.Roots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	active := patterns.ActiveRoots(resolved, all)
	if len(active) == 0 {
		return nil, &errs.MisconfiguredError{Item: "patterns", Err: patterns.ErrNoPatterns}
	}

	release, err := o.deps.Inhibitor.Inhibit(ctx, "backup in progress")
	if err != nil {
		log.Warn().Err(err).Msg("cannot inhibit system sleep")
	}
	if release != nil {
		defer release()
	}

	dest := Destination{
		Host:           cfg.RemoteHost,
		Username:       cfg.Username,
		Repository:     cfg.RepositoryName,
		PrivateKeyPath: cfg.PrivateKeyPath,
		KnownHostsPath: cfg.KnownHostsPath,
	}

	var done []string
	for _, root := range active {
		args, err := patterns.BuildArgs(resolved, root)
		if err != nil {
			return done, err
		}
		if err := o.transfer(ctx, dest, root, args, log); err != nil {
			return done, err
		}
		done = append(done, root)
	}
	return done, nil
}

// transfer self-tests the server and backs up one root. An untrusted host
// key is remediated once through the prober before giving up.
func (o *Orchestrator) transfer(ctx context.Context, dest Destination, root string, args []string, log zerolog.Logger) error {
	attempt := func() error {
		if err := o.deps.Transport.SelfTest(ctx, dest); err != nil {
			return err
		}
		_, err := o.deps.Transport.Backup(ctx, dest, root, args)
		return err
	}

	err := attempt()
	var untrusted *errs.UntrustedHostKeyError
	if err == nil || !errors.As(err, &untrusted) || o.deps.Prober == nil {
		return err
	}

	log.Warn().Str("host", dest.Host).Msg("host key not trusted, refreshing known hosts")
	if perr := o.deps.Prober.Probe(ctx, dest); perr != nil {
		log.Error().Err(perr).Msg("host key probe failed")
		return err
	}
	return attempt()
}

// startHeartbeat refreshes the RUNNING record until the returned func is
// called. The func returns once the heartbeat goroutine has exited.
func (o *Orchestrator) startHeartbeat(since time.Time) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)

	beat := func() {
		if _, err := o.deps.Status.Heartbeat(since); err != nil {
			o.logger.Warn().Err(err).Msg("heartbeat write failed")
		}
	}

	go func() {
		defer wg.Done()
		beat()
		ticker := time.NewTicker(o.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				beat()
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

func (o *Orchestrator) record(run Run, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, r := range o.deps.Recorders {
		if err := r.RecordRun(ctx, run); err != nil {
			log.Warn().Err(err).Msg("failed to record run")
		}
	}
}

// StopBackup terminates the running backup process. With force, finding no
// running backup is not an error.
func (o *Orchestrator) StopBackup(ctx context.Context, force bool) error {
	pid, err := o.deps.Guard.Terminate(ctx)
	if err != nil {
		var notRunning *errs.NotRunningError
		if force && errors.As(err, &notRunning) {
			o.logger.Debug().Msg("no backup running")
			return nil
		}
		return err
	}
	o.logger.Info().Int32("pid", pid).Msg("backup stop requested")
	return nil
}
