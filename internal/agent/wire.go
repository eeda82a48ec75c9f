package agent

import (
	"fmt"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/config"
	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/httpclient"
	"github.com/MacJediWizard/keldris-desktop/internal/keys"
	"github.com/MacJediWizard/keldris-desktop/internal/link"
	"github.com/MacJediWizard/keldris-desktop/internal/metrics"
	"github.com/MacJediWizard/keldris-desktop/internal/pidfile"
	"github.com/MacJediWizard/keldris-desktop/internal/remote"
	"github.com/MacJediWizard/keldris-desktop/internal/scheduler"
	"github.com/MacJediWizard/keldris-desktop/internal/status"
	"github.com/rs/zerolog"
)

// Options tune Open.
type Options struct {
	Runtime   config.RuntimeConfig
	UserAgent string
	// LinkObserver is told about every linking step.
	LinkObserver func(link.State)
}

// Open builds an Agent backed by the real system: rdiff-backup over ssh, the
// OS scheduler and the files under e.ConfigDir. Close releases it.
func Open(e *env.Environment, opts Options, logger zerolog.Logger) (*Agent, error) {
	logger.Debug().
		Str("config_dir", e.ConfigDir).
		Str("executable", e.Executable).
		Bool("admin", e.IsAdmin).
		Msg("opening agent")

	clock := env.RealClock{}
	statusStore := status.NewStore(e.StatusPath(), clock, logger)
	guard := pidfile.New(e.BackupPidPath(), e.ExecutableName(), pidfile.SystemProcesses{}, logger)
	sched := scheduler.New(e, scheduler.ExecRunner{}, logger)

	newService := func(remoteURL string) (remote.Service, error) {
		cfg, err := config.Load(e.ConfigPath())
		if err != nil {
			return nil, err
		}
		client, err := httpclient.NewWithConfig(cfg, httpclient.DefaultTimeout, opts.UserAgent)
		if err != nil {
			return nil, fmt.Errorf("create http client: %w", err)
		}
		return remote.NewClient(remoteURL, client, logger), nil
	}

	var recorders []backup.RunRecorder
	history, err := OpenHistory(e.HistoryPath(), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("backup history disabled")
		history = nil
	} else {
		recorders = append(recorders, history)
	}

	if cfg, err := config.Load(e.ConfigPath()); err == nil && cfg.MetricsPath != "" {
		exporter, err := metrics.NewTextfileExporter(cfg.MetricsPath, statusStore.Load(), logger)
		if err != nil {
			logger.Warn().Err(err).Msg("metrics export disabled")
		} else {
			recorders = append(recorders, exporter)
		}
	}

	orchestrator := backup.NewOrchestrator(backup.Deps{
		Env:       e,
		Status:    statusStore,
		Guard:     guard,
		Transport: backup.NewRdiffBackup(opts.Runtime.RdiffBinary, opts.Runtime.SSHBinary, logger),
		Prober:    NewKnownHostsProber(e, newService, logger),
		Inhibitor: backup.NewCommandInhibitor(e.GOOS, logger),
		Spawner:   backup.ExecSpawner{Executable: e.Executable, Logger: logger},
		Recorders: recorders,
		Clock:     clock,
		Logger:    logger,
	})

	linker := link.New(link.Deps{
		Env:        e,
		NewService: newService,
		Keys:       keys.Ed25519Generator{},
		Scheduler:  sched,
		Backup:     orchestrator,
		Status:     statusStore,
		Clock:      clock,
		Timeout:    opts.Runtime.LinkTimeout,
		Observer:   opts.LinkObserver,
		Logger:     logger,
	})

	return New(Deps{
		Env:          e,
		Orchestrator: orchestrator,
		Linker:       linker,
		Scheduler:    sched,
		Status:       statusStore,
		Guard:        guard,
		History:      history,
		Clock:        clock,
		Logger:       logger,
	}), nil
}

// Close releases the history database.
func (a *Agent) Close() error {
	if a.deps.History == nil {
		return nil
	}
	return a.deps.History.Close()
}
