package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newDaemonCmd(a *app) *cobra.Command {
	var expr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled backups in the foreground",
		Long: `Run the agent as a long-running foreground process instead of
installing an OS trigger.

The daemon checks every hour whether a backup is due and prunes the
backup history once a day.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runDaemon(ctx, a, expr)
		},
	}

	cmd.Flags().StringVar(&expr, "check", "@hourly", "Cron expression for the due check")

	return cmd
}

func runDaemon(ctx context.Context, a *app, expr string) error {
	logger := a.logger.With().Str("component", "daemon").Logger()

	c := newDaemonCron(logger)
	_, err := c.AddFunc(expr, func() {
		err := a.agent.Backup(ctx, backup.Options{})
		var running *errs.AlreadyRunningError
		switch {
		case err == nil:
		case errors.As(err, &running):
			logger.Info().Int32("pid", running.PID).Msg("backup already running, skipping")
		default:
			logger.Error().Err(err).Msg("scheduled backup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid check expression %q: %w", expr, err)
	}
	_, err = c.AddFunc("@daily", func() {
		if n, err := a.agent.PruneHistory(ctx); err != nil {
			logger.Warn().Err(err).Msg("history prune failed")
		} else if n > 0 {
			logger.Info().Int("removed", n).Msg("history pruned")
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("Keldris Desktop %s daemon running. Press Ctrl+C to stop.\n", Version)
	logger.Info().Str("check", expr).Msg("daemon started")

	c.Start()
	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()

	logger.Info().Msg("daemon stopped")
	return nil
}

// newDaemonCron builds the daemon's scheduler. A job still running when its
// next tick fires is skipped rather than started twice.
func newDaemonCron(logger zerolog.Logger) *cron.Cron {
	cl := cronLogger{logger: logger}
	return cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
