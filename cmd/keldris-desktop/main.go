// Package main is the entrypoint for the Keldris desktop backup agent.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/MacJediWizard/keldris-desktop/internal/agent"
	"github.com/MacJediWizard/keldris-desktop/internal/config"
	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/MacJediWizard/keldris-desktop/internal/link"
	"github.com/MacJediWizard/keldris-desktop/internal/logs"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	a := &app{}
	err := newRootCmd(a).ExecuteContext(context.Background())
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(errs.ExitCode(err))
}

// app holds the state shared by every subcommand.
type app struct {
	debug   bool
	verbose bool

	env     *env.Environment
	runtime config.RuntimeConfig
	logger  zerolog.Logger
	closers []io.Closer
	agent   *agent.Agent
}

// open detects the environment, configures logging and builds the agent.
func (a *app) open(cmd *cobra.Command) error {
	e, err := env.Detect()
	if err != nil {
		return err
	}
	a.env = e
	a.runtime = config.LoadRuntimeConfig()

	logger, closer, err := logs.Setup(logs.Options{
		Path:     e.LogPath(),
		MaxBytes: a.runtime.LogMaxBytes,
		Debug:    a.debug || a.runtime.Debug,
		Quiet:    !a.verbose,
	})
	if err != nil {
		return err
	}
	a.logger = logger.With().Str("command", cmd.Name()).Logger()
	a.closers = append(a.closers, closer)

	opts := agent.Options{
		Runtime:   a.runtime,
		UserAgent: "keldris-desktop/" + Version,
	}
	if cmd.Name() == "link" {
		opts.LinkObserver = func(s link.State) {
			fmt.Fprintf(os.Stderr, "==> %s\n", strings.ReplaceAll(s.String(), "_", " "))
		}
	}
	ag, err := agent.Open(e, opts, a.logger)
	if err != nil {
		return err
	}
	a.agent = ag
	a.closers = append(a.closers, ag)
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keldris-desktop",
		Short: "Keldris desktop backup agent",
		Long: `Keldris Desktop backs up this computer to a Keldris backup server
using rdiff-backup over SSH.

Run 'keldris-desktop link' to connect to a server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return a.open(cmd)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Print informational log messages")

	rootCmd.AddCommand(
		newVersionCmd(),
		newBackupCmd(a),
		newStopCmd(a),
		newStatusCmd(a),
		newLinkCmd(a),
		newUnlinkCmd(a),
		newScheduleCmd(a),
		newPatternsCmd(a),
		newIncludeCmd(a),
		newExcludeCmd(a),
		newHistoryCmd(a),
		newDaemonCmd(a),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Keldris Desktop %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
