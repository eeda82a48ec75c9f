package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/backup"
	"github.com/MacJediWizard/keldris-desktop/internal/config"
	"github.com/MacJediWizard/keldris-desktop/internal/link"
	"github.com/MacJediWizard/keldris-desktop/internal/patterns"
	"github.com/MacJediWizard/keldris-desktop/internal/status"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newBackupCmd(a *app) *cobra.Command {
	var opts backup.Options

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a backup if one is due",
		Long: `Run a backup when the configured schedule says one is due.

The periodic trigger installed by 'keldris-desktop schedule register' runs
this command every hour. Use --force to back up regardless of the schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.agent.Backup(ctx, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Back up even if no backup is due")
	cmd.Flags().BoolVar(&opts.Background, "background", false, "Start the backup in a detached process")

	return cmd
}

func newStopCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.agent.Stop(cmd.Context(), force); err != nil {
				return err
			}
			fmt.Println("Backup stop requested.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Do not fail when no backup is running")

	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last backup result and schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.agent.Status(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			}

			if !view.Configured {
				fmt.Println("Status: Not linked")
				fmt.Println("Run 'keldris-desktop link' to connect to a server.")
			} else {
				fmt.Printf("Server:       %s\n", view.RemoteHost)
				fmt.Printf("Repository:   %s\n", view.RepositoryName)
			}
			fmt.Printf("Schedule:     %s\n", view.Schedule)
			fmt.Printf("Last result:  %s\n", view.Result)
			fmt.Printf("Last run:     %s\n", formatTime(view.LastResultDate))
			fmt.Printf("Last success: %s\n", formatTime(view.LastSuccessDate))
			if view.BackupDue {
				fmt.Println("Next backup:  due now")
			} else {
				fmt.Printf("Next backup:  %s\n", formatTime(view.NextBackup))
			}
			if view.RunningPID != 0 {
				fmt.Printf("Running:      pid %d\n", view.RunningPID)
			}
			trigger := "not installed"
			if view.TriggerInstalled {
				trigger = "installed"
				if view.NextTrigger != nil {
					trigger += ", next run " + formatTime(view.NextTrigger)
				}
			}
			fmt.Printf("Trigger:      %s\n", trigger)
			fmt.Printf("Proxy:        %s\n", view.Proxy)
			if view.History != nil && view.History.Total > 0 {
				fmt.Printf("History:      %d runs, %d failed\n", view.History.Total, view.History.ByResult[status.Failure])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC1123)
}

func newLinkCmd(a *app) *cobra.Command {
	var req link.Request

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link this computer to a repository on a Keldris server",
		Long: `Link this computer to a repository on a Keldris server.

An SSH key is generated and registered with the server. For a new
repository a small initial backup runs so the server can create it.
You will be prompted for your password.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := url.Parse(req.RemoteURL)
			if err != nil {
				return fmt.Errorf("invalid server URL: %w", err)
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return fmt.Errorf("server URL must use http or https scheme")
			}
			req.RemoteURL = strings.TrimSuffix(req.RemoteURL, "/")

			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}
			req.Password = password

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			if err := a.agent.Link(ctx, req); err != nil {
				return err
			}

			fmt.Printf("Linked to repository %s on %s\n", req.RepositoryName, req.RemoteURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.RemoteURL, "server", "", "Keldris server URL (required)")
	cmd.Flags().StringVarP(&req.Username, "user", "u", "", "Server username (required)")
	cmd.Flags().StringVarP(&req.RepositoryName, "repository", "r", "", "Repository name, defaults to the hostname")
	cmd.Flags().BoolVarP(&req.Force, "force", "f", false, "Link to an existing repository with the same name")
	_ = cmd.MarkFlagRequired("server")
	_ = cmd.MarkFlagRequired("user")

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if req.RepositoryName == "" && a.env != nil {
			req.RepositoryName = a.env.Hostname
		}
	}

	return cmd
}

// readPassword reads a password without echo from a terminal, or one line
// from a redirected stdin.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newUnlinkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Forget the server link and remove the periodic trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.agent.Unlink(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Unlinked. SSH keys were kept in", a.env.ConfigDir)
			return nil
		},
	}
}

func newScheduleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage the backup schedule and periodic trigger",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "register",
			Short: "Install the hourly trigger",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.agent.RegisterScheduler(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("Periodic trigger installed.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "unregister",
			Short: "Remove the hourly trigger",
			RunE: func(cmd *cobra.Command, args []string) error {
				removed, err := a.agent.UnregisterScheduler(cmd.Context())
				if err != nil {
					return err
				}
				if removed {
					fmt.Println("Periodic trigger removed.")
				} else {
					fmt.Println("No periodic trigger was installed.")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <hourly|daily|weekly|monthly>",
			Short: "Set how often backups run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := config.ParseSchedule(args[0])
				if err != nil {
					return err
				}
				if err := a.agent.SetSchedule(s); err != nil {
					return err
				}
				fmt.Printf("Schedule set to %s\n", s)
				return nil
			},
		},
	)

	return cmd
}

func newPatternsCmd(a *app) *cobra.Command {
	var resolved bool

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Show the include and exclude patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.agent.Patterns()
			if err != nil {
				return err
			}
			ps := view.User
			if resolved {
				ps = view.Resolved
			}
			if view.Defaults && !resolved {
				fmt.Println("# no pattern file, showing defaults")
			}
			printPatterns(ps)
			return nil
		},
	}

	cmd.Flags().BoolVar(&resolved, "resolved", false, "Show the full list used by a backup")

	return cmd
}

func printPatterns(ps patterns.Patterns) {
	for _, p := range ps {
		fmt.Println(p.String())
	}
}

func newIncludeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "include <path>...",
		Short: "Replace the include patterns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := a.agent.SetIncludePatterns(args)
			if err != nil {
				return err
			}
			printPatterns(ps)
			return nil
		},
	}
}

func newExcludeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exclude <pattern>...",
		Short: "Replace the exclude patterns",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := a.agent.SetExcludePatterns(args)
			if err != nil {
				return err
			}
			printPatterns(ps)
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	var prune bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent backup runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prune {
				n, err := a.agent.PruneHistory(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d old runs\n", n)
				return nil
			}

			entries, err := a.agent.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No backups recorded.")
				return nil
			}
			for _, e := range entries {
				line := fmt.Sprintf("%s  %-9s  %8s  %s",
					e.StartedAt.Local().Format("2006-01-02 15:04"),
					e.Result,
					e.Duration().Round(time.Second),
					strings.Join(e.Roots, ","))
				if e.Error != "" {
					line += "  " + e.Error
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&prune, "prune", false, "Delete runs older than 90 days")

	return cmd
}
