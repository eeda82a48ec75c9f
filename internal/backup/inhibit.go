package backup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"
)

// SleepInhibitor keeps the machine awake while a backup runs.
type SleepInhibitor interface {
	// Inhibit blocks system sleep until the returned release func is called.
	Inhibit(ctx context.Context, reason string) (release func(), err error)
}

// NopInhibitor never inhibits sleep.
type NopInhibitor struct{}

func (NopInhibitor) Inhibit(ctx context.Context, reason string) (func(), error) {
	return func() {}, nil
}

// CommandInhibitor holds a helper process for the duration of the backup:
// systemd-inhibit on Linux, caffeinate on macOS. Other systems are not inhibited.
type CommandInhibitor struct {
	GOOS   string
	logger zerolog.Logger

	lookPath func(string) (string, error)
}

// NewCommandInhibitor creates an inhibitor for goos.
func NewCommandInhibitor(goos string, logger zerolog.Logger) *CommandInhibitor {
	return &CommandInhibitor{
		GOOS:     goos,
		logger:   logger.With().Str("component", "sleep_inhibitor").Logger(),
		lookPath: exec.LookPath,
	}
}

func (c *CommandInhibitor) command(reason string) (string, []string) {
	switch c.GOOS {
	case "linux", "freebsd":
		return "systemd-inhibit", []string{
			"--what=sleep:idle", "--who=keldris-desktop", "--why=" + reason, "--mode=block",
			"sleep", "infinity",
		}
	case "darwin":
		return "caffeinate", []string{"-i", "-s", "-w", strconv.Itoa(os.Getpid())}
	}
	return "", nil
}

func (c *CommandInhibitor) Inhibit(ctx context.Context, reason string) (func(), error) {
	name, args := c.command(reason)
	if name == "" {
		c.logger.Debug().Str("os", c.GOOS).Msg("sleep inhibition not supported")
		return func() {}, nil
	}
	path, err := c.lookPath(name)
	if err != nil {
		return func() {}, fmt.Errorf("find %s: %w", name, err)
	}

	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return func() {}, fmt.Errorf("start %s: %w", name, err)
	}
	c.logger.Debug().Str("helper", name).Int("pid", cmd.Process.Pid).Msg("sleep inhibited")

	return func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		c.logger.Debug().Str("helper", name).Msg("sleep inhibition released")
	}, nil
}
