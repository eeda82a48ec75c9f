package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Crontab manages an hourly entry in the current user's crontab.
type Crontab struct {
	executable string
	minute     int
	runner     Runner
	logger     zerolog.Logger
}

// NewCrontab creates a crontab backend for executable. seed picks the minute
// of the hour the entry fires at, so machines sharing a server spread out.
func NewCrontab(executable, seed string, runner Runner, logger zerolog.Logger) *Crontab {
	return &Crontab{
		executable: executable,
		minute:     offsetMinute(seed),
		runner:     runner,
		logger:     logger.With().Str("component", "crontab").Logger(),
	}
}

func offsetMinute(seed string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return int(h.Sum32() % 60)
}

// Spec returns the five-field schedule of the entry.
func (c *Crontab) Spec() string {
	return fmt.Sprintf("%d * * * *", c.minute)
}

// Next returns when the entry fires next after from.
func (c *Crontab) Next(from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(c.Spec())
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

func (c *Crontab) command() string {
	exe := c.executable
	if strings.ContainsAny(exe, " \t'\"") {
		exe = "'" + strings.ReplaceAll(exe, "'", `'\''`) + "'"
	}
	return exe + " " + BackupAction
}

func (c *Crontab) entry() string {
	return c.Spec() + " " + c.command()
}

func (c *Crontab) Create(ctx context.Context) error {
	if _, err := cron.ParseStandard(c.Spec()); err != nil {
		return wrap("create", fmt.Errorf("invalid schedule %q: %w", c.Spec(), err), nil)
	}

	lines, err := c.read(ctx)
	if err != nil {
		return err
	}
	kept, _ := c.without(lines)
	kept = append(kept, c.entry())
	if err := c.write(ctx, kept); err != nil {
		return err
	}
	c.logger.Info().Str("entry", c.entry()).Msg("crontab entry installed")
	return nil
}

func (c *Crontab) Delete(ctx context.Context) (bool, error) {
	lines, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	kept, removed := c.without(lines)
	if removed == 0 {
		return false, nil
	}
	if err := c.write(ctx, kept); err != nil {
		return false, err
	}
	c.logger.Info().Int("removed", removed).Msg("crontab entry removed")
	return true, nil
}

func (c *Crontab) Exists(ctx context.Context) (bool, error) {
	lines, err := c.read(ctx)
	if err != nil {
		return false, err
	}
	_, n := c.without(lines)
	return n > 0, nil
}

// without drops every entry that invokes this agent's backup command.
func (c *Crontab) without(lines []string) ([]string, int) {
	cmd := c.command()
	var kept []string
	removed := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") && strings.HasSuffix(trimmed, cmd) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return kept, removed
}

func (c *Crontab) read(ctx context.Context) ([]string, error) {
	out, err := c.runner.Run(ctx, nil, "crontab", "-l")
	if err != nil {
		// crontab -l exits non-zero for a user without a crontab.
		if strings.Contains(strings.ToLower(string(out)), "no crontab") {
			return nil, nil
		}
		return nil, wrap("read crontab", err, out)
	}
	text := strings.TrimRight(string(out), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func (c *Crontab) write(ctx context.Context, lines []string) error {
	data := strings.Join(lines, "\n")
	if data != "" {
		data += "\n"
	}
	out, err := c.runner.Run(ctx, []byte(data), "crontab", "-")
	return wrap("write crontab", err, out)
}
