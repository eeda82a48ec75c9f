package backup

import (
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// Spawner starts a detached copy of the agent.
type Spawner interface {
	Spawn(args ...string) error
}

// ExecSpawner re-executes the agent binary without waiting for it.
type ExecSpawner struct {
	Executable string
	Logger     zerolog.Logger
}

func (s ExecSpawner) Spawn(args ...string) error {
	cmd := exec.Command(s.Executable, args...)
	cmd.SysProcAttr = detachedProcAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", s.Executable, err)
	}
	s.Logger.Info().Int("pid", cmd.Process.Pid).Strs("args", args).Msg("background backup started")
	return cmd.Process.Release()
}
