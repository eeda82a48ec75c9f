// Package errs defines the error kinds surfaced by the keldris-desktop agent.
//
// Every kind is a distinct type so callers can match with errors.As and the
// CLI can map a failure to a stable exit code.
package errs

import (
	"errors"
	"fmt"
)

// Exit codes reserved for scripting.
const (
	ExitOK        = 0
	ExitUserError = 1
	ExitTransport = 2
)

// ErrNotConfigured is returned when an operation requires a linked agent.
var ErrNotConfigured = errors.New("agent is not linked to a backup server")

// ErrInvalidRepositoryName is returned when a repository name fails validation.
var ErrInvalidRepositoryName = errors.New("repository name must start with a letter and contain only letters, digits, '-' or '.'")

// MisconfiguredError reports a missing or unreadable required file or field.
type MisconfiguredError struct {
	Item string
	Err  error
}

func (e *MisconfiguredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("misconfigured: %s: %v", e.Item, e.Err)
	}
	return fmt.Sprintf("misconfigured: %s", e.Item)
}

func (e *MisconfiguredError) Unwrap() error { return e.Err }

// AlreadyRunningError is returned when another backup process holds the pid file.
type AlreadyRunningError struct {
	PID int32
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("backup already running (pid %d)", e.PID)
}

// NotRunningError is returned when no running backup process can be found.
type NotRunningError struct{}

func (e *NotRunningError) Error() string { return "backup is not running" }

// SchedulerError wraps any failure of the OS scheduler backend.
type SchedulerError struct {
	Op  string
	Err error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("scheduler %s: %v", e.Op, e.Err)
}

func (e *SchedulerError) Unwrap() error { return e.Err }

// KeyGenerationError is returned when the SSH keypair cannot be produced or written.
type KeyGenerationError struct {
	Err error
}

func (e *KeyGenerationError) Error() string { return fmt.Sprintf("generate keys: %v", e.Err) }

func (e *KeyGenerationError) Unwrap() error { return e.Err }

// KeyExchangeError is returned when the remote server refuses the public key.
type KeyExchangeError struct {
	Err error
}

func (e *KeyExchangeError) Error() string { return fmt.Sprintf("exchange keys: %v", e.Err) }

func (e *KeyExchangeError) Unwrap() error { return e.Err }

// NameAlreadyInUseError is returned when the repository name already exists on the server.
type NameAlreadyInUseError struct {
	Name string
}

func (e *NameAlreadyInUseError) Error() string {
	return fmt.Sprintf("repository %q already exists on the server", e.Name)
}

// UntrustedHostKeyError is returned when the remote host identity is not recognized.
type UntrustedHostKeyError struct {
	Host string
}

func (e *UntrustedHostKeyError) Error() string {
	return fmt.Sprintf("host key for %s is not trusted", e.Host)
}

// TransportError is returned when the backup tool exits non-zero or reports a failure.
type TransportError struct {
	Root   string
	Output string
	Err    error
}

func (e *TransportError) Error() string {
	msg := "backup transport failed"
	if e.Root != "" {
		msg += " for " + e.Root
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// InitialBackupStillRunningError is returned when linking timed out while the first backup was still running.
type InitialBackupStillRunningError struct{}

func (e *InitialBackupStillRunningError) Error() string {
	return "initial backup is still running but the server did not confirm the repository in time"
}

// InitialBackupFailedError is returned when the first backup failed or went stale during linking.
type InitialBackupFailedError struct{}

func (e *InitialBackupFailedError) Error() string { return "initial backup failed" }

// InitialBackupNeverStartedError is returned when the first backup never started during linking.
type InitialBackupNeverStartedError struct{}

func (e *InitialBackupNeverStartedError) Error() string { return "initial backup did not start" }

// LinkFailedError is the generic linking failure.
type LinkFailedError struct {
	Err error
}

func (e *LinkFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("link failed: %v", e.Err)
	}
	return "link failed"
}

func (e *LinkFailedError) Unwrap() error { return e.Err }

// InterruptedError is returned when a backup is stopped by a signal.
type InterruptedError struct{}

func (e *InterruptedError) Error() string { return "backup interrupted" }

// Kind returns a short machine-readable name for the error kind.
func Kind(err error) string {
	var (
		misconfigured *MisconfiguredError
		running       *AlreadyRunningError
		notRunning    *NotRunningError
		sched         *SchedulerError
		keyGen        *KeyGenerationError
		keyEx         *KeyExchangeError
		nameInUse     *NameAlreadyInUseError
		untrusted     *UntrustedHostKeyError
		transport     *TransportError
		stillRunning  *InitialBackupStillRunningError
		initFailed    *InitialBackupFailedError
		neverStarted  *InitialBackupNeverStartedError
		linkFailed    *LinkFailedError
		interrupted   *InterruptedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &misconfigured):
		return "misconfigured"
	case errors.As(err, &running):
		return "already_running"
	case errors.As(err, &notRunning):
		return "not_running"
	case errors.As(err, &sched):
		return "scheduler"
	case errors.As(err, &keyGen):
		return "key_generation"
	case errors.As(err, &keyEx):
		return "key_exchange"
	case errors.As(err, &nameInUse):
		return "name_in_use"
	case errors.As(err, &untrusted):
		return "untrusted_host_key"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &stillRunning):
		return "initial_backup_running"
	case errors.As(err, &initFailed):
		return "initial_backup_failed"
	case errors.As(err, &neverStarted):
		return "initial_backup_not_started"
	case errors.As(err, &linkFailed):
		return "link_failed"
	case errors.As(err, &interrupted):
		return "interrupted"
	default:
		return "error"
	}
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch Kind(err) {
	case "":
		return ExitOK
	case "transport", "untrusted_host_key", "interrupted":
		return ExitTransport
	default:
		return ExitUserError
	}
}
