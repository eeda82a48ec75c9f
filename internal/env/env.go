// Package env captures the process environment of the keldris-desktop agent.
//
// The Environment is computed once at startup and passed explicitly to the
// components that need host details, instead of being read from globals.
package env

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
)

// ConfigDirEnv overrides the default configuration directory.
const ConfigDirEnv = "KELDRIS_DESKTOP_CONFIG_DIR"

// DefaultExecutableName is the binary name used for process matching when the
// running executable cannot be determined.
const DefaultExecutableName = "keldris-desktop"

var (
	getEUIDFunc     = os.Geteuid
	lookupEnvFunc   = os.LookupEnv
	userHomeDirFunc = os.UserHomeDir
	executableFunc  = os.Executable
	hostnameFunc    = os.Hostname
)

// Environment holds host details resolved at process start.
type Environment struct {
	GOOS       string
	Home       string
	ConfigDir  string
	Executable string
	Hostname   string
	Username   string
	IsAdmin    bool
	// Charset is the raw charset name announced by the host locale (e.g. "UTF-8").
	Charset string
}

// Detect resolves the Environment for the current process.
func Detect() (*Environment, error) {
	home, err := userHomeDirFunc()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}

	e := &Environment{
		GOOS:    runtime.GOOS,
		Home:    home,
		IsAdmin: getEUIDFunc() == 0,
		Charset: detectCharset(runtime.GOOS),
	}

	if dir, ok := lookupEnvFunc(ConfigDirEnv); ok && dir != "" {
		e.ConfigDir = dir
	} else {
		e.ConfigDir = filepath.Join(home, ".keldris-desktop")
	}

	if exe, err := executableFunc(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		e.Executable = exe
	}

	if h, err := hostnameFunc(); err == nil {
		e.Hostname = h
	}

	if u, err := user.Current(); err == nil {
		e.Username = u.Username
	}

	return e, nil
}

// ExecutableName returns the base name of the agent binary without extension.
// It is the name the process guard expects to find behind a recorded pid.
func (e *Environment) ExecutableName() string {
	if e.Executable == "" {
		return DefaultExecutableName
	}
	name := filepath.Base(e.Executable)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// IsWindows reports whether the host runs Windows.
func (e *Environment) IsWindows() bool { return e.GOOS == "windows" }

// ConfigPath returns the path of the key-value configuration file.
func (e *Environment) ConfigPath() string { return filepath.Join(e.ConfigDir, "config.yml") }

// PatternsPath returns the path of the include/exclude pattern file.
func (e *Environment) PatternsPath() string { return filepath.Join(e.ConfigDir, "patterns") }

// StatusPath returns the path of the status file.
func (e *Environment) StatusPath() string { return filepath.Join(e.ConfigDir, "status.properties") }

// BackupPidPath returns the pid file of the backup process.
func (e *Environment) BackupPidPath() string { return filepath.Join(e.ConfigDir, "backup.pid") }

// LogPath returns the agent log file.
func (e *Environment) LogPath() string { return filepath.Join(e.ConfigDir, "keldris-desktop.log") }

// HistoryPath returns the run history database file.
func (e *Environment) HistoryPath() string { return filepath.Join(e.ConfigDir, "history.db") }

// PrivateKeyPath returns the default SSH private key location.
func (e *Environment) PrivateKeyPath() string { return filepath.Join(e.ConfigDir, "id_ed25519") }

// PublicKeyPath returns the default SSH public key location.
func (e *Environment) PublicKeyPath() string { return filepath.Join(e.ConfigDir, "id_ed25519.pub") }

// KnownHostsPath returns the default known-hosts location.
func (e *Environment) KnownHostsPath() string { return filepath.Join(e.ConfigDir, "known_hosts") }

// detectCharset derives the charset from the POSIX locale variables.
// Windows consoles are not consulted; the agent writes UTF-8 there.
func detectCharset(goos string) string {
	if goos == "windows" {
		return "UTF-8"
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		v, ok := lookupEnvFunc(key)
		if !ok || v == "" {
			continue
		}
		if i := strings.Index(v, "."); i >= 0 {
			cs := v[i+1:]
			if j := strings.Index(cs, "@"); j >= 0 {
				cs = cs[:j]
			}
			if cs != "" {
				return cs
			}
		}
		if v == "C" || v == "POSIX" {
			return "US-ASCII"
		}
	}
	return "UTF-8"
}
