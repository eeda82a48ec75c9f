// Package backup runs backups: it decides whether one is due, guards the
// single running instance, keeps the status heartbeat alive and drives
// rdiff-backup over SSH for every active root.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/MacJediWizard/keldris-desktop/internal/errs"
	"github.com/rs/zerolog"
)

// maxOutputTail bounds the transport output carried in errors.
const maxOutputTail = 2048

// hostKeyFailureMarker is printed by ssh when the known-hosts check fails.
const hostKeyFailureMarker = "Host key verification failed"

// Destination identifies the remote repository and the SSH material used to reach it.
type Destination struct {
	Host           string // host or host:port
	Username       string
	Repository     string
	PrivateKeyPath string
	KnownHostsPath string
}

// Target returns the rdiff-backup remote location for a source root. Each
// drive of a Windows machine gets its own sub-repository named after the letter.
func (d Destination) Target(root string) string {
	host, _ := d.hostPort()
	repo := d.Repository
	if len(root) >= 2 && root[1] == ':' {
		repo += "/" + strings.ToUpper(root[:1])
	}
	return d.Username + "@" + host + "::" + repo
}

func (d Destination) hostPort() (string, string) {
	host, port, err := net.SplitHostPort(d.Host)
	if err != nil {
		return d.Host, ""
	}
	return host, port
}

// Result is the outcome of one transfer.
type Result struct {
	Root     string
	Output   string
	Duration time.Duration
}

// Transport runs the external backup tool.
type Transport interface {
	// SelfTest checks that the remote end is reachable and compatible.
	SelfTest(ctx context.Context, dest Destination) error
	// Backup transfers root using the selection arguments built for it.
	Backup(ctx context.Context, dest Destination, root string, args []string) (*Result, error)
}

// RdiffBackup wraps the rdiff-backup CLI.
type RdiffBackup struct {
	binary string
	ssh    string
	logger zerolog.Logger
}

// NewRdiffBackup creates a transport using the given rdiff-backup and ssh binaries.
func NewRdiffBackup(binary, ssh string, logger zerolog.Logger) *RdiffBackup {
	if binary == "" {
		binary = "rdiff-backup"
	}
	if ssh == "" {
		ssh = "ssh"
	}
	return &RdiffBackup{
		binary: binary,
		ssh:    ssh,
		logger: logger.With().Str("component", "rdiff_backup").Logger(),
	}
}

// remoteSchema returns the --remote-schema value. rdiff-backup substitutes
// the host part of the target for %s.
func (r *RdiffBackup) remoteSchema(dest Destination) string {
	parts := []string{
		quote(r.ssh),
		"-i", quote(dest.PrivateKeyPath),
		"-o", quote("UserKnownHostsFile=" + dest.KnownHostsPath),
		"-o", "StrictHostKeyChecking=yes",
		"-o", "BatchMode=yes",
		"-o", "IdentitiesOnly=yes",
	}
	if _, port := dest.hostPort(); port != "" {
		parts = append(parts, "-p", port)
	}
	parts = append(parts, "-C", "%s", "rdiff-backup", "--server")
	return strings.Join(parts, " ")
}

func (r *RdiffBackup) SelfTest(ctx context.Context, dest Destination) error {
	args := []string{"--remote-schema", r.remoteSchema(dest), "--test-server", dest.Target("")}
	if out, err := r.run(ctx, args); err != nil {
		return r.classify(dest, "", out, err)
	}
	r.logger.Debug().Str("host", dest.Host).Msg("server self-test passed")
	return nil
}

func (r *RdiffBackup) Backup(ctx context.Context, dest Destination, root string, selection []string) (*Result, error) {
	if len(selection) == 0 {
		return nil, errors.New("no selection arguments for backup")
	}

	r.logger.Info().
		Str("root", root).
		Str("target", dest.Target(root)).
		Int("rules", (len(selection)-1)/2).
		Msg("starting transfer")

	start := time.Now()
	args := []string{
		"-v", "5",
		"--remote-schema", r.remoteSchema(dest),
		"--exclude-sockets",
		"--exclude-fifos",
		"--exclude-device-files",
		"--no-hard-links",
	}
	args = append(args, selection...)
	args = append(args, dest.Target(root))

	out, err := r.run(ctx, args)
	if err != nil {
		return nil, r.classify(dest, root, out, err)
	}

	res := &Result{Root: root, Output: tail(out), Duration: time.Since(start)}
	r.logger.Info().Str("root", root).Dur("duration", res.Duration).Msg("transfer completed")
	return res, nil
}

func (r *RdiffBackup) classify(dest Destination, root string, out []byte, err error) error {
	if strings.Contains(string(out), hostKeyFailureMarker) {
		return &errs.UntrustedHostKeyError{Host: dest.Host}
	}
	return &errs.TransportError{Root: root, Output: tail(out), Err: err}
}

func (r *RdiffBackup) run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	r.logger.Debug().
		Str("command", r.binary).
		Strs("args", args).
		Msg("executing rdiff-backup command")

	err := cmd.Run()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		return out.Bytes(), fmt.Errorf("rdiff-backup: %w", err)
	}
	return out.Bytes(), nil
}

func tail(out []byte) string {
	s := strings.TrimSpace(string(out))
	if len(s) > maxOutputTail {
		s = "..." + s[len(s)-maxOutputTail:]
	}
	return s
}

func quote(s string) string {
	if !strings.ContainsAny(s, " \t'\"") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
