// Package logs configures the agent's zerolog output.
package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Options controls logger construction.
type Options struct {
	// Path is the log file. Empty disables file output.
	Path string
	// MaxBytes rotates the file to Path+".1" once exceeded. Zero disables rotation.
	MaxBytes int64
	Debug    bool
	// Console receives human readable output. Nil means stderr.
	Console io.Writer
	// Quiet drops console output below warnings.
	Quiet bool
}

// Setup builds the process logger. The returned closer releases the log file.
func Setup(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	consoleLevel := level
	if opts.Quiet {
		consoleLevel = zerolog.WarnLevel
	}
	var consoleWriter io.Writer = console
	if f, ok := console.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		consoleWriter = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{&zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: consoleWriter},
		Level:  consoleLevel,
	}}

	var closer io.Closer = nopCloser{}
	if opts.Path != "" {
		file, err := OpenRotatingFile(opts.Path, opts.MaxBytes)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writers = append(writers, file)
		closer = file
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// RotatingFile is an append-only log file that keeps one previous generation.
type RotatingFile struct {
	path     string
	maxBytes int64

	mu   sync.Mutex
	file *os.File
	size int64
}

// OpenRotatingFile opens path for appending.
func OpenRotatingFile(path string, maxBytes int64) (*RotatingFile, error) {
	r := &RotatingFile{path: path, maxBytes: maxBytes}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past the limit.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	if r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	r.file = nil
	if err := os.Rename(r.path, r.path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotate log file: %w", err)
	}
	return r.open()
}

// Close closes the file.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
