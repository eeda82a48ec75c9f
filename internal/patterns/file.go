package patterns

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MacJediWizard/keldris-desktop/internal/fsutil"
	"github.com/rs/zerolog"
)

// Parse reads one rule per line: "+value" includes, "-value" excludes.
// Anything else is logged and skipped.
func Parse(r io.Reader, logger zerolog.Logger) (Patterns, error) {
	var out Patterns
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) < 2 || (line[0] != '+' && line[0] != '-') {
			logger.Warn().Int("line", lineNo).Str("content", line).Msg("ignoring invalid pattern line")
			continue
		}
		out = append(out, GlobPattern{Include: line[0] == '+', Value: toSlash(line[1:])})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read patterns: %w", err)
	}
	return out, nil
}

// Load reads the pattern file. A missing file yields nil patterns and no error.
func Load(path string, logger zerolog.Logger) (Patterns, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open pattern file: %w", err)
	}
	defer f.Close()
	return Parse(f, logger)
}

// Save writes the rules to path in insertion order, replacing the file atomically.
func Save(path string, ps Patterns) error {
	var b strings.Builder
	for _, p := range ps {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	if err := fsutil.WriteFileAtomic(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("write pattern file: %w", err)
	}
	return nil
}
