package patterns

import (
	"github.com/MacJediWizard/keldris-desktop/internal/env"
	"github.com/MacJediWizard/keldris-desktop/internal/excludes"
)

// Defaults returns the user patterns written to a fresh pattern file: the
// home directory plus the default exclude library for the host OS.
func Defaults(e *env.Environment) Patterns {
	ps := Patterns{Include(e.Home)}
	for _, v := range excludes.DefaultPatterns(e.GOOS) {
		ps = append(ps, Exclude(v))
	}
	return ps
}

// Before returns the forced excludes spliced ahead of the user patterns.
// They win over any user include because the transport is first-match-wins.
func Before(e *env.Environment) Patterns {
	var ps Patterns
	entries := excludes.GetPatternsByCategory(e.GOOS, excludes.CategoryTransient)
	for _, v := range excludes.FlattenPatterns(entries) {
		ps = append(ps, Exclude(v))
	}
	return ps
}

// After returns the safety-net excludes appended after the user patterns:
// the agent's own state directory and any rdiff-backup metadata directory.
func After(e *env.Environment) Patterns {
	ps := Patterns{Exclude("**/rdiff-backup-data")}
	if e.ConfigDir != "" {
		ps = append(ps, Exclude(e.ConfigDir))
	}
	return ps
}

// Resolve splices the fixed groups around the user patterns.
func Resolve(e *env.Environment, user Patterns) Patterns {
	before := Before(e)
	after := After(e)
	out := make(Patterns, 0, len(before)+len(user)+len(after))
	out = append(out, before...)
	out = append(out, user...)
	out = append(out, after...)
	return out
}
