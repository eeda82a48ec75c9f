// Package patterns models include/exclude glob rules and resolves them
// against the filesystem volumes of the host.
package patterns

import (
	"os"
	"path/filepath"
	"strings"
)

// GlobPattern is a single include or exclude rule. Values always use forward
// slashes, whatever the host separator.
type GlobPattern struct {
	Include bool
	Value   string
}

// NewPattern builds a pattern from user input. Concrete paths that currently
// exist are made absolute; globbing values are kept as given.
func NewPattern(include bool, value string) GlobPattern {
	value = strings.TrimSpace(value)
	p := GlobPattern{Include: include, Value: toSlash(value)}
	if p.IsGlobbing() || value == "" {
		return p
	}
	if _, err := os.Stat(value); err == nil {
		if abs, err := filepath.Abs(value); err == nil {
			p.Value = toSlash(abs)
		}
	}
	return p
}

// Include is shorthand for NewPattern(true, value).
func Include(value string) GlobPattern { return NewPattern(true, value) }

// Exclude is shorthand for NewPattern(false, value).
func Exclude(value string) GlobPattern { return NewPattern(false, value) }

// IsGlobbing reports whether the value contains wildcard characters.
func (p GlobPattern) IsGlobbing() bool {
	return strings.ContainsAny(p.Value, "*?")
}

// InRoot reports whether a concrete pattern lives under root. The comparison
// is a case-sensitive prefix match on slash-separated paths.
func (p GlobPattern) InRoot(root string) bool {
	if p.IsGlobbing() {
		return false
	}
	return strings.HasPrefix(p.Value, toSlash(root))
}

// String renders the pattern as a pattern file line.
func (p GlobPattern) String() string {
	if p.Include {
		return "+" + p.Value
	}
	return "-" + p.Value
}

// Patterns is an ordered list of rules. Order is significant: the transport
// applies them first-match-wins.
type Patterns []GlobPattern

// Contains reports whether p is present, compared on (Include, Value).
func (ps Patterns) Contains(p GlobPattern) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}

// Equal reports whether both lists hold the same rules in the same order.
func (ps Patterns) Equal(other Patterns) bool {
	if len(ps) != len(other) {
		return false
	}
	for i := range ps {
		if ps[i] != other[i] {
			return false
		}
	}
	return true
}

// Filter returns the rules with the given polarity, preserving order.
func (ps Patterns) Filter(include bool) Patterns {
	var out Patterns
	for _, p := range ps {
		if p.Include == include {
			out = append(out, p)
		}
	}
	return out
}

// ReplaceKind returns a copy where every rule of the given polarity is
// replaced by values. Rules of the other polarity keep their relative order,
// and the new rules take the position of the first rule they replace (or are
// appended when there was none).
func (ps Patterns) ReplaceKind(include bool, values []string) Patterns {
	replacement := make(Patterns, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		p := NewPattern(include, v)
		if !replacement.Contains(p) {
			replacement = append(replacement, p)
		}
	}

	out := make(Patterns, 0, len(ps)+len(replacement))
	inserted := false
	for _, p := range ps {
		if p.Include != include {
			out = append(out, p)
			continue
		}
		if !inserted {
			out = append(out, replacement...)
			inserted = true
		}
	}
	if !inserted {
		if include {
			// Includes go first so that later excludes can carve them out.
			out = append(replacement, out...)
		} else {
			out = append(out, replacement...)
		}
	}
	return out
}

func toSlash(s string) string {
	return strings.ReplaceAll(s, "\\", "/")
}
