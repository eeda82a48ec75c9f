package excludes

import (
	"testing"
)

func TestLibraryEntriesHaveRequiredFields(t *testing.T) {
	if len(Library) == 0 {
		t.Fatal("Library should not be empty")
	}
	for i, p := range Library {
		if p.Name == "" {
			t.Errorf("Library[%d] has empty Name", i)
		}
		if p.Description == "" {
			t.Errorf("Library[%d] (%s) has empty Description", i, p.Name)
		}
		if _, ok := Categories[p.Category]; !ok {
			t.Errorf("Library entry %q has invalid category %q", p.Name, p.Category)
		}
		if len(p.Patterns) == 0 {
			t.Errorf("Library[%d] (%s) has no Patterns", i, p.Name)
		}
	}
}

func TestLibraryPatternsUseForwardSlashes(t *testing.T) {
	for _, p := range Library {
		for _, pattern := range p.Patterns {
			for _, c := range pattern {
				if c == '\\' {
					t.Errorf("Library entry %q pattern %q contains a backslash", p.Name, pattern)
				}
			}
		}
	}
}

func TestForOS(t *testing.T) {
	for _, p := range ForOS("linux") {
		if p.GOOS != "" && p.GOOS != "linux" {
			t.Errorf("ForOS(linux) returned %q for %s", p.Name, p.GOOS)
		}
	}
	if len(GetPatternsByCategory("windows", CategoryTransient)) == 0 {
		t.Error("expected transient paths for windows")
	}
	if len(GetPatternsByCategory("linux", CategoryTransient)) == 0 {
		t.Error("expected transient paths for linux")
	}
}

func TestDefaultPatterns(t *testing.T) {
	got := DefaultPatterns("darwin")
	want := map[string]bool{"**/.DS_Store": false, "**/.cache": false}
	for _, p := range got {
		if _, ok := want[p]; ok {
			want[p] = true
		}
		if p == "**/Thumbs.db" {
			t.Error("windows pattern leaked into darwin defaults")
		}
	}
	for p, found := range want {
		if !found {
			t.Errorf("DefaultPatterns(darwin) missing %q", p)
		}
	}
}

func TestFlattenPatternsDeduplicates(t *testing.T) {
	entries := []BuiltInPattern{
		{Patterns: []string{"a", "b"}},
		{Patterns: []string{"b", "c"}},
	}
	got := FlattenPatterns(entries)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("FlattenPatterns() = %v", got)
	}
}
