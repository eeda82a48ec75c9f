// Package excludes provides the built-in exclude patterns offered to desktop users.
//
// Patterns are written in rdiff-backup glob syntax: "**" crosses directory
// boundaries, "*" and "?" do not.
package excludes

// Category represents a category of exclude patterns.
type Category string

const (
	CategoryOS        Category = "os"
	CategoryCache     Category = "cache"
	CategoryTemp      Category = "temp"
	CategoryBuild     Category = "build"
	CategoryTrash     Category = "trash"
	CategoryTransient Category = "transient"
)

// BuiltInPattern represents a pre-defined group of exclude patterns.
type BuiltInPattern struct {
	Name        string
	Description string
	Category    Category
	// GOOS restricts the entry to one operating system; empty applies everywhere.
	GOOS     string
	Patterns []string
	// Default marks entries written to a fresh pattern file.
	Default bool
}

// Library contains all built-in exclude patterns.
var Library = []BuiltInPattern{
	{
		Name:        "macOS metadata",
		Description: "Finder and Spotlight metadata",
		Category:    CategoryOS,
		GOOS:        "darwin",
		Default:     true,
		Patterns: []string{
			"**/.DS_Store",
			"**/.Spotlight-V100",
			"**/.fseventsd",
			"**/.Trashes",
			"**/.TemporaryItems",
		},
	},
	{
		Name:        "Windows metadata",
		Description: "Explorer thumbnails and folder settings",
		Category:    CategoryOS,
		GOOS:        "windows",
		Default:     true,
		Patterns: []string{
			"**/Thumbs.db",
			"**/ehthumbs.db",
			"**/desktop.ini",
		},
	},
	{
		Name:        "Linux desktop",
		Description: "Editor backups and NFS/FUSE leftovers",
		Category:    CategoryOS,
		GOOS:        "linux",
		Default:     true,
		Patterns: []string{
			"**/*~",
			"**/.nfs*",
			"**/.fuse_hidden*",
		},
	},
	{
		Name:        "User caches",
		Description: "Per-user application caches",
		Category:    CategoryCache,
		Default:     true,
		Patterns: []string{
			"**/.cache",
			"**/.thumbnails",
			"**/AppData/Local/Temp",
			"**/Library/Caches",
		},
	},
	{
		Name:        "Trash",
		Description: "Desktop trash and recycle bins",
		Category:    CategoryTrash,
		Default:     true,
		Patterns: []string{
			"**/.local/share/Trash",
			"**/.Trash",
			"**/$Recycle.Bin",
		},
	},
	{
		Name:        "Temporary files",
		Description: "Editor swap files and partial downloads",
		Category:    CategoryTemp,
		Patterns: []string{
			"**/*.tmp",
			"**/*.swp",
			"**/*.part",
			"**/*.crdownload",
		},
	},
	{
		Name:        "Build output",
		Description: "Dependency and build directories that can be regenerated",
		Category:    CategoryBuild,
		Patterns: []string{
			"**/node_modules",
			"**/__pycache__",
			"**/.gradle",
			"**/target/debug",
		},
	},
	{
		Name:        "POSIX transient paths",
		Description: "Kernel and runtime filesystems that must never be read",
		Category:    CategoryTransient,
		GOOS:        "linux",
		Patterns: []string{
			"/proc",
			"/sys",
			"/dev",
			"/run",
			"/tmp",
			"/var/tmp",
			"/var/cache",
			"/lost+found",
		},
	},
	{
		Name:        "macOS transient paths",
		Description: "Volumes and virtual memory files",
		Category:    CategoryTransient,
		GOOS:        "darwin",
		Patterns: []string{
			"/Volumes",
			"/private/var/vm",
			"/private/tmp",
			"/dev",
		},
	},
	{
		Name:        "Windows transient paths",
		Description: "Paging files and system restore data",
		Category:    CategoryTransient,
		GOOS:        "windows",
		Patterns: []string{
			"C:/pagefile.sys",
			"C:/hiberfil.sys",
			"C:/swapfile.sys",
			"C:/System Volume Information",
			"C:/Windows/Temp",
		},
	},
}

// CategoryInfo provides metadata about a category.
type CategoryInfo struct {
	Name        string
	Description string
}

// Categories lists category metadata.
var Categories = map[Category]CategoryInfo{
	CategoryOS:        {Name: "Operating System", Description: "OS metadata files"},
	CategoryCache:     {Name: "Caches", Description: "Regenerable application caches"},
	CategoryTemp:      {Name: "Temporary Files", Description: "Short-lived working files"},
	CategoryBuild:     {Name: "Build Output", Description: "Compiled artifacts and dependencies"},
	CategoryTrash:     {Name: "Trash", Description: "Deleted files awaiting purge"},
	CategoryTransient: {Name: "Transient System Paths", Description: "Paths that are always excluded"},
}

// ForOS returns the library entries that apply to the given GOOS.
func ForOS(goos string) []BuiltInPattern {
	var result []BuiltInPattern
	for _, p := range Library {
		if p.GOOS == "" || p.GOOS == goos {
			result = append(result, p)
		}
	}
	return result
}

// GetPatternsByCategory returns all library entries for a category on the given GOOS.
func GetPatternsByCategory(goos string, category Category) []BuiltInPattern {
	var result []BuiltInPattern
	for _, p := range ForOS(goos) {
		if p.Category == category {
			result = append(result, p)
		}
	}
	return result
}

// DefaultPatterns returns the flattened patterns marked as defaults for goos.
func DefaultPatterns(goos string) []string {
	var entries []BuiltInPattern
	for _, p := range ForOS(goos) {
		if p.Default {
			entries = append(entries, p)
		}
	}
	return FlattenPatterns(entries)
}

// FlattenPatterns extracts all pattern strings from the given entries, without duplicates.
func FlattenPatterns(patterns []BuiltInPattern) []string {
	seen := make(map[string]bool)
	var result []string
	for _, p := range patterns {
		for _, pattern := range p.Patterns {
			if !seen[pattern] {
				seen[pattern] = true
				result = append(result, pattern)
			}
		}
	}
	return result
}
