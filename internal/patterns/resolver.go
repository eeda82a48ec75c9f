package patterns

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// ErrNoPatterns is returned when no rule applies to a root. A backup without
// an explicit selection is refused.
var ErrNoPatterns = errors.New("no include or exclude pattern applies")

// RootLister enumerates the filesystem volume roots of the host.
type RootLister interface {
	Roots(ctx context.Context) ([]string, error)
}

// StaticRoots is a fixed list of roots.
type StaticRoots []string

func (s StaticRoots) Roots(ctx context.Context) ([]string, error) {
	return []string(s), nil
}

// PartitionLister reads volume roots from the OS. POSIX hosts have a single
// "/" root; Windows drives are enumerated and removable media skipped.
type PartitionLister struct {
	GOOS string
}

// Filesystems that indicate optical or floppy media.
var removableFstypes = map[string]bool{
	"cdfs":    true,
	"udf":     true,
	"iso9660": true,
}

func (l PartitionLister) Roots(ctx context.Context) ([]string, error) {
	if l.GOOS != "windows" {
		return []string{"/"}, nil
	}

	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	var roots []string
	for _, p := range parts {
		mount := strings.ToUpper(strings.TrimRight(p.Mountpoint, "\\/"))
		if mount == "A:" || mount == "B:" {
			continue
		}
		if removableFstypes[strings.ToLower(p.Fstype)] {
			continue
		}
		if mount == "" {
			continue
		}
		roots = append(roots, mount+"/")
	}
	sort.Strings(roots)
	return roots, nil
}

// ActiveRoots returns the roots holding at least one concrete rule, include
// or exclude. Globbing rules are not bound to a root and never activate one
// on their own.
func ActiveRoots(ps Patterns, roots []string) []string {
	var active []string
	for _, root := range roots {
		for _, p := range ps {
			if p.InRoot(root) {
				active = append(active, root)
				break
			}
		}
	}
	return active
}

// BuildArgs builds the selection arguments for one transport invocation on
// root. Rules are emitted in their original order, followed by a catch-all
// exclude of the root and the root itself as the source argument.
func BuildArgs(ps Patterns, root string) ([]string, error) {
	root = toSlash(root)
	var args []string
	for _, p := range ps {
		if !p.IsGlobbing() && !p.InRoot(root) {
			continue
		}
		if p.Include {
			args = append(args, "--include", p.Value)
		} else {
			args = append(args, "--exclude", p.Value)
		}
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w to %s", ErrNoPatterns, root)
	}
	args = append(args, "--exclude", strings.TrimSuffix(root, "/")+"/**", root)
	return args, nil
}
