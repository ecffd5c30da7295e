// Package persist emits the on-disk artifacts that outlive one engine run:
// /etc/fstab, /etc/crypttab, udev by-dname rules, and the JSON device_map.
// Executors accumulate records into Fstab/Crypttab as they run; persist
// writes them out once the plan completes.
//
// Typed accumulator structs with an explicit Write/Flush step: curtin's
// artifacts are config files consumed by the next boot, not a queryable
// store, so the accumulator flushes to flat files rather than a database.
package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FstabEntry is one line of /etc/fstab.
type FstabEntry struct {
	Spec    string
	Path    string
	FSType  string
	Options string
	Freq    int
	Passno  int
}

// Fstab accumulates mount records in execution order; Lines() sorts by
// mount-path depth so parents mount before children.
type Fstab struct {
	entries []FstabEntry
}

// NewFstab returns an empty accumulator.
func NewFstab() *Fstab { return &Fstab{} }

// Add records one mount. Defaults: opts=defaults, freq=0. Passno is the
// caller's responsibility: it depends on whether the filesystem type is
// "nodev" per the running kernel's /proc/filesystems, which this package
// has no business re-deriving from a hard-coded guess — internal/exec's
// mount executor is the one place that probes it and sets Passno
// accordingly.
func (f *Fstab) Add(e FstabEntry) {
	if e.Options == "" {
		e.Options = "defaults"
	}
	f.entries = append(f.entries, e)
}

// Lines returns the accumulated entries ordered by ascending mount-path
// depth (number of path components, so "/" is 0 and "/home" is 1), stable
// on ties.
func (f *Fstab) Lines() []FstabEntry {
	out := make([]FstabEntry, len(f.entries))
	copy(out, f.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return depth(out[i].Path) < depth(out[j].Path)
	})
	return out
}

func depth(path string) int {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "/") + 1
}

// Render formats the accumulated entries as fstab text.
func (f *Fstab) Render() string {
	var b strings.Builder
	for _, e := range f.Lines() {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%d\n", e.Spec, e.Path, e.FSType, e.Options, e.Freq, e.Passno)
	}
	return b.String()
}

// WriteFstab renders and writes /etc/fstab under targetRoot.
func WriteFstab(targetRoot string, f *Fstab) error {
	path := filepath.Join(targetRoot, "etc", "fstab")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir for fstab: %w", err)
	}
	if err := os.WriteFile(path, []byte(f.Render()), 0o644); err != nil {
		return fmt.Errorf("persist: write fstab: %w", err)
	}
	return nil
}
