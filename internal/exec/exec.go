// Package exec implements one action executor per storage config entry
// type: disk, partition, format, mount, lvm_volgroup, lvm_partition,
// dm_crypt, raid, bcache, zpool, zfs, nvme_controller, device, dasd. Every
// executor receives the entry, the current probe snapshot, and a running
// fstab accumulator, and returns the final device path it produced.
//
// Each executor builds an argv, runs it through the shared tool driver,
// parses or trusts the exit code, and wraps failures with enough context
// to diagnose.
package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/identity"
	"github.com/curtin-go/storage/internal/persist"
	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

// Context carries everything an executor needs: the tool runner, the
// sysfs root used for probing, the resolved target mount root, and the
// config-wide index so executors can look up entries they reference.
type Context struct {
	Runner     *toolrunner.Runner
	SysfsRoot  string
	ProcRoot   string // override for /proc/filesystems (testing only)
	TargetRoot string // root of the installed system, e.g. /target
	Version    int    // storage.config schema version (1 or 2)
	ByID       map[string]*storageconfig.Entry
	Snapshot   *probe.Snapshot
	Fstab      *persist.Fstab
	Crypttab   *persist.Crypttab
	DNameRules []persist.DNameRule
	DeviceMap  map[string]string // entry id -> final device path

	v2Diffed map[string]bool // disk entry id -> v2 delete-absent-partitions diff already ran
}

// NewContext wires a fresh execution context around a runner and an
// already-validated, already-planned document.
func NewContext(runner *toolrunner.Runner, sysfsRoot, targetRoot string, version int, entries []storageconfig.Entry) *Context {
	return &Context{
		Runner:     runner,
		SysfsRoot:  sysfsRoot,
		TargetRoot: targetRoot,
		Version:    version,
		ByID:       storageconfig.IndexByID(entries),
		Fstab:      persist.NewFstab(),
		Crypttab:   persist.NewCrypttab(),
		DeviceMap:  make(map[string]string),
		v2Diffed:   make(map[string]bool),
	}
}

// zeroWipeTimeout covers full-disk dd wipes (zero/random modes), which can
// run far longer than the toolrunner default on large disks.
const zeroWipeTimeout = 10 * time.Minute

// Result is what an executor returns: the final device path (or empty for
// executors like nvme_controller that don't materialize one) plus any
// non-fatal warnings collected along the way.
type Result struct {
	DevicePath string
	Warnings   []string
}

// Executor runs one action step against ec and returns its result.
type Executor func(ctx context.Context, ec *Context, step graph.Step) (*Result, error)

// registry maps entry type to its executor. Populated by each executor
// file's init().
var registry = map[storageconfig.Type]Executor{}

func register(t storageconfig.Type, fn Executor) { registry[t] = fn }

// Run dispatches step to the executor for its entry type. VerifyOnly steps
// go through internal/verify instead and never reach here; callers filter
// those out before calling Run (see cmd/curtin-storage's plan-execution
// loop).
func Run(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	fn, ok := registry[step.Entry.Type]
	if !ok {
		return nil, fmt.Errorf("no executor registered for type %q (entry %q)", step.Entry.Type, step.Entry.ID)
	}
	res, err := fn(ctx, ec, step)
	if err != nil {
		return nil, fmt.Errorf("action %s (%s) failed: %w", step.Entry.ID, step.Entry.Type, err)
	}
	if res.DevicePath != "" {
		ec.DeviceMap[step.Entry.ID] = res.DevicePath
	}

	// Every mutation invalidates the probe cache; the next executor's
	// Reprobe/Cached call must see fresh kernel state.
	ec.Snapshot, _ = probe.Reprobe(ctx, ec.Runner, ec.SysfsRoot)
	return res, nil
}

// resolveDevicePath returns the materialized device path for a referenced
// entry id, falling back to treating the id itself as an already-external
// path to an already-materialized physical device.
func resolveDevicePath(ec *Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty device reference")
	}
	if path, ok := ec.DeviceMap[ref]; ok {
		return path, nil
	}
	if len(ref) > 0 && ref[0] == '/' {
		return ref, nil
	}
	return "", fmt.Errorf("reference %q has not been materialized yet", ref)
}

// locateDisk resolves a disk entry's sysfs/dev path through the identity
// priority chain.
func locateDisk(e *storageconfig.Entry, snap *probe.Snapshot) (*identity.Located, error) {
	return identity.Resolve(e, snap)
}

// settle and reprobe are thin wrappers so executors needing an extra
// settle-then-reprobe round (bcache, zpool registration) don't reach into
// internal/probe directly.
func settle(ctx context.Context, ec *Context) error {
	return probe.Settle(ctx, ec.Runner)
}

func reprobe(ctx context.Context, ec *Context) (*probe.Snapshot, []probe.Warning) {
	snap, warnings := probe.Reprobe(ctx, ec.Runner, ec.SysfsRoot)
	ec.Snapshot = snap
	return snap, warnings
}
