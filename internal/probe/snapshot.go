package probe

import (
	"context"
	"time"

	"github.com/curtin-go/storage/internal/cache"
	"github.com/curtin-go/storage/internal/toolrunner"
)

const settleTimeout = 60 * time.Second

const cacheKey = "probe:snapshot"

// Take produces a fresh Snapshot: sysfs walk, then merges from lsblk, mdadm,
// lvm, dmsetup, bcache, zpool. Tool failures are collected as warnings
// rather than aborting the probe, since a subsequent action may not even
// need that tool's data.
//
// Take always rebuilds; callers that want the invalidate-on-mutation
// behavior should go through Cached, below.
func Take(ctx context.Context, runner *toolrunner.Runner, sysfsRoot string) (*Snapshot, []Warning) {
	devices, err := collectSysfs(sysfsRoot)
	if err != nil {
		return &Snapshot{Devices: map[string]*Device{}}, []Warning{{Tool: "sysfs", Err: err}}
	}

	var warnings []Warning
	warnings = append(warnings, mergeLsblk(ctx, runner, devices)...)
	warnings = append(warnings, mergeMdadm(ctx, runner, devices)...)

	vgs, w := mergeLVM(ctx, runner, devices)
	warnings = append(warnings, w...)

	warnings = append(warnings, mergeDMSetup(ctx, runner, devices)...)
	mergeBcache(devices)

	zpools, w := mergeZpool(ctx, runner, devices)
	warnings = append(warnings, w...)

	return &Snapshot{Devices: devices, Zpools: zpools, VGs: vgs}, warnings
}

// Cached returns the process-wide cached snapshot, taking a fresh one on
// first call or after cache.Global().Bump() has invalidated it. There is
// no caching across an action boundary: every executor that mutates
// kernel state must call cache.Global().Bump() before its successor reads
// topology again.
func Cached(ctx context.Context, runner *toolrunner.Runner, sysfsRoot string) (*Snapshot, []Warning) {
	c := cache.Global()
	if v := c.Get(cacheKey); v != nil {
		return v.(*Snapshot), nil
	}

	snap, warnings := Take(ctx, runner, sysfsRoot)
	c.Set(cacheKey, snap)
	return snap, warnings
}

// Reprobe forces invalidation and takes a fresh snapshot; executors call
// this immediately after a mutation, so a targeted reprobe always runs
// before the next action reads topology again.
func Reprobe(ctx context.Context, runner *toolrunner.Runner, sysfsRoot string) (*Snapshot, []Warning) {
	cache.Global().Bump()
	return Cached(ctx, runner, sysfsRoot)
}

// Settle shells out to udevadm settle, honoring the 60s default timeout.
func Settle(ctx context.Context, runner *toolrunner.Runner) error {
	_, err := runner.Run(ctx, toolrunner.Invocation{Name: "udevadm", Args: []string{"settle"}, Timeout: settleTimeout})
	return err
}
