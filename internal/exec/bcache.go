package exec

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/exp/slices"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() { register(storageconfig.TypeBcache, execBcache) }

// execBcache runs make-bcache -B backing -C cache, registers the set, and
// sets the cache mode.
func execBcache(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	backing, err := resolveDevicePath(ec, e.BackingDevice)
	if err != nil {
		return nil, fmt.Errorf("bcache %s: %w", e.ID, err)
	}

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: "/dev/bcache0"}, nil
	}

	args := []string{"-B", backing}
	if e.CacheDevice != "" {
		cache, err := resolveDevicePath(ec, e.CacheDevice)
		if err != nil {
			return nil, fmt.Errorf("bcache %s: cache_device: %w", e.ID, err)
		}
		args = append(args, "-C", cache)
	}

	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "make-bcache", Args: args}); err != nil {
		return nil, fmt.Errorf("bcache %s: make-bcache: %w", e.ID, err)
	}

	devPath, err := settledBcacheDevice(ctx, ec, backing)
	if err != nil {
		return nil, fmt.Errorf("bcache %s: %w", e.ID, err)
	}

	if e.CacheMode != "" {
		kname := devPath[len("/dev/"):]
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "sh",
			Args: []string{"-c", fmt.Sprintf("echo %s > /sys/block/%s/bcache/cache_mode", e.CacheMode, kname)},
		}); err != nil {
			return nil, fmt.Errorf("bcache %s: set cache_mode: %w", e.ID, err)
		}
	}

	return &Result{DevicePath: devPath}, nil
}

// settledBcacheDevice waits for udev to register the bcache node after
// registration and returns its /dev path; the probe snapshot (refreshed by
// the caller's Reprobe) is searched by backing-device linkage.
func settledBcacheDevice(ctx context.Context, ec *Context, backingPath string) (string, error) {
	if err := settle(ctx, ec); err != nil {
		return "", err
	}
	snap, _ := reprobe(ctx, ec)
	backingKName := filepath.Base(backingPath)
	for kname, dev := range snap.Devices {
		if dev.Type == "bcache" && slices.Contains(dev.Parents, backingKName) {
			return "/dev/" + kname, nil
		}
	}
	return "", fmt.Errorf("no bcache device appeared after registering %s", backingPath)
}
