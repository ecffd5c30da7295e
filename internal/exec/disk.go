package exec

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/exp/slices"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() { register(storageconfig.TypeDisk, execDisk) }

// execDisk resolves disk identity, applies the wipe policy if requested,
// and creates a fresh partition table when ptable is set and preserve is
// false. Wipe modes mirror curtin's own wipe_volume semantics.
func execDisk(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	loc, err := locateDisk(e, ec.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("disk %s: %w", e.ID, err)
	}

	var warnings []string
	warnings = append(warnings, loc.Warnings...)

	if e.GrubDevice {
		// Recorded for the consumer stage; no mutation here.
		warnings = append(warnings, fmt.Sprintf("%s marked as grub_device", loc.Path))
	}

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: loc.Path, Warnings: warnings}, nil
	}

	if e.Wipe != "" {
		if err := wipeDevice(ctx, ec, loc.Path, e.Wipe); err != nil {
			return nil, fmt.Errorf("disk %s: wipe: %w", e.ID, err)
		}
	}

	if e.PTable != "" {
		label := e.PTable
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "parted", Args: []string{"-s", loc.Path, "mklabel", label},
		}); err != nil {
			return nil, fmt.Errorf("disk %s: mklabel %s: %w", e.ID, label, err)
		}
	}

	return &Result{DevicePath: loc.Path, Warnings: warnings}, nil
}

// wipeDevice applies one of the five wipe modes: superblock,
// superblock-recursive, pvremove, zero, random.
func wipeDevice(ctx context.Context, ec *Context, path string, mode storageconfig.WipeMode) error {
	switch mode {
	case storageconfig.WipeSuperblock:
		return wipeSuperblock(ctx, ec, path)
	case storageconfig.WipeSuperblockRecursive:
		if err := wipeSuperblock(ctx, ec, path); err != nil {
			return err
		}
		return wipeMemberSignatures(ctx, ec, path)
	case storageconfig.WipePVRemove:
		_, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "pvremove", Args: []string{"-ff", "-y", path}})
		return err
	case storageconfig.WipeZero:
		_, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "dd", Args: []string{"if=/dev/zero", "of=" + path, "bs=1M"},
			Timeout: zeroWipeTimeout,
		})
		return err
	case storageconfig.WipeRandom:
		_, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "dd", Args: []string{"if=/dev/urandom", "of=" + path, "bs=1M"},
			Timeout: zeroWipeTimeout,
		})
		return err
	default:
		return fmt.Errorf("unknown wipe mode %q", mode)
	}
}

// wipeSuperblock: GPT disks are zapped with sgdisk --zap-all (clears both
// the primary and the backup GPT at the end of the disk in one call);
// anything else falls back to zeroing the first and last 1 MiB directly,
// which is where an msdos (or unrecognized) partition table and any
// residual filesystem/raid signature live.
func wipeSuperblock(ctx context.Context, ec *Context, path string) error {
	dev := deviceAt(ec, path)
	if dev != nil && dev.PartTable == "gpt" {
		_, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "sgdisk", Args: []string{"--zap-all", path}})
		return err
	}

	var size int64
	if dev != nil {
		size = dev.Size
	}
	return zeroFirstAndLastMiB(ctx, ec.Runner, path, size)
}

func zeroFirstAndLastMiB(ctx context.Context, runner *toolrunner.Runner, path string, size int64) error {
	const mib = 1 << 20

	if _, err := runner.Run(ctx, toolrunner.Invocation{
		Name: "dd", Args: []string{"if=/dev/zero", "of=" + path, "bs=1M", "count=1"},
	}); err != nil {
		return fmt.Errorf("zero first 1MiB: %w", err)
	}

	if size <= mib {
		return nil
	}
	seek := size/mib - 1
	if _, err := runner.Run(ctx, toolrunner.Invocation{
		Name: "dd", Args: []string{"if=/dev/zero", "of=" + path, "bs=1M", "count=1", fmt.Sprintf("seek=%d", seek)},
	}); err != nil {
		return fmt.Errorf("zero last 1MiB: %w", err)
	}
	return nil
}

// wipeMemberSignatures additionally clears discovered member signatures:
// every device still recorded beneath path in the probe snapshot (old
// partitions, and whatever was layered on them) gets its own wipefs -a,
// depth-first, so a stale raid/lvm/bcache signature further down the stack
// can't be rediscovered by the kernel after the disk itself is
// repartitioned.
func wipeMemberSignatures(ctx context.Context, ec *Context, path string) error {
	if ec.Snapshot == nil {
		return nil
	}
	base := basename(path)
	var children []string
	for kname, dev := range ec.Snapshot.Devices {
		if slices.Contains(dev.Parents, base) {
			children = append(children, kname)
		}
	}
	sort.Strings(children)

	for _, kname := range children {
		childPath := "/dev/" + kname
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "wipefs", Args: []string{"-a", childPath},
		}); err != nil {
			return fmt.Errorf("wipe member signature %s: %w", kname, err)
		}
		if err := wipeMemberSignatures(ctx, ec, childPath); err != nil {
			return err
		}
	}
	return nil
}

func deviceAt(ec *Context, path string) *probe.Device {
	if ec.Snapshot == nil {
		return nil
	}
	return ec.Snapshot.Devices[basename(path)]
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
