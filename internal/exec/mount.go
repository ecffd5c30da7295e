package exec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/persist"
	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() { register(storageconfig.TypeMount, execMount) }

// execMount computes the most reliable fstab identifier, appends an fstab
// record to ec.Fstab, and bind-mounts the device at its target path inside
// TargetRoot for subsequent installer stages.
func execMount(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	var formatEntry *storageconfig.Entry
	if e.Device != "" {
		formatEntry = ec.ByID[e.Device]
	}

	spec, fstype, err := mountSpec(ec, e, formatEntry)
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", e.ID, err)
	}

	mountPoint := e.Path

	options := e.Options
	if formatEntry != nil && isISCSIBacked(ec, formatEntry) {
		options = appendOption(options, "_netdev")
	}

	if fstype == "swap" {
		ec.Fstab.Add(persist.FstabEntry{Spec: spec, Path: "none", FSType: "swap", Options: defaultOr(options, "sw")})
		return &Result{}, nil
	}

	nodevSet, err := probe.NodevFilesystems(ec.ProcRoot)
	if err != nil {
		return nil, fmt.Errorf("mount %s: reading /proc/filesystems: %w", e.ID, err)
	}

	passno := 1
	if nodevSet[fstype] {
		passno = 0
	}
	ec.Fstab.Add(persist.FstabEntry{
		Spec: spec, Path: mountPoint, FSType: fstype,
		Options: defaultOr(options, "defaults"), Freq: 0, Passno: passno,
	})

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: mountPoint}, nil
	}

	fullPath := filepath.Join(ec.TargetRoot, mountPoint)
	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return nil, fmt.Errorf("mount %s: mkdir %s: %w", e.ID, fullPath, err)
	}

	devPath, err := resolveDevicePath(ec, e.Device)
	if err == nil {
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "mount", Args: []string{devPath, fullPath},
		}); err != nil {
			return nil, fmt.Errorf("mount %s: %w", e.ID, err)
		}
	}

	return &Result{DevicePath: mountPoint}, nil
}

// mountSpec picks the fstab identifier: an explicitly declared uuid on the
// backing entry if set, else the filesystem UUID the probe discovered after
// mkfs ran (a fresh ext4 root with no declared uuid still ends up keyed by
// UUID= in fstab), else the raw /dev path for devices with no filesystem
// UUID (raid/lvm members, special filesystems).
func mountSpec(ec *Context, e, formatEntry *storageconfig.Entry) (spec, fstype string, err error) {
	if formatEntry == nil {
		if e.Spec == "" {
			return "", "", fmt.Errorf("mount references no device and has no spec")
		}
		return e.Spec, e.FSType, nil
	}

	fstype = formatEntry.FSType
	backing := formatEntry.Volume
	if backing == "" {
		backing = formatEntry.Device
	}
	backingEntry := ec.ByID[backing]

	if backingEntry != nil && backingEntry.UUID != "" {
		return "UUID=" + backingEntry.UUID, fstype, nil
	}

	path, err := resolveDevicePath(ec, backing)
	if err != nil {
		return "", "", err
	}
	if uuid := probedFSUUID(ec, path); uuid != "" {
		return "UUID=" + uuid, fstype, nil
	}
	return path, fstype, nil
}

// probedFSUUID looks up the filesystem UUID the probe discovered on path,
// keyed by kname the same way lsblk output is merged in internal/probe.
func probedFSUUID(ec *Context, path string) string {
	if ec.Snapshot == nil {
		return ""
	}
	kname := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		kname = path[idx+1:]
	}
	if dev, ok := ec.Snapshot.Devices[kname]; ok {
		return dev.FSUUID
	}
	return ""
}

func isISCSIBacked(ec *Context, formatEntry *storageconfig.Entry) bool {
	backing := formatEntry.Volume
	if backing == "" {
		backing = formatEntry.Device
	}
	for {
		entry, ok := ec.ByID[backing]
		if !ok {
			return false
		}
		if entry.Type == storageconfig.TypeDisk {
			return entry.ISCSI != ""
		}
		backing = entry.Device
		if backing == "" {
			return false
		}
	}
}

func appendOption(opts, add string) string {
	if opts == "" {
		return add
	}
	for _, o := range strings.Split(opts, ",") {
		if o == add {
			return opts
		}
	}
	return opts + "," + add
}

func defaultOr(opts, def string) string {
	if opts == "" {
		return def
	}
	return opts
}
