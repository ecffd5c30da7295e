package exec

import (
	"context"
	"fmt"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/persist"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() {
	register(storageconfig.TypeLVMVolGroup, execLVMVolGroup)
	register(storageconfig.TypeLVMPartition, execLVMPartition)
}

// execLVMVolGroup pvcreates every member device then vgcreates name. On
// preserve, verifies the membership set matches exactly (delegated to
// internal/verify; here we only resolve the VG's device path for
// downstream lvm_partition actions).
func execLVMVolGroup(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: e.Name}, nil
	}

	var members []string
	for _, ref := range e.Devices {
		path, err := resolveDevicePath(ec, ref)
		if err != nil {
			return nil, fmt.Errorf("lvm_volgroup %s: %w", e.ID, err)
		}
		members = append(members, path)
	}

	for _, m := range members {
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "pvcreate", Args: []string{"-ff", "-y", m}}); err != nil {
			return nil, fmt.Errorf("lvm_volgroup %s: pvcreate %s: %w", e.ID, m, err)
		}
	}

	args := append([]string{e.Name}, members...)
	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "vgcreate", Args: args}); err != nil {
		return nil, fmt.Errorf("lvm_volgroup %s: vgcreate: %w", e.ID, err)
	}

	return &Result{DevicePath: e.Name}, nil
}

// execLVMPartition runs lvcreate -n name [-L size] vg, omitting -L to get
// 100%FREE, and registers a /dev/disk/by-dname/<vg>-<lv> udev rule.
func execLVMPartition(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	vg := ec.ByID[e.VolGroup]
	if vg == nil {
		return nil, fmt.Errorf("lvm_partition %s: volgroup %q not found", e.ID, e.VolGroup)
	}
	path := fmt.Sprintf("/dev/%s/%s", vg.Name, e.Name)

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: path}, nil
	}

	var args []string
	if e.SizeField != nil {
		args = []string{"-n", e.Name, "-L", fmt.Sprintf("%db", int64(*e.SizeField)), vg.Name}
	} else {
		args = []string{"-n", e.Name, "-l", "100%FREE", vg.Name}
	}

	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "lvcreate", Args: args}); err != nil {
		return nil, fmt.Errorf("lvm_partition %s: lvcreate: %w", e.ID, err)
	}

	dname := fmt.Sprintf("%s-%s", vg.Name, e.Name)
	ec.DNameRules = append(ec.DNameRules, persist.DNameRule{Name: dname, KName: fmt.Sprintf("%s-%s", vg.Name, e.Name)})

	return &Result{DevicePath: path}, nil
}
