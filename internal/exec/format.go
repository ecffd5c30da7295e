package exec

import (
	"context"
	"fmt"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() { register(storageconfig.TypeFormat, execFormat) }

// execFormat invokes mkfs.<fstype>: fat* chooses a table size, ext*
// accepts uuid/label, unknown fstypes are accepted verbatim (then label is
// ignored) provided mkfs.<fstype> exists on PATH.
func execFormat(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	target := e.Volume
	if target == "" {
		target = e.Device
	}
	devPath, err := resolveDevicePath(ec, target)
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", e.ID, err)
	}

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: devPath}, nil
	}

	args := mkfsArgs(e)
	args = append(args, e.ExtraOptions...)
	args = append(args, devPath)

	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
		Name: "mkfs." + e.FSType, Args: args,
	}); err != nil {
		return nil, fmt.Errorf("format %s: mkfs.%s: %w", e.ID, e.FSType, err)
	}

	return &Result{DevicePath: devPath}, nil
}

func mkfsArgs(e *storageconfig.Entry) []string {
	var args []string

	switch {
	case e.FSType == "vfat" || e.FSType == "fat32" || e.FSType == "fat16":
		args = append(args, "-F", fatTableSize(e.FSType))
		if e.Label != "" {
			args = append(args, "-n", e.Label)
		}
	case isExtFS(e.FSType):
		if e.UUID != "" {
			args = append(args, "-U", e.UUID)
		}
		if e.Label != "" {
			args = append(args, "-L", e.Label)
		}
	default:
		// Unknown fstype: accepted as long as mkfs.<fstype> exists, but
		// label has no agreed-upon flag across filesystems so it's dropped
		// here.
	}

	return args
}

func isExtFS(fstype string) bool {
	return fstype == "ext2" || fstype == "ext3" || fstype == "ext4"
}

func fatTableSize(fstype string) string {
	switch fstype {
	case "fat16":
		return "16"
	default:
		return "32"
	}
}
