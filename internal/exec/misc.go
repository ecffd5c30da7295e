package exec

import (
	"context"
	"fmt"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() {
	register(storageconfig.TypeNVMeController, execNVMeController)
	register(storageconfig.TypeDevice, execDevice)
	register(storageconfig.TypeDASD, execDASD)
}

// execNVMeController performs no device mutation; it only checks that a
// tcp transport carries tcp_addr and tcp_port. It annotates no disk and no
// connect unit is emitted for it.
func execNVMeController(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry
	if e.Transport == "tcp" && (e.TCPAddr == "" || e.TCPPort == 0) {
		return nil, fmt.Errorf("nvme_controller %s: transport tcp requires tcp_addr and tcp_port", e.ID)
	}
	return &Result{}, nil
}

// execDevice is a pass-through reference to an externally managed block
// device; it resolves to whatever path was already provided, and may
// still be partitioned by later actions.
func execDevice(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry
	if e.Path == "" {
		return nil, fmt.Errorf("device %s: no path given for externally managed device", e.ID)
	}
	return &Result{DevicePath: e.Path}, nil
}

// execDASD performs the s390x ECKD pre-disk low-level format; validation
// of disk_layout/label/mode already ran in storageconfig.Validate, here
// we drive dasdfmt.
func execDASD(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	devPath := e.Path
	if devPath == "" {
		return nil, fmt.Errorf("dasd %s: no path given", e.ID)
	}

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: devPath}, nil
	}

	args := []string{"-y", "-d", e.DiskLayout}
	if e.BlockSize != 0 {
		args = append(args, "-b", fmt.Sprintf("%d", e.BlockSize))
	}
	if e.DASDLabel != "" {
		args = append(args, "-l", e.DASDLabel)
	}
	switch e.Mode {
	case "quick":
		args = append(args, "--mode=quick")
	case "expand":
		args = append(args, "--mode=expand")
	default:
		args = append(args, "--mode=full")
	}
	args = append(args, devPath)

	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "dasdfmt", Args: args}); err != nil {
		return nil, fmt.Errorf("dasd %s: dasdfmt: %w", e.ID, err)
	}

	return &Result{DevicePath: devPath}, nil
}
