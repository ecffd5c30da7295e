package exec

import (
	"context"
	"fmt"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() { register(storageconfig.TypeRaid, execRaid) }

// execRaid runs mdadm --create; the array is then eligible for
// partitioning (its own "partition" entries reference it by id through the
// normal Device field, same as any disk).
func execRaid(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	name := e.Name
	if name == "" {
		name = e.ID
	}
	arrayPath := "/dev/md/" + name

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: arrayPath}, nil
	}

	var members []string
	for _, ref := range e.Devices {
		path, err := resolveDevicePath(ec, ref)
		if err != nil {
			return nil, fmt.Errorf("raid %s: %w", e.ID, err)
		}
		members = append(members, path)
	}

	var spares []string
	for _, ref := range e.SpareDevices {
		path, err := resolveDevicePath(ec, ref)
		if err != nil {
			return nil, fmt.Errorf("raid %s: spare: %w", e.ID, err)
		}
		spares = append(spares, path)
	}

	args := []string{
		"--create", arrayPath,
		fmt.Sprintf("--level=%d", e.RaidLevel),
		fmt.Sprintf("--raid-devices=%d", len(members)),
		"--assume-clean",
	}
	if e.Metadata != "" {
		args = append(args, "--metadata="+e.Metadata)
	}
	if len(spares) > 0 {
		args = append(args, fmt.Sprintf("--spare-devices=%d", len(spares)))
	}
	args = append(args, members...)
	args = append(args, spares...)

	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "mdadm", Args: args}); err != nil {
		return nil, fmt.Errorf("raid %s: mdadm --create: %w", e.ID, err)
	}

	if e.PTable != "" {
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "parted", Args: []string{"-s", arrayPath, "mklabel", e.PTable},
		}); err != nil {
			return nil, fmt.Errorf("raid %s: mklabel %s: %w", e.ID, e.PTable, err)
		}
	}

	return &Result{DevicePath: arrayPath}, nil
}
