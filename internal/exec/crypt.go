package exec

import (
	"context"
	"fmt"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/persist"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() { register(storageconfig.TypeDMCrypt, execDMCrypt) }

// execDMCrypt runs cryptsetup luksFormat then open, and records the
// crypttab line. Exactly one of key/keyfile is present (enforced by
// storageconfig.Validate); /dev/urandom and /dev/random keyfile values are
// literal and propagated verbatim.
func execDMCrypt(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	volPath, err := resolveDevicePath(ec, e.Volume)
	if err != nil {
		return nil, fmt.Errorf("dm_crypt %s: %w", e.ID, err)
	}

	dmName := e.DMName
	if dmName == "" {
		dmName = e.ID
	}
	mappedPath := "/dev/mapper/" + dmName

	if step.VerifyOnly || e.IsPreserve() {
		return &Result{DevicePath: mappedPath}, nil
	}

	keySpec := e.KeyFile
	if keySpec == "" {
		keySpec = "none" // interactive passphrase via e.Key at format/open time
	}

	formatArgs := []string{"luksFormat", "--batch-mode", volPath}
	if e.Key != "" {
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "cryptsetup", Args: formatArgs, Stdin: []byte(e.Key + "\n"),
		}); err != nil {
			return nil, fmt.Errorf("dm_crypt %s: luksFormat: %w", e.ID, err)
		}
	} else {
		formatArgs = append([]string{"luksFormat", "--batch-mode", "--key-file", e.KeyFile}, volPath)
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "cryptsetup", Args: formatArgs}); err != nil {
			return nil, fmt.Errorf("dm_crypt %s: luksFormat: %w", e.ID, err)
		}
	}

	openArgs := []string{"open", volPath, dmName}
	if e.KeyFile != "" {
		openArgs = append(openArgs, "--key-file", e.KeyFile)
	}
	var stdin []byte
	if e.Key != "" {
		stdin = []byte(e.Key + "\n")
	}
	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{Name: "cryptsetup", Args: openArgs, Stdin: stdin}); err != nil {
		return nil, fmt.Errorf("dm_crypt %s: open: %w", e.ID, err)
	}

	ec.Crypttab.Add(persist.CrypttabEntry{
		DMName: dmName, Volume: volPath, KeySpec: keySpec, Options: "luks",
	})

	return &Result{DevicePath: mappedPath}, nil
}
