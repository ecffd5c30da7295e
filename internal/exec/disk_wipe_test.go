package exec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtin-go/storage/internal/exec"
	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func wipeContext(wipe storageconfig.WipeMode, dev *probe.Device) (*exec.Context, []storageconfig.Entry, *[]toolrunner.Invocation) {
	var invocations []toolrunner.Invocation
	runner := &toolrunner.Runner{
		DryRun:   true,
		OnInvoke: func(inv toolrunner.Invocation) { invocations = append(invocations, inv) },
	}
	entries := []storageconfig.Entry{
		{ID: "disk0", Type: storageconfig.TypeDisk, Serial: "WD-1", Wipe: wipe},
	}
	ec := exec.NewContext(runner, "", "/target", 1, entries)
	ec.Snapshot = &probe.Snapshot{Devices: map[string]*probe.Device{"sda": dev}}
	return ec, entries, &invocations
}

// TestWipeSuperblockUsesSgdiskZapAllOnGPT: a GPT-labeled disk is wiped with
// one sgdisk --zap-all call rather than the msdos fallback of zeroing the
// first and last MiB directly.
func TestWipeSuperblockUsesSgdiskZapAllOnGPT(t *testing.T) {
	dev := &probe.Device{KName: "sda", Path: "/dev/sda", Serial: "WD-1", PartTable: "gpt", Size: 10 << 30}
	ec, entries, invocations := wipeContext(storageconfig.WipeSuperblock, dev)

	_, err := exec.Run(context.Background(), ec, graph.Step{Entry: &entries[0]})
	require.NoError(t, err)

	var sawZapAll bool
	for _, inv := range *invocations {
		if inv.Name == "sgdisk" {
			require.Contains(t, inv.Args, "--zap-all")
			sawZapAll = true
		}
		assert.NotEqual(t, "dd", inv.Name, "gpt wipe must not fall back to zeroing MiBs directly")
	}
	assert.True(t, sawZapAll)
}

// TestWipeSuperblockZeroesFirstAndLastMiBOnMsdos: an msdos (non-GPT) disk
// has no backup table to zap, so the fallback zeroes the first and last
// MiB of the device instead.
func TestWipeSuperblockZeroesFirstAndLastMiBOnMsdos(t *testing.T) {
	const mib = int64(1) << 20
	dev := &probe.Device{KName: "sda", Path: "/dev/sda", Serial: "WD-1", PartTable: "msdos", Size: 100 * mib}
	ec, entries, invocations := wipeContext(storageconfig.WipeSuperblock, dev)

	_, err := exec.Run(context.Background(), ec, graph.Step{Entry: &entries[0]})
	require.NoError(t, err)

	var ddCalls int
	var sawSeek99 bool
	for _, inv := range *invocations {
		assert.NotEqual(t, "sgdisk", inv.Name, "msdos wipe must not call sgdisk")
		if inv.Name == "dd" {
			ddCalls++
			if containsArg(inv.Args, "seek=99") {
				sawSeek99 = true
			}
		}
	}
	assert.Equal(t, 2, ddCalls, "expected one dd for the first MiB and one for the last")
	assert.True(t, sawSeek99, "expected the last-MiB zero to seek to size/MiB - 1")
}

// TestWipeModeZeroUsesExtendedTimeout: the zero/random full-disk wipe modes
// pass the longer zeroWipeTimeout rather than the runner's default, since a
// full dd pass over a large disk can run well past five minutes.
func TestWipeModeZeroUsesExtendedTimeout(t *testing.T) {
	dev := &probe.Device{KName: "sda", Path: "/dev/sda", Serial: "WD-1"}
	ec, entries, invocations := wipeContext(storageconfig.WipeZero, dev)

	_, err := exec.Run(context.Background(), ec, graph.Step{Entry: &entries[0]})
	require.NoError(t, err)

	var found bool
	for _, inv := range *invocations {
		if inv.Name == "dd" && containsArg(inv.Args, "if=/dev/zero") {
			found = true
			assert.Greater(t, inv.Timeout, toolrunner.DefaultTimeout)
		}
	}
	assert.True(t, found)
}

// TestWipeModePVRemove: the pvremove mode shells directly to pvremove
// rather than dd/sgdisk/wipefs.
func TestWipeModePVRemove(t *testing.T) {
	dev := &probe.Device{KName: "sda", Path: "/dev/sda", Serial: "WD-1"}
	ec, entries, invocations := wipeContext(storageconfig.WipePVRemove, dev)

	_, err := exec.Run(context.Background(), ec, graph.Step{Entry: &entries[0]})
	require.NoError(t, err)

	var found bool
	for _, inv := range *invocations {
		if inv.Name == "pvremove" {
			found = true
			assert.Contains(t, inv.Args, "/dev/sda")
		}
	}
	assert.True(t, found)
}
