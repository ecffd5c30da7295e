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

// v2PartitionFixture recreates the two-logical-partition layout: an msdos
// disk with logicals at byte offsets 3075 MiB and 5123 MiB already on it.
func v2PartitionFixture() *probe.Snapshot {
	const mib = int64(1) << 20
	return &probe.Snapshot{
		Devices: map[string]*probe.Device{
			"sda": {KName: "sda", Path: "/dev/sda", Type: probe.DevDisk, PartTable: "msdos"},
			"sda5": {
				KName: "sda5", Type: probe.DevPartition, Parents: []string{"sda"},
				Start: 3075 * mib,
			},
			"sda6": {
				KName: "sda6", Type: probe.DevPartition, Parents: []string{"sda"},
				Start: 5123 * mib,
			},
		},
	}
}

func v2Context(t *testing.T, entries []storageconfig.Entry) (*exec.Context, *[]toolrunner.Invocation) {
	var invocations []toolrunner.Invocation
	runner := &toolrunner.Runner{
		DryRun:   true,
		OnInvoke: func(inv toolrunner.Invocation) { invocations = append(invocations, inv) },
	}
	ec := exec.NewContext(runner, "", "/target", 2, entries)
	ec.Snapshot = v2PartitionFixture()
	ec.DeviceMap["disk0"] = "/dev/sda"
	t.Helper()
	return ec, &invocations
}

// TestV2PartitionDiffWipesAbsentLogicalAndKeepsDeclared matches the
// concrete offset-identity scenario: only the 5123 MiB logical is declared
// (with preserve: true), so the 3075 MiB logical must be wiped and deleted
// while the declared one is resolved by offset and left untouched.
func TestV2PartitionDiffWipesAbsentLogicalAndKeepsDeclared(t *testing.T) {
	preserve := true
	offset := storageconfig.Size(5123 * (1 << 20))
	entries := []storageconfig.Entry{
		{ID: "disk0", Type: storageconfig.TypeDisk, Serial: "WD-1"},
		{ID: "part0", Type: storageconfig.TypePartition, Device: "disk0", Offset: &offset, Preserve: &preserve},
	}
	ec, invocations := v2Context(t, entries)

	res, err := exec.Run(context.Background(), ec, graph.Step{Entry: &entries[1], VerifyOnly: false})
	require.NoError(t, err)

	var wiped, deleted, touchedKept bool
	for _, inv := range *invocations {
		if inv.Name == "wipefs" && containsArg(inv.Args, "/dev/sda5") {
			wiped = true
		}
		if inv.Name == "parted" && containsArg(inv.Args, "rm") && containsArg(inv.Args, "5") {
			deleted = true
		}
		if containsArg(inv.Args, "/dev/sda6") {
			touchedKept = true
		}
	}
	assert.True(t, wiped, "expected the absent 3075 MiB logical to be wiped")
	assert.True(t, deleted, "expected the absent 3075 MiB logical to be deleted")
	assert.False(t, touchedKept, "the declared 5123 MiB logical must not be wiped or removed")

	assert.Equal(t, "/dev/sda6", res.DevicePath)
}

func containsArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}
