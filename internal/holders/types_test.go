package holders_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/curtin-go/storage/internal/holders"
	"github.com/curtin-go/storage/internal/probe"
)

func snapshotFixture() *probe.Snapshot {
	return &probe.Snapshot{
		Devices: map[string]*probe.Device{
			"sda":    {KName: "sda", Type: probe.DevDisk, Holders: []string{"sda1"}},
			"sda1":   {KName: "sda1", Type: probe.DevPartition, Parents: []string{"sda"}, Holders: []string{"dm-0"}},
			"dm-0":   {KName: "dm-0", Type: probe.DevCrypt, Parents: []string{"sda1"}},
			"unrel":  {KName: "unrel", Type: probe.DevDisk},
		},
	}
}

func TestBuildRestrictsToHolderClosure(t *testing.T) {
	snap := snapshotFixture()
	tree := holders.Build(snap, nil, []string{"sda"})

	assert.Contains(t, tree.Nodes, "sda")
	assert.Contains(t, tree.Nodes, "sda1")
	assert.Contains(t, tree.Nodes, "dm-0")
	assert.NotContains(t, tree.Nodes, "unrel")
}

func TestOrderTearsDownLeavesFirst(t *testing.T) {
	snap := snapshotFixture()
	tree := holders.Build(snap, nil, []string{"sda"})

	order := tree.Order()
	indexOf := func(kname string) int {
		for i, k := range order {
			if k == kname {
				return i
			}
		}
		return -1
	}

	// crypt (holds nothing further up in this fixture) must clear before the
	// partition it sits on, which must clear before the disk.
	assert.Less(t, indexOf("dm-0"), indexOf("sda1"))
	assert.Less(t, indexOf("sda1"), indexOf("sda"))
}

func TestOrderMountedNodeGoesFirst(t *testing.T) {
	snap := snapshotFixture()
	mounts := map[string][]string{"dm-0": {"/mnt/data"}}
	tree := holders.Build(snap, mounts, []string{"sda"})

	order := tree.Order()
	assert.Equal(t, "dm-0", order[0])
}

// lvmOverBcacheFixture builds the concrete-scenario-5 topology: a disk
// partitioned, the partition used as a bcache backing device (paired with a
// whole-disk cache device), the bcache device used as an LVM PV, feeding a
// VG and a mounted LV. bcache's global device-type priority (1) is lower
// than LVM's (3), so a priority-only sort would tear bcache down before the
// LVM stack still sitting on it; level-based ordering must not.
func lvmOverBcacheFixture() *probe.Snapshot {
	return &probe.Snapshot{
		Devices: map[string]*probe.Device{
			"sda":     {KName: "sda", Type: probe.DevDisk, Holders: []string{"sda1"}},
			"sda1":    {KName: "sda1", Type: probe.DevPartition, Parents: []string{"sda"}, Holders: []string{"bcache0"}},
			"sdb":     {KName: "sdb", Type: probe.DevDisk, Holders: []string{"bcache0"}},
			"bcache0": {KName: "bcache0", Type: probe.DevBcache, Parents: []string{"sda1", "sdb"}, Holders: []string{"vg-lv"}},
			"vg-lv":   {KName: "vg-lv", Type: probe.DevLVM, Parents: []string{"bcache0"}},
		},
	}
}

func TestOrderLevelBeatsTypePriorityAcrossBcacheAndLVM(t *testing.T) {
	snap := lvmOverBcacheFixture()
	mounts := map[string][]string{"vg-lv": {"/"}}
	tree := holders.Build(snap, mounts, []string{"sda", "sdb"})

	order := tree.Order()
	indexOf := func(kname string) int {
		for i, k := range order {
			if k == kname {
				return i
			}
		}
		return -1
	}

	// The LVM logical volume (mounted, deepest) must clear before bcache,
	// and bcache must clear before the partition and cache disk beneath it,
	// even though bcache's device-type priority is numerically lower than
	// LVM's.
	assert.Less(t, indexOf("vg-lv"), indexOf("bcache0"))
	assert.Less(t, indexOf("bcache0"), indexOf("sda1"))
	assert.Less(t, indexOf("bcache0"), indexOf("sdb"))
}

func TestPriorityPVPartitionBeatsPlainPartition(t *testing.T) {
	pv := &holders.Node{Type: probe.DevPartition, IsPV: true}
	plain := &holders.Node{Type: probe.DevPartition}

	assert.Less(t, holders.Priority(pv), holders.Priority(plain))
}

func TestPriorityPVRaidKeepsRaidTier(t *testing.T) {
	pvRaid := &holders.Node{Type: probe.DevRaid, IsPV: true}
	plainRaid := &holders.Node{Type: probe.DevRaid}

	// A raid array that's also a PV must not be demoted to the lvm-pv tier:
	// raid already sorts earlier than lvm-pv, so IsPV must be a no-op here.
	assert.Equal(t, holders.Priority(plainRaid), holders.Priority(pvRaid))
}
