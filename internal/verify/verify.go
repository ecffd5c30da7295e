// Package verify checks a preserve: true entry against on-disk reality,
// per a fixed check matrix keyed by entry type. A mismatch is fatal with a
// message naming the offending field, expected, and observed values.
package verify

import (
	"fmt"
	"strconv"
	"strings"

	curtinexec "github.com/curtin-go/storage/internal/exec"
	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/storageconfig"
)

// Mismatch names one field that disagreed between declared config and
// observed device state.
type Mismatch struct {
	Field    string
	Expected string
	Observed string
}

func (m Mismatch) Error() string {
	return fmt.Sprintf("field %q: expected %q, observed %q", m.Field, m.Expected, m.Observed)
}

// Check verifies e against snap, returning every Mismatch found (empty
// slice means the preserved entry matches). Devices that don't exist at
// all are reported as a single "existence" mismatch.
func Check(e *storageconfig.Entry, snap *probe.Snapshot, devPath string) []Mismatch {
	switch e.Type {
	case storageconfig.TypeDisk:
		return checkDisk(e, snap, devPath)
	case storageconfig.TypePartition:
		return checkPartition(e, snap, devPath)
	case storageconfig.TypeLVMVolGroup:
		return checkVolGroup(e, snap)
	case storageconfig.TypeLVMPartition:
		return checkLogicalVolume(e, snap, devPath)
	case storageconfig.TypeDMCrypt:
		return checkDMCrypt(e, snap, devPath)
	case storageconfig.TypeRaid:
		return checkRaid(e, snap, devPath)
	case storageconfig.TypeBcache:
		return checkBcache(e, snap, devPath)
	case storageconfig.TypeFormat:
		return checkFormat(e, snap, devPath)
	default:
		return nil
	}
}

func deviceByPath(snap *probe.Snapshot, path string) *probe.Device {
	kname := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			kname = path[i+1:]
			break
		}
	}
	return snap.Devices[kname]
}

func checkDisk(e *storageconfig.Entry, snap *probe.Snapshot, devPath string) []Mismatch {
	dev := deviceByPath(snap, devPath)
	if dev == nil {
		return []Mismatch{{Field: "existence", Expected: devPath, Observed: "not found"}}
	}
	var mismatches []Mismatch
	if e.PTable != "" && dev.PartTable != e.PTable {
		mismatches = append(mismatches, Mismatch{Field: "ptable", Expected: e.PTable, Observed: dev.PartTable})
	}
	return mismatches
}

func checkPartition(e *storageconfig.Entry, snap *probe.Snapshot, devPath string) []Mismatch {
	dev := deviceByPath(snap, devPath)
	if dev == nil {
		return []Mismatch{{Field: "existence", Expected: devPath, Observed: "not found"}}
	}
	var mismatches []Mismatch
	if e.SizeField != nil && dev.Size != int64(*e.SizeField) {
		mismatches = append(mismatches, Mismatch{
			Field: "size", Expected: fmt.Sprintf("%d", int64(*e.SizeField)), Observed: fmt.Sprintf("%d", dev.Size),
		})
	}
	if e.UUID != "" && dev.PartUUID != "" && dev.PartUUID != e.UUID {
		mismatches = append(mismatches, Mismatch{Field: "uuid", Expected: e.UUID, Observed: dev.PartUUID})
	}
	if e.PartitionName != "" && dev.PartLabel != e.PartitionName {
		mismatches = append(mismatches, Mismatch{Field: "partition_name", Expected: e.PartitionName, Observed: dev.PartLabel})
	}
	if e.PartitionType != "" && dev.PartType != "" && !strings.EqualFold(dev.PartType, e.PartitionType) {
		mismatches = append(mismatches, Mismatch{Field: "partition_type", Expected: e.PartitionType, Observed: dev.PartType})
	}
	if e.Flag != "" {
		if guid, ok := curtinexec.GPTFlagGUIDs[e.Flag]; ok && dev.PartType != "" && !strings.EqualFold(dev.PartType, guid) {
			mismatches = append(mismatches, Mismatch{Field: "flag", Expected: e.Flag, Observed: dev.PartType})
		}
	}
	if len(e.Attrs) > 0 {
		observed := attrBitsFromMask(dev.PartFlags)
		if !sameSet(observed, e.Attrs) {
			mismatches = append(mismatches, Mismatch{
				Field: "attrs", Expected: fmt.Sprintf("%v", e.Attrs), Observed: fmt.Sprintf("%v", observed),
			})
		}
	}
	return mismatches
}

// attrBitsFromMask decodes a GPT attribute bitmask (as lsblk's PARTFLAGS
// reports it, a hex string) into the set bit numbers as decimal strings,
// matching the form partition entries declare in Attrs.
func attrBitsFromMask(mask string) []string {
	if mask == "" {
		return nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(mask, "0x"), 16, 64)
	if err != nil {
		return nil
	}
	var bits []string
	for i := 0; i < 64; i++ {
		if n&(1<<uint(i)) != 0 {
			bits = append(bits, strconv.Itoa(i))
		}
	}
	return bits
}

func checkVolGroup(e *storageconfig.Entry, snap *probe.Snapshot) []Mismatch {
	vg, ok := snap.VGs[e.Name]
	if !ok {
		return []Mismatch{{Field: "existence", Expected: e.Name, Observed: "not found"}}
	}
	var mismatches []Mismatch
	if !sameSet(vg.PVs, e.Devices) {
		mismatches = append(mismatches, Mismatch{
			Field: "devices", Expected: fmt.Sprintf("%v", e.Devices), Observed: fmt.Sprintf("%v", vg.PVs),
		})
	}
	return mismatches
}

func checkLogicalVolume(e *storageconfig.Entry, snap *probe.Snapshot, devPath string) []Mismatch {
	dev := deviceByPath(snap, devPath)
	if dev == nil || dev.LVMLVName != e.Name {
		return []Mismatch{{Field: "existence", Expected: e.Name, Observed: "not found"}}
	}
	var mismatches []Mismatch
	if e.SizeField != nil && dev.Size != int64(*e.SizeField) {
		mismatches = append(mismatches, Mismatch{
			Field: "size", Expected: fmt.Sprintf("%d", int64(*e.SizeField)), Observed: fmt.Sprintf("%d", dev.Size),
		})
	}
	return mismatches
}

func checkDMCrypt(e *storageconfig.Entry, snap *probe.Snapshot, devPath string) []Mismatch {
	dev := deviceByPath(snap, devPath)
	if dev == nil {
		return []Mismatch{{Field: "existence", Expected: devPath, Observed: "not found"}}
	}
	return nil
}

func checkRaid(e *storageconfig.Entry, snap *probe.Snapshot, devPath string) []Mismatch {
	dev := deviceByPath(snap, devPath)
	if dev == nil {
		return []Mismatch{{Field: "existence", Expected: devPath, Observed: "not found"}}
	}
	var mismatches []Mismatch
	expectedLevel := fmt.Sprintf("raid%d", e.RaidLevel)
	if e.RaidLevel == 0 {
		expectedLevel = "raid0"
	}
	if dev.MDLevel != "" && dev.MDLevel != expectedLevel && dev.MDLevel != fmt.Sprintf("%d", e.RaidLevel) {
		mismatches = append(mismatches, Mismatch{Field: "raidlevel", Expected: expectedLevel, Observed: dev.MDLevel})
	}
	if e.Metadata != "" && dev.MDMetadata != "" && dev.MDMetadata != e.Metadata {
		mismatches = append(mismatches, Mismatch{Field: "metadata", Expected: e.Metadata, Observed: dev.MDMetadata})
	}
	if !sameSet(dev.MDMembers, e.Devices) {
		mismatches = append(mismatches, Mismatch{
			Field: "devices", Expected: fmt.Sprintf("%v", e.Devices), Observed: fmt.Sprintf("%v", dev.MDMembers),
		})
	}
	return mismatches
}

func checkBcache(e *storageconfig.Entry, snap *probe.Snapshot, devPath string) []Mismatch {
	dev := deviceByPath(snap, devPath)
	if dev == nil {
		return []Mismatch{{Field: "existence", Expected: devPath, Observed: "not found"}}
	}
	var mismatches []Mismatch
	if e.CacheMode != "" && dev.BcacheMode != "" && dev.BcacheMode != e.CacheMode {
		mismatches = append(mismatches, Mismatch{Field: "cache_mode", Expected: e.CacheMode, Observed: dev.BcacheMode})
	}
	return mismatches
}

func checkFormat(e *storageconfig.Entry, snap *probe.Snapshot, devPath string) []Mismatch {
	dev := deviceByPath(snap, devPath)
	if dev == nil {
		return []Mismatch{{Field: "existence", Expected: devPath, Observed: "not found"}}
	}
	var mismatches []Mismatch
	if dev.FSType != e.FSType {
		mismatches = append(mismatches, Mismatch{Field: "fstype", Expected: e.FSType, Observed: dev.FSType})
	}
	if e.UUID != "" && dev.FSUUID != "" && dev.FSUUID != e.UUID {
		mismatches = append(mismatches, Mismatch{Field: "uuid", Expected: e.UUID, Observed: dev.FSUUID})
	}
	if e.Label != "" && dev.FSLabel != "" && dev.FSLabel != e.Label {
		mismatches = append(mismatches, Mismatch{Field: "label", Expected: e.Label, Observed: dev.FSLabel})
	}
	return mismatches
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, x := range a {
		seen[x]++
	}
	for _, x := range b {
		seen[x]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
