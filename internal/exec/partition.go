package exec

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"golang.org/x/exp/slices"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
)

func init() { register(storageconfig.TypePartition, execPartition) }

// GPTFlagGUIDs maps a partition "flag" value to the GPT type GUID it sets,
// used when ptable is gpt and partition_type wasn't given explicitly.
// bios_grub and boot (ESP) are the two flags that change the GUID; the
// rest map to parted's own flag-setting support (partedFlags below).
// Exported so verification can check a preserved partition's flag against
// the type GUID actually on disk.
var GPTFlagGUIDs = map[string]string{
	"bios_grub": "21686148-6449-6E6F-744E-656564454649",
	"boot":      "C12A7328-F81F-11D2-BA4B-00A0C93EC93B", // ESP
}

// partedFlags are curtin flags that parted can toggle directly via `parted
// set <n> <flag> on`.
var partedFlags = map[string]string{
	"boot":     "boot",
	"lvm":      "lvm",
	"raid":     "raid",
	"swap":     "swap",
	"home":     "home",
	"prep":     "prep",
	"msftres":  "msftres",
	"logical":  "",
	"extended": "",
}

// execPartition always wipes 1 MiB at the partition's start before
// creating it, then honors v1 (strictly sequential) or v2 (offset/size
// diff against the existing table) semantics.
func execPartition(ctx context.Context, ec *Context, step graph.Step) (*Result, error) {
	e := step.Entry

	diskPath, err := resolveDevicePath(ec, e.Device)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", e.ID, err)
	}

	if ec.Version == 2 && !ec.v2Diffed[e.Device] {
		if err := diffV2Partitions(ctx, ec, e.Device, diskPath); err != nil {
			return nil, fmt.Errorf("partition %s: v2 diff: %w", e.ID, err)
		}
		ec.v2Diffed[e.Device] = true
	}

	if step.VerifyOnly || e.IsPreserve() {
		if ec.Version == 2 && e.Offset != nil {
			if kname, ok := findPartitionByOffset(ec, diskPath, int64(*e.Offset)); ok {
				return &Result{DevicePath: "/dev/" + kname}, nil
			}
		}
		path := partitionNodePath(diskPath, e.Number)
		return &Result{DevicePath: path}, nil
	}

	number := e.Number
	if number == 0 {
		number = nextPartitionNumber(ec, diskPath, e.Flag == "logical")
	}

	startBytes, sizeBytes, err := partitionGeometry(ec, diskPath, e)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", e.ID, err)
	}

	path := partitionNodePath(diskPath, number)

	// Wipe 1 MiB at the partition's intended start before creating it.
	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
		Name: "dd",
		Args: []string{"if=/dev/zero", "of=" + diskPath, "bs=1M",
			fmt.Sprintf("seek=%d", startBytes/(1<<20)), "count=1"},
	}); err != nil {
		return nil, fmt.Errorf("partition %s: pre-wipe: %w", e.ID, err)
	}

	partType := "primary"
	if e.Flag == "logical" {
		partType = "logical"
	} else if e.Flag == "extended" {
		partType = "extended"
	}

	endArg := "100%"
	if sizeBytes > 0 {
		endArg = fmt.Sprintf("%dB", startBytes+sizeBytes)
	}

	if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
		Name: "parted",
		Args: []string{"-s", "-a", "optimal", diskPath, "mkpart", partType,
			fmt.Sprintf("%dB", startBytes), endArg},
	}); err != nil {
		return nil, fmt.Errorf("partition %s: mkpart: %w", e.ID, err)
	}

	if err := applyPartitionTypeOrFlag(ctx, ec, diskPath, number, e); err != nil {
		return nil, fmt.Errorf("partition %s: %w", e.ID, err)
	}

	if e.PartitionName != "" {
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "parted", Args: []string{"-s", diskPath, "name", strconv.Itoa(number), e.PartitionName},
		}); err != nil {
			return nil, fmt.Errorf("partition %s: name: %w", e.ID, err)
		}
	}

	e.ActualNumber = number
	e.DiscoveredPath = path

	return &Result{DevicePath: path}, nil
}

// applyPartitionTypeOrFlag: partition_type overrides flag when both are
// present.
func applyPartitionTypeOrFlag(ctx context.Context, ec *Context, diskPath string, number int, e *storageconfig.Entry) error {
	if e.PartitionType != "" {
		_, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "sgdisk", Args: []string{"--typecode", fmt.Sprintf("%d:%s", number, e.PartitionType), diskPath},
		})
		return err
	}

	if e.Flag == "" {
		return nil
	}

	gpt := false
	if disk, ok := ec.ByID[e.Device]; ok && disk.PTable != "" {
		gpt = disk.PTable == "gpt"
	} else if dev := deviceAt(ec, diskPath); dev != nil {
		gpt = dev.PartTable == "gpt"
	}
	if guid, ok := GPTFlagGUIDs[e.Flag]; ok && gpt {
		_, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "sgdisk", Args: []string{"--typecode", fmt.Sprintf("%d:%s", number, guid), diskPath},
		})
		return err
	}

	if flag, ok := partedFlags[e.Flag]; ok && flag != "" {
		_, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "parted", Args: []string{"-s", diskPath, "set", strconv.Itoa(number), flag, "on"},
		})
		return err
	}

	return nil
}

func partitionNodePath(diskPath string, number int) string {
	// nvme/mmcblk device names need a "p" separator before the partition
	// number; sd*/vd*/xvd* don't.
	last := diskPath[len(diskPath)-1]
	if last >= '0' && last <= '9' {
		return fmt.Sprintf("%sp%d", diskPath, number)
	}
	return fmt.Sprintf("%s%d", diskPath, number)
}

// nextPartitionNumber scans the probe snapshot for existing partitions on
// diskPath and picks the next one: logical numbering starts at 5,
// primaries/extended fill 1-4.
func nextPartitionNumber(ec *Context, diskPath string, logical bool) int {
	// Partitions of diskPath are devices whose sysfs "slaves" point back to
	// it (already folded into Parents by the probe merge step).
	max := 0
	if logical {
		max = 4
	}
	msdos := false
	if dev := deviceAt(ec, diskPath); dev != nil {
		msdos = dev.PartTable == "msdos"
	}
	base := diskPath[len("/dev/"):]
	for kname, dev := range ec.Snapshot.Devices {
		if slices.Contains(dev.Parents, base) {
			n := partitionNumberOf(kname)
			if !logical && msdos && n > 4 {
				continue
			}
			if n > max {
				max = n
			}
		}
	}
	return max + 1
}

// diffV2Partitions: existing partitions on diskPath whose offset matches
// no config action for that disk are wiped and deleted, once per disk,
// before any partition on it is created or kept. Offset, not number, is the
// identity v2 partition actions carry, so logical renumbering after a
// delete never confuses which partition a later action refers to.
func diffV2Partitions(ctx context.Context, ec *Context, diskEntryID, diskPath string) error {
	wanted := make(map[int64]bool)
	for _, entry := range ec.ByID {
		if entry.Type != storageconfig.TypePartition || entry.Device != diskEntryID {
			continue
		}
		if entry.Offset != nil {
			wanted[int64(*entry.Offset)] = true
		}
	}

	base := diskPath[len("/dev/"):]
	var stale []string
	for kname, dev := range ec.Snapshot.Devices {
		if dev.Type != probe.DevPartition || !slices.Contains(dev.Parents, base) {
			continue
		}
		if !wanted[dev.Start] {
			stale = append(stale, kname)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	// Delete highest partition number first so a lower-numbered partition's
	// identity (and the kernel's live numbering of the ones that stay) never
	// shifts out from under us mid-loop.
	sort.Slice(stale, func(i, j int) bool { return partitionNumberOf(stale[i]) > partitionNumberOf(stale[j]) })

	for _, kname := range stale {
		path := "/dev/" + kname
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "wipefs", Args: []string{"-a", path},
		}); err != nil {
			return fmt.Errorf("wipe stale partition %s: %w", kname, err)
		}
		if _, err := ec.Runner.Run(ctx, toolrunner.Invocation{
			Name: "parted", Args: []string{"-s", diskPath, "rm", strconv.Itoa(partitionNumberOf(kname))},
		}); err != nil {
			return fmt.Errorf("delete stale partition %s: %w", kname, err)
		}
	}

	reprobe(ctx, ec)
	return nil
}

// findPartitionByOffset looks up an already-materialized partition on
// diskPath by its observed byte offset, used for v2 "keep" actions where
// the kernel may have renumbered the partition since the config was written.
func findPartitionByOffset(ec *Context, diskPath string, offset int64) (string, bool) {
	base := diskPath[len("/dev/"):]
	for kname, dev := range ec.Snapshot.Devices {
		if dev.Type != probe.DevPartition || !slices.Contains(dev.Parents, base) {
			continue
		}
		if dev.Start == offset {
			return kname, true
		}
	}
	return "", false
}

func partitionNumberOf(kname string) int {
	i := len(kname)
	for i > 0 && kname[i-1] >= '0' && kname[i-1] <= '9' {
		i--
	}
	n, _ := strconv.Atoi(kname[i:])
	return n
}

// partitionGeometry resolves the byte start/size for v1 (sequential,
// implied offset right after the previous partition) or v2 (explicit
// offset/size, diffed against what's already there) semantics.
func partitionGeometry(ec *Context, diskPath string, e *storageconfig.Entry) (start, size int64, err error) {
	const oneMiB = 1 << 20

	if e.Offset != nil {
		start = int64(*e.Offset)
	} else {
		start = oneMiB + cumulativeSizeBefore(ec, diskPath, e)
	}
	if e.SizeField != nil {
		size = int64(*e.SizeField)
	}
	return start, size, nil
}

// cumulativeSizeBefore sums the sizes of partitions already recorded for
// this disk in the device map, approximating v1's "immediately after the
// previous one" placement when offset isn't given explicitly.
func cumulativeSizeBefore(ec *Context, diskPath string, e *storageconfig.Entry) int64 {
	var total int64
	for id, entry := range ec.ByID {
		if entry.Type != storageconfig.TypePartition || entry == e {
			continue
		}
		if entry.Device != e.Device {
			continue
		}
		if _, done := ec.DeviceMap[id]; !done {
			continue
		}
		if entry.SizeField != nil {
			total += int64(*entry.SizeField)
		}
	}
	return total
}
