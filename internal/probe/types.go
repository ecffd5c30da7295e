// Package probe snapshots current block topology from sysfs, udev, and
// external tool output. It never caches across a mutating action: every
// Snapshot call after a mutation rebuilds from scratch, matching how the
// kernel exposes reality rather than incrementally patching stale state.
//
// Covers the full set of device types the engine must reason about: disk,
// partition, lvm, crypt, raid, bcache, mpath.
package probe

// DevType categorizes a node in the holder tree / probe snapshot.
type DevType string

const (
	DevDisk      DevType = "disk"
	DevPartition DevType = "partition"
	DevLVM       DevType = "lvm"
	DevCrypt     DevType = "crypt"
	DevRaid      DevType = "raid"
	DevBcache    DevType = "bcache"
	DevMpath     DevType = "mpath"
)

// Device is the keyed record produced by the probe: one per kname.
type Device struct {
	KName      string
	Path       string // /dev/<kname>
	SysfsPath  string // /sys/class/block/<kname>
	Type       DevType
	Size       int64 // bytes
	Start      int64 // byte offset on the parent disk, partitions only
	ReadOnly   bool
	FSType     string
	FSUUID     string
	FSLabel    string
	PartTable  string // msdos, gpt, vtoc, "" if none
	PartUUID   string
	PartLabel  string
	PartType   string // GPT type GUID, or the msdos hex type byte
	PartFlags  string // raw hex GPT attribute bitmask, "" if none or msdos

	Serial string
	WWN    string
	Model  string
	Vendor string

	Parents  []string // knames this device depends on (e.g. partition -> disk)
	Holders  []string // knames depending on this device (sysfs holders/)

	// Type-specific extras, populated by tool-output parsers.
	MDLevel     string
	MDMembers   []string
	MDSpares    []string
	MDMetadata  string
	LVMVGName   string
	LVMLVName   string
	LVMPVUUID   string
	CryptName   string
	CryptType   string // LUKS, plain
	BcacheBacking string
	BcacheCache   string
	BcacheMode    string
	ZpoolName     string
}

// Snapshot is the keyed map from kname to Device, plus bulk tool state that
// doesn't key cleanly by kname (zpool/vg-level facts).
type Snapshot struct {
	Devices map[string]*Device
	Zpools  map[string]ZpoolInfo
	VGs     map[string]VGInfo
}

// ZpoolInfo captures zpool-level facts (not per-vdev).
type ZpoolInfo struct {
	Name   string
	State  string
	Vdevs  []string
}

// VGInfo captures volume-group-level facts.
type VGInfo struct {
	Name string
	PVs  []string
	LVs  []string
}

// Warning represents a non-fatal probe issue: probe errors on individual
// tools are warnings unless a subsequent action depends on them.
type Warning struct {
	Tool string
	Err  error
}
