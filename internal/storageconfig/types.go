// Package storageconfig parses and validates the "storage" YAML document
// (storage.config) and normalizes it into a flat, indexable list of entries.
//
// The on-disk shape is a tagged union keyed by "type"; Go has no sum type, so
// every Entry carries the union of fields and Type says which ones are
// meaningful.
package storageconfig

// Type is the closed set of config entry kinds.
type Type string

const (
	TypeDASD          Type = "dasd"
	TypeDisk          Type = "disk"
	TypePartition     Type = "partition"
	TypeFormat        Type = "format"
	TypeMount         Type = "mount"
	TypeLVMVolGroup   Type = "lvm_volgroup"
	TypeLVMPartition  Type = "lvm_partition"
	TypeDMCrypt       Type = "dm_crypt"
	TypeRaid          Type = "raid"
	TypeBcache        Type = "bcache"
	TypeZpool         Type = "zpool"
	TypeZfs           Type = "zfs"
	TypeNVMeController Type = "nvme_controller"
	TypeDevice        Type = "device"
)

var validTypes = map[Type]bool{
	TypeDASD: true, TypeDisk: true, TypePartition: true, TypeFormat: true,
	TypeMount: true, TypeLVMVolGroup: true, TypeLVMPartition: true,
	TypeDMCrypt: true, TypeRaid: true, TypeBcache: true, TypeZpool: true,
	TypeZfs: true, TypeNVMeController: true, TypeDevice: true,
}

// Size is a byte count parsed from curtin's power-of-two-suffixed strings
// ("3G", "512M", "1024"). See ParseSize.
type Size int64

// WipeMode names a disk/partition wipe policy (§4.5).
type WipeMode string

const (
	WipeSuperblock          WipeMode = "superblock"
	WipeSuperblockRecursive WipeMode = "superblock-recursive"
	WipePVRemove            WipeMode = "pvremove"
	WipeZero                WipeMode = "zero"
	WipeRandom              WipeMode = "random"
)

// Entry is one element of storage.config. Only the fields relevant to Type
// are populated by the loader; Validate enforces each type's
// required fields.
type Entry struct {
	ID      string `yaml:"id"`
	Type    Type   `yaml:"type"`
	Preserve *bool  `yaml:"preserve,omitempty"`
	Wipe     WipeMode `yaml:"wipe,omitempty"`
	Name     string   `yaml:"name,omitempty"`

	// Identity (disk)
	Serial      string `yaml:"serial,omitempty"`
	WWN         string `yaml:"wwn,omitempty"`
	Path        string `yaml:"path,omitempty"`
	Multipath   string `yaml:"multipath,omitempty"`
	ISCSI       string `yaml:"iscsi,omitempty"`
	NVMeController string `yaml:"nvme_controller,omitempty"`
	PTable      string `yaml:"ptable,omitempty"` // msdos, gpt, vtoc
	GrubDevice  bool   `yaml:"grub_device,omitempty"`

	// partition
	Device       string   `yaml:"device,omitempty"`
	Number       int      `yaml:"number,omitempty"`
	Offset       *Size    `yaml:"offset,omitempty"`
	SizeField    *Size    `yaml:"size,omitempty"`
	Flag         string   `yaml:"flag,omitempty"`
	PartitionType string  `yaml:"partition_type,omitempty"`
	PartitionName string  `yaml:"partition_name,omitempty"`
	Attrs        []string `yaml:"attrs,omitempty"`
	Resize       bool     `yaml:"resize,omitempty"`
	UUID         string   `yaml:"uuid,omitempty"`

	// format
	FSType        string `yaml:"fstype,omitempty"`
	Label         string `yaml:"label,omitempty"`
	ExtraOptions  []string `yaml:"extra_options,omitempty"`

	// mount (Path, above, doubles as the mount point for type=mount entries)
	Spec           string `yaml:"spec,omitempty"`
	Options        string `yaml:"options,omitempty"`

	// lvm_volgroup / lvm_partition
	Devices    []string `yaml:"devices,omitempty"`
	VolGroup   string   `yaml:"volgroup,omitempty"`
	Volume     string   `yaml:"volume,omitempty"`

	// dm_crypt
	Key     string `yaml:"key,omitempty"`
	KeyFile string `yaml:"keyfile,omitempty"`
	DMName  string `yaml:"dm_name,omitempty"`

	// raid
	RaidLevel    int      `yaml:"raidlevel,omitempty"`
	SpareDevices []string `yaml:"spare_devices,omitempty"`
	Metadata     string   `yaml:"metadata,omitempty"`

	// bcache
	BackingDevice string `yaml:"backing_device,omitempty"`
	CacheDevice   string `yaml:"cache_device,omitempty"`
	CacheMode     string `yaml:"cache_mode,omitempty"`

	// zpool
	Vdevs            []string `yaml:"vdevs,omitempty"`
	Pool             string   `yaml:"pool,omitempty"`
	PoolProperties   map[string]string `yaml:"pool_properties,omitempty"`
	FSProperties     map[string]string `yaml:"fs_properties,omitempty"`
	EncryptionStyle  string   `yaml:"encryption_style,omitempty"`

	// zfs
	Dataset    string            `yaml:"dataset,omitempty"`
	Properties map[string]string `yaml:"properties,omitempty"`

	// nvme_controller
	Transport string `yaml:"transport,omitempty"` // pcie, tcp
	TCPAddr   string `yaml:"tcp_addr,omitempty"`
	TCPPort   int    `yaml:"tcp_port,omitempty"`

	// dasd
	DiskLayout string `yaml:"disk_layout,omitempty"`
	BlockSize  int    `yaml:"blocksize,omitempty"`
	DASDLabel  string `yaml:"label_dasd,omitempty"`
	Mode       string `yaml:"mode,omitempty"`

	// post-execution artifacts (not from YAML; filled in by executors)
	ActualNumber   int    `yaml:"-"`
	DiscoveredPath string `yaml:"-"`
	FinalSize      Size   `yaml:"-"`
}

// IsPreserve reports the effective value of the preserve flag (default false).
func (e *Entry) IsPreserve() bool {
	return e.Preserve != nil && *e.Preserve
}

// Document is the top-level "storage" key.
type Document struct {
	Version        int     `yaml:"version"`
	DeviceMapPath  string  `yaml:"device_map_path,omitempty"`
	Config         []Entry `yaml:"config"`
}

// Root matches the full YAML file: top-level key "storage".
type Root struct {
	Storage Document `yaml:"storage"`
}
