package storageconfig

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SchemaError is returned for any structural problem found before a single
// device is touched; these map to exit code 2.
type SchemaError struct {
	EntryID string
	Msg     string
}

func (e *SchemaError) Error() string {
	if e.EntryID == "" {
		return e.Msg
	}
	return fmt.Sprintf("entry %q: %s", e.EntryID, e.Msg)
}

// Load reads and validates a storage config document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading storage config: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML bytes and returns the normalized document.
func Parse(data []byte) (*Document, error) {
	var root Root
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&root); err != nil {
		return nil, &SchemaError{Msg: fmt.Sprintf("invalid YAML: %v", err)}
	}

	doc := &root.Storage
	if err := Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate enforces the configuration's structural invariants and each
// entry type's required fields. It never touches the filesystem or a
// device. It stops at the first error found and returns it, matching
// curtin's fail-fast schema validation.
func Validate(doc *Document) error {
	if doc.Version != 1 && doc.Version != 2 {
		return &SchemaError{Msg: fmt.Sprintf("version must be 1 or 2, got %d", doc.Version)}
	}

	seen := make(map[string]bool, len(doc.Config))
	for i := range doc.Config {
		e := &doc.Config[i]
		if e.ID == "" {
			return &SchemaError{Msg: fmt.Sprintf("config entry %d has no id", i)}
		}
		if seen[e.ID] {
			return &SchemaError{EntryID: e.ID, Msg: "duplicate id"}
		}
		seen[e.ID] = true

		if !validTypes[e.Type] {
			return &SchemaError{EntryID: e.ID, Msg: fmt.Sprintf("unknown type %q", e.Type)}
		}
	}

	byID := IndexByID(doc.Config)

	for i := range doc.Config {
		e := &doc.Config[i]
		if err := validateEntry(e, byID, doc.Version); err != nil {
			return err
		}
	}

	return nil
}

// IndexByID builds an id -> *Entry map for reference resolution.
func IndexByID(entries []Entry) map[string]*Entry {
	m := make(map[string]*Entry, len(entries))
	for i := range entries {
		m[entries[i].ID] = &entries[i]
	}
	return m
}

func resolvesOrExternal(ref string, byID map[string]*Entry) bool {
	if ref == "" {
		return true
	}
	if _, ok := byID[ref]; ok {
		return true
	}
	// Anything that looks like an absolute device path is assumed to be an
	// already-materialized physical device.
	return len(ref) > 0 && ref[0] == '/'
}

func validateEntry(e *Entry, byID map[string]*Entry, version int) error {
	fail := func(format string, args ...interface{}) error {
		return &SchemaError{EntryID: e.ID, Msg: fmt.Sprintf(format, args...)}
	}

	switch e.Type {
	case TypeDisk:
		if e.Serial == "" && e.WWN == "" && e.Path == "" && e.Multipath == "" &&
			e.ISCSI == "" && e.NVMeController == "" {
			return fail("disk requires one of serial, wwn, path, multipath, iscsi, nvme_controller")
		}
		if e.PTable != "" && e.PTable != "msdos" && e.PTable != "gpt" && e.PTable != "vtoc" {
			return fail("ptable must be msdos, gpt, or vtoc, got %q", e.PTable)
		}
		if e.NVMeController != "" && !resolvesOrExternal(e.NVMeController, byID) {
			return fail("nvme_controller %q does not resolve", e.NVMeController)
		}

	case TypePartition:
		if e.Device == "" {
			return fail("partition requires device")
		}
		if !resolvesOrExternal(e.Device, byID) {
			return fail("device %q does not resolve", e.Device)
		}
		if e.Resize && !e.IsPreserve() {
			return fail("resize is only valid with preserve: true")
		}
		if version == 2 && e.Offset == nil {
			return fail("v2 partition actions must set offset: identity and the create/keep/delete diff are both keyed on it")
		}

	case TypeFormat:
		if e.Volume == "" && e.Device == "" {
			return fail("format requires volume (device reference)")
		}
		ref := e.Volume
		if ref == "" {
			ref = e.Device
		}
		if !resolvesOrExternal(ref, byID) {
			return fail("volume %q does not resolve", ref)
		}

	case TypeMount:
		if e.Device == "" && e.Spec == "" {
			return fail("mount requires exactly one of device (a format entry) or spec")
		}
		if e.Device != "" && e.Spec != "" {
			return fail("mount must reference exactly one of device or spec, not both")
		}
		if e.Device != "" && !resolvesOrExternal(e.Device, byID) {
			return fail("device %q does not resolve", e.Device)
		}

	case TypeLVMVolGroup:
		if len(e.Devices) == 0 {
			return fail("lvm_volgroup requires non-empty devices")
		}
		for _, d := range e.Devices {
			if !resolvesOrExternal(d, byID) {
				return fail("device %q does not resolve", d)
			}
		}

	case TypeLVMPartition:
		if e.VolGroup == "" {
			return fail("lvm_partition requires volgroup")
		}
		if !resolvesOrExternal(e.VolGroup, byID) {
			return fail("volgroup %q does not resolve", e.VolGroup)
		}

	case TypeDMCrypt:
		if e.Volume == "" {
			return fail("dm_crypt requires volume")
		}
		if !resolvesOrExternal(e.Volume, byID) {
			return fail("volume %q does not resolve", e.Volume)
		}
		hasKey, hasKeyFile := e.Key != "", e.KeyFile != ""
		if hasKey == hasKeyFile {
			return fail("dm_crypt requires exactly one of key or keyfile")
		}

	case TypeRaid:
		if len(e.Devices) == 0 {
			return fail("raid requires non-empty devices")
		}
		switch e.RaidLevel {
		case 0, 1, 5, 6, 10:
		default:
			return fail("raidlevel must be one of 0,1,5,6,10, got %d", e.RaidLevel)
		}
		for _, d := range append(append([]string{}, e.Devices...), e.SpareDevices...) {
			if !resolvesOrExternal(d, byID) {
				return fail("device %q does not resolve", d)
			}
		}

	case TypeBcache:
		if e.BackingDevice == "" {
			return fail("bcache requires backing_device")
		}
		if !resolvesOrExternal(e.BackingDevice, byID) {
			return fail("backing_device %q does not resolve", e.BackingDevice)
		}
		if e.CacheDevice != "" && !resolvesOrExternal(e.CacheDevice, byID) {
			return fail("cache_device %q does not resolve", e.CacheDevice)
		}

	case TypeZpool:
		if e.Pool == "" {
			return fail("zpool requires pool name")
		}
		if len(e.Vdevs) == 0 {
			return fail("zpool requires non-empty vdevs")
		}
		for _, d := range e.Vdevs {
			if !resolvesOrExternal(d, byID) {
				return fail("vdev %q does not resolve", d)
			}
		}

	case TypeZfs:
		if e.Pool == "" {
			return fail("zfs requires pool")
		}
		if !resolvesOrExternal(e.Pool, byID) {
			return fail("pool %q does not resolve", e.Pool)
		}

	case TypeNVMeController:
		if e.Transport != "pcie" && e.Transport != "tcp" {
			return fail("nvme_controller transport must be pcie or tcp")
		}
		if e.Transport == "tcp" && (e.TCPAddr == "" || e.TCPPort == 0) {
			return fail("nvme_controller transport tcp requires tcp_addr and tcp_port")
		}

	case TypeDASD:
		if e.DiskLayout != "" && e.DiskLayout != "cdl" && e.DiskLayout != "ldl" {
			return fail("disk_layout must be cdl or ldl")
		}
		if e.Mode != "" && e.Mode != "quick" && e.Mode != "full" && e.Mode != "expand" {
			return fail("mode must be quick, full, or expand")
		}
		if err := validateDASDLabel(e.DASDLabel); err != nil {
			return fail("%v", err)
		}

	case TypeDevice:
		// pass-through reference; nothing further to validate structurally.
	}

	return nil
}

var reservedDASDLabels = map[string]bool{
	"MIGRAT": true, "SCRTCH": true, "PRIVAT": true,
}

func validateDASDLabel(label string) error {
	if label == "" {
		return nil
	}
	if len(label) != 6 {
		return fmt.Errorf("dasd label must be exactly 6 characters, got %q", label)
	}
	if reservedDASDLabels[label] {
		return fmt.Errorf("dasd label %q is reserved", label)
	}
	if label[0] == 'L' {
		return fmt.Errorf("dasd label starting with 'L' is reserved (L?????)")
	}
	for _, r := range label {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("dasd label must be 6-char ASCII, got %q", label)
		}
	}
	return nil
}
