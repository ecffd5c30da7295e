package probe

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// collectSysfs walks /sys/class/block and fills in the topology-shape fields
// (kname, parents/holders, partition start, read-only, size, model/vendor) that
// don't require spawning an external tool, across every block device kind
// curtin must see (disks, partitions, md*, dm-*, bcache*).
func collectSysfs(root string) (map[string]*Device, error) {
	if root == "" {
		root = "/sys/class/block"
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	devices := make(map[string]*Device, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		sysfsPath := filepath.Join(root, name)

		dev := &Device{
			KName:     name,
			Path:      "/dev/" + name,
			SysfsPath: sysfsPath,
			Type:      classify(name, sysfsPath),
		}

		if data, err := os.ReadFile(filepath.Join(sysfsPath, "size")); err == nil {
			if sectors, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
				dev.Size = sectors * 512
			}
		}

		if data, err := os.ReadFile(filepath.Join(sysfsPath, "ro")); err == nil {
			dev.ReadOnly = strings.TrimSpace(string(data)) == "1"
		}

		if model, err := os.ReadFile(filepath.Join(sysfsPath, "device", "model")); err == nil {
			dev.Model = strings.TrimSpace(string(model))
		}
		if vendor, err := os.ReadFile(filepath.Join(sysfsPath, "device", "vendor")); err == nil {
			dev.Vendor = strings.TrimSpace(string(vendor))
		}

		dev.Parents = sysfsSlaves(sysfsPath)
		dev.Holders = sysfsHolders(sysfsPath)

		if isPartitionNode(sysfsPath) {
			dev.Type = DevPartition
			if data, err := os.ReadFile(filepath.Join(sysfsPath, "start")); err == nil {
				if sectors, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
					dev.Start = sectors * 512
				}
			}
		}

		devices[name] = dev
	}

	return devices, nil
}

// classify makes a first guess at DevType from the kernel name; tool-output
// merging (mdadm/lvm/bcache/dmsetup) refines dm-* and overrides as needed.
func classify(name, sysfsPath string) DevType {
	switch {
	case strings.HasPrefix(name, "md"):
		return DevRaid
	case strings.HasPrefix(name, "bcache"):
		return DevBcache
	case strings.HasPrefix(name, "dm-"):
		return DevLVM // refined later to crypt/mpath/lvm by dmsetup info
	default:
		return DevDisk
	}
}

func isPartitionNode(sysfsPath string) bool {
	_, err := os.Stat(filepath.Join(sysfsPath, "partition"))
	return err == nil
}

func sysfsHolders(sysfsPath string) []string {
	entries, err := os.ReadDir(filepath.Join(sysfsPath, "holders"))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func sysfsSlaves(sysfsPath string) []string {
	entries, err := os.ReadDir(filepath.Join(sysfsPath, "slaves"))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
