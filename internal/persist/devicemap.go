package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteDeviceMap writes the action-id -> final device path mapping as JSON
// at path, when storage.device_map_path was set.
func WriteDeviceMap(path string, deviceMap map[string]string) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(deviceMap, "", "  ")
	if err != nil {
		return fmt.Errorf("persist: marshal device_map: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir for device_map: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("persist: write device_map: %w", err)
	}
	return nil
}

// DNameRule is one udev rule linking a stable name under
// /dev/disk/by-dname/ to a kernel device: /dev/disk/by-dname/<vg>-<lv> for
// LVM logical volumes, the only executor that registers one.
type DNameRule struct {
	Name   string // the by-dname basename, e.g. "vg0-root"
	KName  string // kernel device name the rule matches on, e.g. "dm-3"
}

// RenderUdevRules formats dname rules as a udev rules file body. Grounded
// on standard udev SYMLINK+= rule syntax; matches by kernel name since that
// is what every executor has in hand right after creating the device.
func RenderUdevRules(rules []DNameRule) string {
	out := ""
	for _, r := range rules {
		out += fmt.Sprintf("KERNEL==\"%s\", SYMLINK+=\"disk/by-dname/%s\"\n", r.KName, r.Name)
	}
	return out
}

// WriteUdevRules writes a 60-curtin-dname rules file under targetRoot's
// udev rules.d.
func WriteUdevRules(targetRoot string, rules []DNameRule) error {
	if len(rules) == 0 {
		return nil
	}
	path := filepath.Join(targetRoot, "etc", "udev", "rules.d", "60-curtin-dname.rules")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("persist: mkdir for udev rules: %w", err)
	}
	if err := os.WriteFile(path, []byte(RenderUdevRules(rules)), 0o644); err != nil {
		return fmt.Errorf("persist: write udev rules: %w", err)
	}
	return nil
}
