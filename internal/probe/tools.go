package probe

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/curtin-go/storage/internal/toolrunner"
)

// mergeLsblk runs lsblk -J and fills in fs/partition identifiers for all
// device types.
func mergeLsblk(ctx context.Context, runner *toolrunner.Runner, devices map[string]*Device) []Warning {
	out, err := runner.Run(ctx, toolrunner.Invocation{
		Name: "lsblk",
		Args: []string{"-J", "-b", "-o", "NAME,FSTYPE,UUID,LABEL,PARTUUID,PARTLABEL,PARTTYPE,PARTFLAGS,PTTYPE,SERIAL,WWN"},
	})
	if err != nil {
		return []Warning{{Tool: "lsblk", Err: err}}
	}
	if err := applyLsblkJSON(out.Stdout, devices); err != nil {
		return []Warning{{Tool: "lsblk", Err: err}}
	}
	return nil
}

// applyLsblkJSON parses lsblk -J output and merges its fields into devices,
// recursing into children the way lsblk nests partitions under their disk.
func applyLsblkJSON(data []byte, devices map[string]*Device) error {
	var result struct {
		Blockdevices []lsblkNode `json:"blockdevices"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return err
	}

	var walk func(nodes []lsblkNode)
	walk = func(nodes []lsblkNode) {
		for _, n := range nodes {
			if dev, ok := devices[n.Name]; ok {
				dev.FSType = n.FSType
				dev.FSUUID = n.UUID
				dev.FSLabel = n.Label
				dev.PartUUID = n.PartUUID
				dev.PartLabel = n.PartLabel
				dev.PartType = n.PartType
				dev.PartFlags = n.PartFlags
				if n.PTType != "" {
					dev.PartTable = n.PTType
				}
				if n.Serial != "" {
					dev.Serial = n.Serial
				}
				if n.WWN != "" {
					dev.WWN = strings.TrimPrefix(n.WWN, "0x")
				}
			}
			walk(n.Children)
		}
	}
	walk(result.Blockdevices)
	return nil
}

type lsblkNode struct {
	Name      string      `json:"name"`
	FSType    string      `json:"fstype"`
	UUID      string      `json:"uuid"`
	Label     string      `json:"label"`
	PartUUID  string      `json:"partuuid"`
	PartLabel string      `json:"partlabel"`
	PartType  string      `json:"parttype"`
	PartFlags string      `json:"partflags"`
	PTType    string      `json:"pttype"`
	Serial    string      `json:"serial"`
	WWN       string      `json:"wwn"`
	Children  []lsblkNode `json:"children"`
}

// mergeMdadm runs mdadm --detail --export on every md* device and fills in
// raid level, metadata version and component devices; spares are not told
// apart from active members.
func mergeMdadm(ctx context.Context, runner *toolrunner.Runner, devices map[string]*Device) []Warning {
	var warnings []Warning
	for kname, dev := range devices {
		if dev.Type != DevRaid {
			continue
		}
		out, err := runner.Run(ctx, toolrunner.Invocation{
			Name: "mdadm",
			Args: []string{"--detail", "--export", "/dev/" + kname},
		})
		if err != nil {
			warnings = append(warnings, Warning{Tool: "mdadm", Err: err})
			continue
		}
		parseMdadmExport(string(out.Stdout), dev)
	}
	return warnings
}

func parseMdadmExport(output string, dev *Device) {
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "MD_LEVEL":
			dev.MDLevel = parts[1]
		case "MD_METADATA":
			dev.MDMetadata = parts[1]
		}
		if strings.HasPrefix(parts[0], "MD_DEVICE_") && strings.HasSuffix(parts[0], "_DEV") {
			dev.MDMembers = append(dev.MDMembers, strings.TrimSpace(parts[1]))
		}
	}
}

// mergeLVM runs pvs and lvs and fills in VG/LV membership.
func mergeLVM(ctx context.Context, runner *toolrunner.Runner, devices map[string]*Device) (map[string]VGInfo, []Warning) {
	vgs := make(map[string]VGInfo)

	pvOut, err := runner.Run(ctx, toolrunner.Invocation{
		Name: "pvs",
		Args: []string{"--noheadings", "--nosuffix", "--units", "b", "-o", "pv_name,vg_name,pv_uuid", "--separator", "|"},
	})
	if err != nil {
		return vgs, []Warning{{Tool: "pvs", Err: err}}
	}

	for _, line := range strings.Split(string(pvOut.Stdout), "\n") {
		pvName, vgName, pvUUID, ok := parsePVLine(line)
		if !ok {
			continue
		}
		kname := kNameFromPath(pvName)
		if dev, ok := devices[kname]; ok {
			dev.LVMVGName = vgName
			dev.LVMPVUUID = pvUUID
		}
		if vgName != "" {
			vg := vgs[vgName]
			vg.Name = vgName
			vg.PVs = append(vg.PVs, pvName)
			vgs[vgName] = vg
		}
	}

	lvOut, err := runner.Run(ctx, toolrunner.Invocation{
		Name: "lvs",
		Args: []string{"--noheadings", "--nosuffix", "-o", "lv_name,vg_name,lv_path", "--separator", "|"},
	})
	if err == nil {
		for _, line := range strings.Split(string(lvOut.Stdout), "\n") {
			lvName, vgName, lvPath, ok := parseLVLine(line)
			if !ok {
				continue
			}
			kname := kNameFromPath(lvPath)
			if dev, ok := devices[kname]; ok {
				dev.LVMVGName = vgName
				dev.LVMLVName = lvName
			}
			vg := vgs[vgName]
			vg.Name = vgName
			vg.LVs = append(vg.LVs, lvName)
			vgs[vgName] = vg
		}
	}

	return vgs, nil
}

// parsePVLine parses one line of `pvs -o pv_name,vg_name,pv_uuid
// --separator |` output.
func parsePVLine(line string) (pvName, vgName, pvUUID string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", "", false
	}
	fields := strings.Split(line, "|")
	if len(fields) < 3 {
		return "", "", "", false
	}
	return strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1]), strings.TrimSpace(fields[2]), true
}

// parseLVLine parses one line of `lvs -o lv_name,vg_name,lv_path
// --separator |` output.
func parseLVLine(line string) (lvName, vgName, lvPath string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", "", false
	}
	fields := strings.Split(line, "|")
	if len(fields) < 3 {
		return "", "", "", false
	}
	return strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1]), strings.TrimSpace(fields[2]), true
}

// mergeDMSetup runs dmsetup info on every dm-* device to distinguish crypt
// targets from lvm/mpath, grounded on the original curtin behavior of
// reading the dm uuid prefix (CRYPT-.../LVM-...).
func mergeDMSetup(ctx context.Context, runner *toolrunner.Runner, devices map[string]*Device) []Warning {
	var warnings []Warning
	for kname, dev := range devices {
		if !strings.HasPrefix(kname, "dm-") {
			continue
		}
		out, err := runner.Run(ctx, toolrunner.Invocation{
			Name: "dmsetup",
			Args: []string{"info", "-C", "-o", "uuid,name", "--noheadings", "/dev/" + kname},
		})
		if err != nil {
			warnings = append(warnings, Warning{Tool: "dmsetup", Err: err})
			continue
		}
		classifyDMInfo(strings.TrimSpace(string(out.Stdout)), dev)
	}
	return warnings
}

// classifyDMInfo parses one line of `dmsetup info -C -o uuid,name
// --noheadings` output and sets dev's type/crypt fields from the dm uuid
// prefix: CRYPT-<type>-... for cryptsetup targets, LVM-... for logical
// volumes, mpath-... for multipath, grounded on the original curtin
// behavior of reading this prefix rather than trusting dmsetup's own
// table-type field (which doesn't distinguish LVM from a bare dm-linear
// target).
func classifyDMInfo(line string, dev *Device) {
	fields := strings.Split(line, ":")
	if len(fields) == 0 {
		return
	}
	uuid := strings.TrimSpace(fields[0])
	switch {
	case strings.HasPrefix(uuid, "CRYPT-"):
		dev.Type = DevCrypt
		dev.CryptType = strings.Split(uuid, "-")[1]
	case strings.HasPrefix(uuid, "LVM-"):
		dev.Type = DevLVM
	case strings.HasPrefix(uuid, "mpath-"):
		dev.Type = DevMpath
	}
	if len(fields) > 1 {
		dev.CryptName = strings.TrimSpace(fields[1])
	}
}

// mergeBcache reads each bcache device's bcache/cache_mode from sysfs and
// records the active mode; backing/cache pairs are not recorded.
func mergeBcache(devices map[string]*Device) {
	for kname, dev := range devices {
		if dev.Type != DevBcache {
			continue
		}
		mode, err := readSysfsFile(dev.SysfsPath + "/bcache/cache_mode")
		if err == nil {
			dev.BcacheMode = activeBcacheMode(mode)
		}
		_ = kname
	}
}

func activeBcacheMode(raw string) string {
	// cache_mode file contents look like: "writethrough [writeback] writearound none"
	for _, tok := range strings.Fields(raw) {
		if strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]") {
			return strings.Trim(tok, "[]")
		}
	}
	return strings.TrimSpace(raw)
}

// mergeZpool runs zpool list + zpool status to fill in pool/vdev membership.
func mergeZpool(ctx context.Context, runner *toolrunner.Runner, devices map[string]*Device) (map[string]ZpoolInfo, []Warning) {
	pools := make(map[string]ZpoolInfo)

	out, err := runner.Run(ctx, toolrunner.Invocation{Name: "zpool", Args: []string{"list", "-H", "-o", "name"}})
	if err != nil {
		return pools, []Warning{{Tool: "zpool", Err: err}}
	}

	for _, name := range strings.Split(strings.TrimSpace(string(out.Stdout)), "\n") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		statusOut, err := runner.Run(ctx, toolrunner.Invocation{Name: "zpool", Args: []string{"status", "-LP", name}})
		if err != nil {
			continue
		}
		info := parseZpoolStatus(name, string(statusOut.Stdout))
		for _, vdev := range info.Vdevs {
			if dev, ok := devices[kNameFromPath(vdev)]; ok {
				dev.ZpoolName = name
			}
		}
		pools[name] = info
	}

	return pools, nil
}

// parseZpoolStatus parses `zpool status -LP <name>` output into the pool's
// state and the absolute vdev paths listed under it. Vdev lines are the
// ones beginning with "/" once resolved with -LP (symlinks followed,
// full paths shown) — everything else in the config block (pool name,
// mirror/raidz group headers) doesn't start with a slash.
func parseZpoolStatus(name, output string) ZpoolInfo {
	info := ZpoolInfo{Name: name}
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "state:") {
			info.State = strings.TrimSpace(strings.TrimPrefix(trimmed, "state:"))
		}
		if strings.HasPrefix(trimmed, "/") {
			fields := strings.Fields(trimmed)
			if len(fields) > 0 {
				info.Vdevs = append(info.Vdevs, fields[0])
			}
		}
	}
	return info
}

func kNameFromPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

func readSysfsFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseInt is used by callers that need to tolerate empty/invalid fields.
func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
