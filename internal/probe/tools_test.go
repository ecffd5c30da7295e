package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyLsblkJSONMergesPartitionAndDiskFields(t *testing.T) {
	data := []byte(`{
		"blockdevices": [
			{
				"name": "sda", "fstype": null, "uuid": null, "label": null,
				"partuuid": null, "partlabel": null, "parttype": null, "partflags": null,
				"pttype": "gpt", "serial": "WD-1", "wwn": "0x5000c5001234",
				"children": [
					{
						"name": "sda1", "fstype": "ext4", "uuid": "abc-123", "label": "root",
						"partuuid": "part-uuid-1", "partlabel": "root", "parttype": "0fc63daf-8483-4772-8e79-3d69d8477de4",
						"partflags": "0x4", "pttype": null, "serial": null, "wwn": null
					}
				]
			}
		]
	}`)

	devices := map[string]*Device{
		"sda":  {KName: "sda"},
		"sda1": {KName: "sda1"},
	}

	require.NoError(t, applyLsblkJSON(data, devices))

	assert.Equal(t, "gpt", devices["sda"].PartTable)
	assert.Equal(t, "WD-1", devices["sda"].Serial)
	assert.Equal(t, "5000c5001234", devices["sda"].WWN)

	assert.Equal(t, "ext4", devices["sda1"].FSType)
	assert.Equal(t, "abc-123", devices["sda1"].FSUUID)
	assert.Equal(t, "root", devices["sda1"].FSLabel)
	assert.Equal(t, "part-uuid-1", devices["sda1"].PartUUID)
	assert.Equal(t, "root", devices["sda1"].PartLabel)
	assert.Equal(t, "0fc63daf-8483-4772-8e79-3d69d8477de4", devices["sda1"].PartType)
	assert.Equal(t, "0x4", devices["sda1"].PartFlags)
}

func TestApplyLsblkJSONIgnoresUnknownDevices(t *testing.T) {
	data := []byte(`{"blockdevices": [{"name": "sdz", "fstype": "ext4"}]}`)
	devices := map[string]*Device{"sda": {KName: "sda"}}

	require.NoError(t, applyLsblkJSON(data, devices))
	assert.Empty(t, devices["sda"].FSType)
}

func TestApplyLsblkJSONRejectsInvalidJSON(t *testing.T) {
	err := applyLsblkJSON([]byte("not json"), map[string]*Device{})
	assert.Error(t, err)
}

func TestParsePVLineParsesFields(t *testing.T) {
	pvName, vgName, pvUUID, ok := parsePVLine("  /dev/sda2|vg0|abcd-1234  ")
	require.True(t, ok)
	assert.Equal(t, "/dev/sda2", pvName)
	assert.Equal(t, "vg0", vgName)
	assert.Equal(t, "abcd-1234", pvUUID)
}

func TestParsePVLineRejectsBlankAndShortLines(t *testing.T) {
	_, _, _, ok := parsePVLine("   ")
	assert.False(t, ok)

	_, _, _, ok = parsePVLine("/dev/sda2|vg0")
	assert.False(t, ok)
}

func TestParseLVLineParsesFields(t *testing.T) {
	lvName, vgName, lvPath, ok := parseLVLine("root|vg0|/dev/vg0/root")
	require.True(t, ok)
	assert.Equal(t, "root", lvName)
	assert.Equal(t, "vg0", vgName)
	assert.Equal(t, "/dev/vg0/root", lvPath)
}

func TestParseLVLineRejectsShortLines(t *testing.T) {
	_, _, _, ok := parseLVLine("root|vg0")
	assert.False(t, ok)
}

func TestClassifyDMInfoCrypt(t *testing.T) {
	dev := &Device{}
	classifyDMInfo("CRYPT-LUKS2-abcd1234:cryptroot", dev)
	assert.Equal(t, DevCrypt, dev.Type)
	assert.Equal(t, "LUKS2", dev.CryptType)
	assert.Equal(t, "cryptroot", dev.CryptName)
}

func TestClassifyDMInfoLVM(t *testing.T) {
	dev := &Device{}
	classifyDMInfo("LVM-abcd1234:vg0-root", dev)
	assert.Equal(t, DevLVM, dev.Type)
	assert.Equal(t, "vg0-root", dev.CryptName)
}

func TestClassifyDMInfoMpath(t *testing.T) {
	dev := &Device{}
	classifyDMInfo("mpath-abcd1234:mpatha", dev)
	assert.Equal(t, DevMpath, dev.Type)
}

func TestClassifyDMInfoUnknownPrefixLeavesTypeUntouched(t *testing.T) {
	dev := &Device{Type: DevLVM}
	classifyDMInfo("some-other-uuid:name", dev)
	assert.Equal(t, DevLVM, dev.Type)
}

func TestClassifyDMInfoEmptyLineIsNoop(t *testing.T) {
	dev := &Device{Type: DevDisk}
	classifyDMInfo("", dev)
	assert.Equal(t, DevDisk, dev.Type)
}

func TestParseMdadmExportFillsLevelAndMembers(t *testing.T) {
	dev := &Device{}
	out := "MD_LEVEL=raid1\nMD_METADATA=1.2\nMD_DEVICE_dev_sda1_DEV=/dev/sda1\nMD_DEVICE_dev_sdb1_DEV=/dev/sdb1\nMD_NAME=md0\n"
	parseMdadmExport(out, dev)

	assert.Equal(t, "raid1", dev.MDLevel)
	assert.Equal(t, "1.2", dev.MDMetadata)
	assert.Equal(t, []string{"/dev/sda1", "/dev/sdb1"}, dev.MDMembers)
}

func TestParseMdadmExportIgnoresMalformedLines(t *testing.T) {
	dev := &Device{}
	parseMdadmExport("no-equals-sign\n\nMD_LEVEL=raid0", dev)
	assert.Equal(t, "raid0", dev.MDLevel)
}

func TestActiveBcacheModePicksBracketedToken(t *testing.T) {
	assert.Equal(t, "writeback", activeBcacheMode("writethrough [writeback] writearound none"))
}

func TestActiveBcacheModeFallsBackToTrimmedRaw(t *testing.T) {
	assert.Equal(t, "writethrough", activeBcacheMode("writethrough"))
}

func TestParseZpoolStatusExtractsStateAndVdevs(t *testing.T) {
	output := `  pool: tank
 state: ONLINE
config:

	NAME        STATE     READ WRITE CKSUM
	tank        ONLINE       0     0     0
	  mirror-0  ONLINE       0     0     0
	    /dev/sda3  ONLINE       0     0     0
	    /dev/sdb3  ONLINE       0     0     0
`
	info := parseZpoolStatus("tank", output)
	assert.Equal(t, "tank", info.Name)
	assert.Equal(t, "ONLINE", info.State)
	assert.Equal(t, []string{"/dev/sda3", "/dev/sdb3"}, info.Vdevs)
}

func TestParseZpoolStatusHandlesMissingState(t *testing.T) {
	info := parseZpoolStatus("tank", "config:\n\n\t/dev/sda3  ONLINE 0 0 0\n")
	assert.Equal(t, "", info.State)
	assert.Equal(t, []string{"/dev/sda3"}, info.Vdevs)
}

func TestKNameFromPath(t *testing.T) {
	assert.Equal(t, "sda1", kNameFromPath("/dev/sda1"))
	assert.Equal(t, "root", kNameFromPath("/dev/vg0/root"))
	assert.Equal(t, "sda1", kNameFromPath("sda1"))
}

func TestParseIntToleratesEmptyAndInvalid(t *testing.T) {
	assert.Equal(t, 0, parseInt(""))
	assert.Equal(t, 0, parseInt("not-a-number"))
	assert.Equal(t, 42, parseInt(" 42 "))
}
