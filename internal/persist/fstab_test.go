package persist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtin-go/storage/internal/persist"
)

func TestFstabLinesOrdersByMountDepth(t *testing.T) {
	f := persist.NewFstab()
	f.Add(persist.FstabEntry{Spec: "/dev/sda3", Path: "/home", FSType: "ext4"})
	f.Add(persist.FstabEntry{Spec: "/dev/sda1", Path: "/", FSType: "ext4"})
	f.Add(persist.FstabEntry{Spec: "/dev/sda2", Path: "/var/log", FSType: "ext4"})

	lines := f.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "/", lines[0].Path)
	assert.Equal(t, "/home", lines[1].Path)
	assert.Equal(t, "/var/log", lines[2].Path)
}

func TestFstabAddDefaultsOptions(t *testing.T) {
	f := persist.NewFstab()
	f.Add(persist.FstabEntry{Spec: "/dev/sda1", Path: "/", FSType: "ext4"})

	lines := f.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, "defaults", lines[0].Options)
}

func TestFstabRenderRoundTripsFields(t *testing.T) {
	f := persist.NewFstab()
	f.Add(persist.FstabEntry{Spec: "UUID=1234", Path: "/", FSType: "ext4", Options: "noatime", Freq: 0, Passno: 1})

	rendered := f.Render()
	assert.Contains(t, rendered, "UUID=1234")
	assert.Contains(t, rendered, "/")
	assert.Contains(t, rendered, "ext4")
	assert.Contains(t, rendered, "noatime")
}

func TestWriteFstabWritesUnderTargetRoot(t *testing.T) {
	dir := t.TempDir()
	f := persist.NewFstab()
	f.Add(persist.FstabEntry{Spec: "/dev/sda1", Path: "/", FSType: "ext4"})

	require.NoError(t, persist.WriteFstab(dir, f))

	data, err := os.ReadFile(filepath.Join(dir, "etc", "fstab"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "/dev/sda1")
}

func TestCrypttabAddDefaultsKeySpecToNone(t *testing.T) {
	c := persist.NewCrypttab()
	c.Add(persist.CrypttabEntry{DMName: "cryptroot", Volume: "/dev/sda2"})

	rendered := c.Render()
	assert.Contains(t, rendered, "cryptroot")
	assert.Contains(t, rendered, "none")
	assert.Contains(t, rendered, "luks")
}

func TestWriteCrypttabSkipsEmptyAccumulator(t *testing.T) {
	dir := t.TempDir()
	c := persist.NewCrypttab()

	require.NoError(t, persist.WriteCrypttab(dir, c))

	_, err := os.Stat(filepath.Join(dir, "etc", "crypttab"))
	assert.True(t, os.IsNotExist(err), "no crypttab file should be written when there are no entries")
}

func TestWriteDeviceMapWritesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device_map.json")

	require.NoError(t, persist.WriteDeviceMap(path, map[string]string{"disk0": "/dev/sda"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "/dev/sda")
}

func TestWriteDeviceMapSkipsEmptyPath(t *testing.T) {
	require.NoError(t, persist.WriteDeviceMap("", map[string]string{"disk0": "/dev/sda"}))
}

func TestRenderUdevRulesFormatsSymlink(t *testing.T) {
	rules := []persist.DNameRule{{Name: "vg0-root", KName: "dm-3"}}
	out := persist.RenderUdevRules(rules)
	assert.Contains(t, out, `KERNEL=="dm-3"`)
	assert.Contains(t, out, "disk/by-dname/vg0-root")
}
