package probe

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSysfsBlockDev builds a fake /sys/class/block/<name> node under root
// with the given size (in 512-byte sectors), optional partition marker, and
// optional slaves/holders.
func writeSysfsBlockDev(t *testing.T, root, name string, sectors int64, isPartition bool, slaves, holders []string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "size"), []byte(strconv.FormatInt(sectors, 10)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ro"), []byte("0"), 0o644))

	if isPartition {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "partition"), []byte("1"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "start"), []byte("2048"), 0o644))
	}

	if len(slaves) > 0 {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "slaves"), 0o755))
		for _, s := range slaves {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "slaves", s), nil, 0o644))
		}
	}
	if len(holders) > 0 {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "holders"), 0o755))
		for _, h := range holders {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "holders", h), nil, 0o644))
		}
	}
}

func TestCollectSysfsClassifiesDiskPartitionRaidBcache(t *testing.T) {
	root := t.TempDir()
	writeSysfsBlockDev(t, root, "sda", 1000, false, nil, []string{"dm-0"})
	writeSysfsBlockDev(t, root, "sda1", 500, true, nil, nil)
	writeSysfsBlockDev(t, root, "md0", 2000, false, []string{"sda", "sdb"}, nil)
	writeSysfsBlockDev(t, root, "bcache0", 3000, false, nil, nil)
	writeSysfsBlockDev(t, root, "dm-0", 1000, false, []string{"sda"}, nil)

	devices, err := collectSysfs(root)
	require.NoError(t, err)
	require.Len(t, devices, 5)

	assert.Equal(t, DevDisk, devices["sda"].Type)
	assert.Equal(t, int64(1000*512), devices["sda"].Size)
	assert.Equal(t, []string{"dm-0"}, devices["sda"].Holders)

	assert.Equal(t, DevPartition, devices["sda1"].Type)
	assert.Equal(t, int64(2048*512), devices["sda1"].Start)

	assert.Equal(t, DevRaid, devices["md0"].Type)
	assert.ElementsMatch(t, []string{"sda", "sdb"}, devices["md0"].Parents)

	assert.Equal(t, DevBcache, devices["bcache0"].Type)

	assert.Equal(t, DevLVM, devices["dm-0"].Type)
}

func TestCollectSysfsDefaultsToStandardRoot(t *testing.T) {
	_, err := collectSysfs("")
	// Either succeeds against the real host sysfs or fails because this test
	// environment has none; both are acceptable, a panic is not.
	_ = err
}

func TestCollectSysfsPropagatesReadDirError(t *testing.T) {
	_, err := collectSysfs(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestNodevFilesystemsParsesProcFilesystems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filesystems")
	content := "nodev\tsysfs\nnodev\ttmpfs\n\text4\nnodev\tproc\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	nodev, err := NodevFilesystems(path)
	require.NoError(t, err)
	assert.True(t, nodev["sysfs"])
	assert.True(t, nodev["tmpfs"])
	assert.True(t, nodev["proc"])
	assert.False(t, nodev["ext4"])
}

func TestNodevFilesystemsErrorsOnMissingFile(t *testing.T) {
	_, err := NodevFilesystems(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
