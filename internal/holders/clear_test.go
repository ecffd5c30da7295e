package holders_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtin-go/storage/internal/holders"
)

func TestPlanEmitsUmountBeforeDeviceTeardown(t *testing.T) {
	snap := snapshotFixture()
	mounts := map[string][]string{"dm-0": {"/mnt/data"}}
	tree := holders.Build(snap, mounts, []string{"sda"})

	plan, err := holders.Plan(tree)
	require.NoError(t, err)
	require.NotEmpty(t, plan)

	var umountIdx, cryptIdx = -1, -1
	for i, a := range plan {
		if a.Verb == "umount" {
			umountIdx = i
		}
		if a.Verb == "cryptsetup-close" {
			cryptIdx = i
		}
	}

	require.NotEqual(t, -1, umountIdx)
	require.NotEqual(t, -1, cryptIdx)
	assert.Less(t, umountIdx, cryptIdx)
}
