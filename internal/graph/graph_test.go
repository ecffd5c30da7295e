package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/storageconfig"
)

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func TestTopoSortOrdersDependenciesBeforeDependents(t *testing.T) {
	entries := []storageconfig.Entry{
		{ID: "mnt0", Type: storageconfig.TypeMount, Device: "fmt0", Path: "/"},
		{ID: "fmt0", Type: storageconfig.TypeFormat, Volume: "part0", FSType: "ext4"},
		{ID: "part0", Type: storageconfig.TypePartition, Device: "disk0"},
		{ID: "disk0", Type: storageconfig.TypeDisk, Serial: "WD-1"},
	}
	g, err := graph.Build(entries)
	require.NoError(t, err)

	order := g.TopoSort()
	require.Len(t, order, 4)
	assert.Less(t, indexOf(order, "disk0"), indexOf(order, "part0"))
	assert.Less(t, indexOf(order, "part0"), indexOf(order, "fmt0"))
	assert.Less(t, indexOf(order, "fmt0"), indexOf(order, "mnt0"))
}

func TestTopoSortIsDeterministicAcrossRuns(t *testing.T) {
	entries := []storageconfig.Entry{
		{ID: "disk0", Type: storageconfig.TypeDisk, Serial: "WD-1"},
		{ID: "disk1", Type: storageconfig.TypeDisk, Serial: "WD-2"},
		{ID: "raid0", Type: storageconfig.TypeRaid, RaidLevel: 1, Devices: []string{"disk0", "disk1"}},
	}

	g1, err := graph.Build(entries)
	require.NoError(t, err)
	g2, err := graph.Build(entries)
	require.NoError(t, err)

	assert.Equal(t, g1.TopoSort(), g2.TopoSort())
}

func TestBuildDetectsCycle(t *testing.T) {
	entries := []storageconfig.Entry{
		{ID: "a", Type: storageconfig.TypeLVMPartition, VolGroup: "b"},
		{ID: "b", Type: storageconfig.TypeLVMVolGroup, Devices: []string{"a"}},
	}
	_, err := graph.Build(entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildTreatsExternalReferencesAsLeaves(t *testing.T) {
	entries := []storageconfig.Entry{
		{ID: "fmt0", Type: storageconfig.TypeFormat, Volume: "/dev/sda1", FSType: "ext4"},
	}
	g, err := graph.Build(entries)
	require.NoError(t, err)
	assert.Empty(t, g.DependsOn("fmt0"))

	order := g.TopoSort()
	assert.Equal(t, []string{"fmt0"}, order)
}

func TestPlanMarksPreserveEntriesVerifyOnly(t *testing.T) {
	preserve := true
	doc := &storageconfig.Document{
		Version: 1,
		Config: []storageconfig.Entry{
			{ID: "disk0", Type: storageconfig.TypeDisk, Serial: "WD-1", Preserve: &preserve},
		},
	}
	steps, err := graph.Plan(doc)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.True(t, steps[0].VerifyOnly)
}

func TestPlanExpandsZfsrootFormatIntoZpoolAndZfs(t *testing.T) {
	doc := &storageconfig.Document{
		Version: 1,
		Config: []storageconfig.Entry{
			{ID: "disk0", Type: storageconfig.TypeDisk, Serial: "WD-1"},
			{ID: "fmt0", Type: storageconfig.TypeFormat, Device: "disk0", FSType: "zfsroot"},
		},
	}
	steps, err := graph.Plan(doc)
	require.NoError(t, err)

	var sawZpool, sawZfs bool
	for _, s := range steps {
		if s.Entry.Type == storageconfig.TypeZpool {
			sawZpool = true
		}
		if s.Entry.Type == storageconfig.TypeZfs {
			sawZfs = true
		}
	}
	assert.True(t, sawZpool)
	assert.True(t, sawZfs)
}
