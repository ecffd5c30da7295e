package graph

import (
	"github.com/curtin-go/storage/internal/storageconfig"
)

// Step is one scheduled unit of work: either a normal executor action or a
// verify-only step for a preserve:true entry.
type Step struct {
	Entry      *storageconfig.Entry
	VerifyOnly bool
}

// Plan topologically sorts entries and replaces preserve:true entries with
// verify-only steps. It also expands one synthetic action: a format entry
// with fstype "zfsroot" expands into a zpool + zfs pair against the parent
// disk.
//
// A partition flagged "swap" gets no fstab record from Plan or from the
// persister; only a mount entry whose fstype is swap produces one (in
// internal/exec's mount executor).
func Plan(doc *storageconfig.Document) ([]Step, error) {
	entries := expandSynthetic(doc.Config)

	g, err := Build(entries)
	if err != nil {
		return nil, err
	}

	byID := storageconfig.IndexByID(entries)
	order := g.TopoSort()

	steps := make([]Step, 0, len(order))
	for _, id := range order {
		e := byID[id]
		steps = append(steps, Step{Entry: e, VerifyOnly: e.IsPreserve()})
	}
	return steps, nil
}

// expandSynthetic implements the zfsroot format -> zpool+zfs expansion.
// Everything else passes through unchanged.
func expandSynthetic(entries []storageconfig.Entry) []storageconfig.Entry {
	out := make([]storageconfig.Entry, 0, len(entries)+2)
	for _, e := range entries {
		if e.Type == storageconfig.TypeFormat && e.FSType == "zfsroot" {
			poolID := e.ID + "_zpool"
			zpool := storageconfig.Entry{
				ID:    poolID,
				Type:  storageconfig.TypeZpool,
				Pool:  e.ID + "_rpool",
				Vdevs: []string{e.Device},
			}
			zfs := storageconfig.Entry{
				ID:   e.ID + "_zfs",
				Type: storageconfig.TypeZfs,
				Pool: poolID,
				Dataset: "ROOT",
			}
			out = append(out, zpool, zfs)
			continue
		}
		out = append(out, e)
	}
	return out
}
