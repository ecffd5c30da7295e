// Package graph builds and topologically sorts the action graph: config
// entries are nodes, cross-references by id are edges.
//
// Builds a map of edges keyed by entry id, then walks it deterministically
// — a topological sort rather than a reverse-index build, but the same
// "build a map of slices, then walk it" shape.
package graph

import (
	"fmt"
	"sort"

	"github.com/curtin-go/storage/internal/storageconfig"
)

// Graph is the action graph over a storage config: nodes are entry ids,
// edges point from a dependency to its dependent (edge a->b means a must be
// materialized before b, i.e. b references a).
type Graph struct {
	order []string          // original config order, for stable tie-breaking
	deps  map[string][]string // entry id -> ids it depends on
}

// Build constructs the action graph from a validated document. A reference
// that names no entry in the set is treated as an external, already
// materialized device and adds no edge (storageconfig.Validate is what
// checks references); Build returns an error only for a dependency cycle.
func Build(entries []storageconfig.Entry) (*Graph, error) {
	byID := storageconfig.IndexByID(entries)
	g := &Graph{deps: make(map[string][]string, len(entries))}

	for _, e := range entries {
		g.order = append(g.order, e.ID)
		refs := referencesOf(&e)
		for _, r := range refs {
			if r == "" {
				continue
			}
			if _, ok := byID[r]; !ok {
				// External/already-materialized device: not a graph edge.
				continue
			}
			g.deps[e.ID] = append(g.deps[e.ID], r)
		}
	}

	if cyc := g.findCycle(); cyc != nil {
		return nil, fmt.Errorf("action graph contains a cycle: %v", cyc)
	}

	return g, nil
}

// referencesOf lists the ids an entry points at: device, volume,
// volgroup, devices, spare_devices, backing_device, cache_device, vdevs,
// pool, nvme_controller.
func referencesOf(e *storageconfig.Entry) []string {
	var refs []string
	add := func(s string) {
		if s != "" {
			refs = append(refs, s)
		}
	}
	add(e.Device)
	add(e.Volume)
	add(e.VolGroup)
	add(e.BackingDevice)
	add(e.CacheDevice)
	add(e.Pool)
	add(e.NVMeController)
	refs = append(refs, e.Devices...)
	refs = append(refs, e.SpareDevices...)
	refs = append(refs, e.Vdevs...)
	return refs
}

// findCycle returns a cycle (as a slice of ids) if one exists, nil otherwise.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.order))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case gray:
				cycle = append(append([]string{}, path...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}

// TopoSort returns entry ids ordered so that every dependency precedes its
// dependent, ties broken by original config order.
func (g *Graph) TopoSort() []string {
	indexOf := make(map[string]int, len(g.order))
	for i, id := range g.order {
		indexOf[id] = i
	}

	visited := make(map[string]bool, len(g.order))
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		deps := append([]string{}, g.deps[id]...)
		sort.Slice(deps, func(i, j int) bool { return indexOf[deps[i]] < indexOf[deps[j]] })
		for _, dep := range deps {
			visit(dep)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result
}

// DependsOn reports the direct dependencies of id.
func (g *Graph) DependsOn(id string) []string {
	return g.deps[id]
}
