// Package holders builds the holder tree for a set of target devices and
// drives the clear-holders state machine: Discovered -> Quiesced ->
// TornDown -> Gone, walking leaves-first so a device is never torn down
// while something still holds it open.
//
// Each node's teardown actions are chosen by a switch on its device type
// (actionFor in clear.go), applied to the holder tree in dependency order:
// discover the whole tree's state up front, then act on it node by node in
// teardown order.
package holders

import (
	"fmt"
	"sort"

	"github.com/curtin-go/storage/internal/probe"
)

// State is a node's position in the clear-holders lifecycle.
type State string

const (
	Discovered State = "discovered"
	Quiesced   State = "quiesced"
	TornDown   State = "torndown"
	Gone       State = "gone"
)

// priority orders device types for teardown WITHIN one holder-graph level:
// mounts first (userspace is still touching the filesystem), then bcache,
// raid, lvm-lv, lvm-pv, crypt, mpath, partition, disk last. This is only a
// tie-break — the primary ordering is by descending holder-graph depth
// (see level/Order below); two device types never compete on priority
// unless they sit at the same depth.
//
// A volume group has no kernel block device of its own — lvs/vgs expose it
// only as a name grouping PVs and LVs, never a /sys/class/block/<kname>
// entry — so there is no lvm-vg tier in this table: a VG is torn down as a
// side effect of its last LV disappearing, never as its own Node. The
// lvm-lv tier is DevLVM, which the probe only ever assigns to the dm-*
// device backing a logical volume (see mergeDMSetup); the lvm-pv tier is
// handled separately by pvPriority below, since a PV keeps the device type
// of whatever it's built from (partition, disk, raid, even bcache) and
// Device.LVMPVUUID is the only signal that it also carries PV metadata.
var priority = map[probe.DevType]int{
	probe.DevBcache:    1,
	probe.DevRaid:      2,
	probe.DevLVM:       3,
	probe.DevCrypt:     5,
	probe.DevMpath:     6,
	probe.DevPartition: 7,
	probe.DevDisk:      8,
}

// pvPriority is the lvm-pv tier: a partition or disk that also carries PV
// metadata (Node.IsPV) is quiesced ahead of a plain partition/disk, since
// its pvremove must happen before the device can be wiped. It does not
// apply when the PV's own device type already sorts earlier (raid, bcache,
// lvm, mount) — Priority takes the minimum of the two.
const pvPriority = 4

const mountPriority = 0

// Node is one device in the holder tree, with its clear-holders state and
// the knames of devices that must be cleared before this one.
type Node struct {
	KName    string
	Type     probe.DevType
	Mounted  bool // true if a mountpoint references this device
	Mounts   []string
	State    State
	Holders  []string // knames this node must wait on (its sysfs holders)
	Parents  []string // knames this node depends on
	IsPV     bool     // true if this device also carries LVM PV metadata
}

// Tree is the full holder tree for a probe snapshot, restricted (if target
// knames are given) to the transitive holder closure of those targets.
type Tree struct {
	Nodes map[string]*Node
}

// Build constructs the holder tree from a snapshot. If targets is non-empty,
// only targets and everything that (transitively) holds them are included;
// an empty targets means "the whole snapshot," used by top-level
// clear-holders invocations against an entire disk.
func Build(snap *probe.Snapshot, mountsByDevice map[string][]string, targets []string) *Tree {
	tree := &Tree{Nodes: make(map[string]*Node)}

	include := func(string) bool { return true }
	if len(targets) > 0 {
		closure := closureOf(snap, targets)
		include = func(kname string) bool { return closure[kname] }
	}

	for kname, dev := range snap.Devices {
		if !include(kname) {
			continue
		}
		mounts := mountsByDevice[kname]
		tree.Nodes[kname] = &Node{
			KName:   kname,
			Type:    dev.Type,
			Mounted: len(mounts) > 0,
			Mounts:  mounts,
			State:   Discovered,
			Holders: dev.Holders,
			Parents: dev.Parents,
			IsPV:    dev.LVMPVUUID != "",
		}
	}

	return tree
}

// closureOf returns every kname that holds (directly or transitively) one
// of targets, plus the targets themselves.
func closureOf(snap *probe.Snapshot, targets []string) map[string]bool {
	closure := make(map[string]bool)
	var visit func(kname string)
	visit = func(kname string) {
		if closure[kname] {
			return
		}
		closure[kname] = true
		dev, ok := snap.Devices[kname]
		if !ok {
			return
		}
		for _, holder := range dev.Holders {
			visit(holder)
		}
	}
	for _, t := range targets {
		visit(t)
	}
	return closure
}

// Priority returns the teardown-order priority of a node: lower runs first.
// Mounted nodes always sort before any device-type priority: unmount
// before touching the device it sits on. A node that also carries PV
// metadata is bumped up to pvPriority unless its own device type already
// sorts earlier (bcache/raid/lvm already precede lvm-pv in the tier table).
func Priority(n *Node) int {
	if n.Mounted {
		return mountPriority
	}
	p, ok := priority[n.Type]
	if !ok {
		p = len(priority) + 1
	}
	if n.IsPV && pvPriority < p {
		p = pvPriority
	}
	return p
}

// level returns kname's depth in the holder DAG: 0 for a node with no
// parents present in the tree (a raw disk), otherwise one more than the
// deepest of its parents. A partition sitting under a bcache device that in
// turn backs an LVM stack ends up shallower than the lv/vg/pv layers built
// on top of it, regardless of device type.
func (t *Tree) level(kname string, memo map[string]int, visiting map[string]bool) int {
	if lv, ok := memo[kname]; ok {
		return lv
	}
	n, ok := t.Nodes[kname]
	if !ok || visiting[kname] {
		return 0
	}
	visiting[kname] = true

	max := -1
	for _, p := range n.Parents {
		if _, ok := t.Nodes[p]; !ok {
			continue
		}
		if lv := t.level(p, memo, visiting); lv > max {
			max = lv
		}
	}

	delete(visiting, kname)
	lvl := max + 1
	memo[kname] = lvl
	return lvl
}

// Order returns the knames in the tree sorted so that everything built on
// top of a device clears before the device itself: primarily by descending
// holder-graph level, with the device-type Priority table used only to
// break ties between unrelated devices sitting at the same level, then
// kname for determinism.
func (t *Tree) Order() []string {
	memo := make(map[string]int, len(t.Nodes))
	for kname := range t.Nodes {
		t.level(kname, memo, make(map[string]bool))
	}

	out := make([]string, 0, len(t.Nodes))
	for kname := range t.Nodes {
		out = append(out, kname)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := memo[out[i]], memo[out[j]]
		if li != lj {
			return li > lj
		}
		pi, pj := Priority(t.Nodes[out[i]]), Priority(t.Nodes[out[j]])
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}

// Get returns the node for kname, or an error if it isn't in the tree.
func (t *Tree) Get(kname string) (*Node, error) {
	n, ok := t.Nodes[kname]
	if !ok {
		return nil, fmt.Errorf("kname %q not in holder tree", kname)
	}
	return n, nil
}
