package holders

import (
	"context"
	"fmt"
	"time"

	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/toolrunner"
)

// quiesceAttempts and quiesceBackoff bound how hard Execute retries a
// single action's external command before giving up on that node: 3
// attempts, 1s backoff between them. The engine must not proceed to
// partition a device whose holders are still live, so exhausting the
// budget is fatal.
const (
	quiesceAttempts = 3
	quiesceBackoff  = 1 * time.Second
)

// Action is one step of a shutdown plan: the device it applies to and the
// command that tears it down. Surfaced verbatim by `clear-holders
// --shutdown-plan` so an operator can review before executing.
type Action struct {
	KName  string
	Type   probe.DevType
	Verb   string // umount, mdadm-stop, lvremove, cryptsetup-close, wipefs, ...
	Invocation toolrunner.Invocation
}

// Plan walks the tree in teardown order and builds the Action sequence
// without executing anything, grounded on curtin's clear_holders.py
// separating "compute shutdown order" from "perform shutdown."
func Plan(tree *Tree) ([]Action, error) {
	var actions []Action
	for _, kname := range tree.Order() {
		n, err := tree.Get(kname)
		if err != nil {
			return nil, err
		}
		actions = append(actions, actionFor(n)...)
	}
	return actions, nil
}

func actionFor(n *Node) []Action {
	var acts []Action

	for _, mnt := range n.Mounts {
		acts = append(acts, Action{
			KName: n.KName, Type: n.Type, Verb: "umount",
			Invocation: toolrunner.Invocation{Name: "umount", Args: []string{mnt}},
		})
	}

	switch n.Type {
	case probe.DevRaid:
		acts = append(acts, Action{
			KName: n.KName, Type: n.Type, Verb: "mdadm-stop",
			Invocation: toolrunner.Invocation{Name: "mdadm", Args: []string{"--stop", "/dev/" + n.KName}},
		})
	case probe.DevLVM:
		acts = append(acts, Action{
			KName: n.KName, Type: n.Type, Verb: "lvremove",
			Invocation: toolrunner.Invocation{Name: "dmsetup", Args: []string{"remove", n.KName}},
		})
	case probe.DevCrypt:
		acts = append(acts, Action{
			KName: n.KName, Type: n.Type, Verb: "cryptsetup-close",
			Invocation: toolrunner.Invocation{Name: "cryptsetup", Args: []string{"close", n.KName}},
		})
	case probe.DevBcache:
		acts = append(acts, Action{
			KName: n.KName, Type: n.Type, Verb: "bcache-stop",
			Invocation: toolrunner.Invocation{Name: "sh", Args: []string{"-c", fmt.Sprintf("echo 1 > /sys/block/%s/bcache/stop", n.KName)}},
		})
	case probe.DevMpath:
		acts = append(acts, Action{
			KName: n.KName, Type: n.Type, Verb: "multipath-flush",
			Invocation: toolrunner.Invocation{Name: "multipath", Args: []string{"-f", n.KName}},
		})
	case probe.DevPartition, probe.DevDisk:
		acts = append(acts, Action{
			KName: n.KName, Type: n.Type, Verb: "wipefs",
			Invocation: toolrunner.Invocation{Name: "wipefs", Args: []string{"-a", "/dev/" + n.KName}},
		})
	}

	return acts
}

// Execute runs a previously computed plan through runner, advancing each
// node's State as its actions complete. After every action's external
// mutation, it settles and takes a targeted reprobe before trusting
// topology again, and only advances a node to Gone once that reprobe
// confirms its holders are actually clear — advancing state on the
// in-memory plan alone, without checking kernel reality, would let the
// caller repartition a device that the kernel still considers held.
//
// Each action's invocation gets a bounded retry budget (quiesceAttempts
// tries, quiesceBackoff apart) before its failure is treated as fatal.
//
// Execute stops at the first failure: clear-holders has no partial-success
// story, matching curtin's clear_holders behavior of aborting the whole
// shutdown on any single handler failure.
func Execute(ctx context.Context, runner *toolrunner.Runner, sysfsRoot string, tree *Tree, actions []Action) error {
	for _, a := range actions {
		n, err := tree.Get(a.KName)
		if err != nil {
			return err
		}
		n.State = Quiesced

		if err := runQuiesceWithRetry(ctx, runner, a); err != nil {
			return err
		}
		n.State = TornDown

		if err := probe.Settle(ctx, runner); err != nil {
			return fmt.Errorf("clear-holders: settle after %s on %s: %w", a.Verb, a.KName, err)
		}
		snap, _ := probe.Reprobe(ctx, runner, sysfsRoot)
		if dev, ok := snap.Devices[a.KName]; ok && len(dev.Holders) > 0 {
			return fmt.Errorf("clear-holders: %s still has holders after %s: %v", a.KName, a.Verb, dev.Holders)
		}

		n.State = Gone
	}

	return nil
}

// runQuiesceWithRetry runs a.Invocation, retrying up to quiesceAttempts
// times with quiesceBackoff between attempts before giving up.
func runQuiesceWithRetry(ctx context.Context, runner *toolrunner.Runner, a Action) error {
	var lastErr error
	for attempt := 1; attempt <= quiesceAttempts; attempt++ {
		_, err := runner.Run(ctx, a.Invocation)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < quiesceAttempts {
			time.Sleep(quiesceBackoff)
		}
	}
	return fmt.Errorf("clear-holders: %s on %s: %w (after %d attempts)", a.Verb, a.KName, lastErr, quiesceAttempts)
}
