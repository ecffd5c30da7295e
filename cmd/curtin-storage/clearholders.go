package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/curtin-go/storage/internal/holders"
	"github.com/curtin-go/storage/internal/lockfile"
	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/toolrunner"
)

var shutdownPlanOnly bool

var clearHoldersCmd = &cobra.Command{
	Use:   "clear-holders [--shutdown-plan] <device>...",
	Short: "Tear down the dependent stack above one or more target devices",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClearHolders,
}

func init() {
	clearHoldersCmd.Flags().BoolVar(&shutdownPlanOnly, "shutdown-plan", false, "print the ordered plan without executing")
}

func runClearHolders(cmd *cobra.Command, args []string) error {
	lock, err := lockfile.Acquire(defaultLockPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "another curtin-storage run holds the lock:", err)
		os.Exit(exitExecutionFailure)
	}
	defer lock.Release()

	ctx := context.Background()
	runner := toolrunner.New()

	snap, warnings := probe.Take(ctx, runner, sysfsRoot)
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "probe warning (%s): %v\n", w.Tool, w.Err)
	}

	targets := knamesOf(args)
	tree := holders.Build(snap, nil, targets)

	plan, err := holders.Plan(tree)
	if err != nil {
		fmt.Fprintln(os.Stderr, "planning error:", err)
		os.Exit(exitConfigError)
	}

	if shutdownPlanOnly {
		for _, a := range plan {
			fmt.Printf("%-20s %-8s %s %v\n", a.KName, a.Verb, a.Invocation.Name, a.Invocation.Args)
		}
		return nil
	}

	if err := holders.Execute(ctx, runner, sysfsRoot, tree, plan); err != nil {
		fmt.Fprintln(os.Stderr, "clear-holders failed:", err)
		os.Exit(exitExecutionFailure)
	}

	return nil
}

// knamesOf strips /dev/ prefixes from the command-line device arguments so
// they match probe.Device.KName.
func knamesOf(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		for j := len(a) - 1; j >= 0; j-- {
			if a[j] == '/' {
				out[i] = a[j+1:]
				break
			}
		}
	}
	return out
}
