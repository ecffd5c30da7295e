package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/curtin-go/storage/internal/holders"
	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/toolrunner"
)

var assertClearCmd = &cobra.Command{
	Use:   "assert-clear <device>...",
	Short: "Exit 0 iff no holders remain above the given devices",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAssertClear,
}

func runAssertClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	runner := toolrunner.New()

	snap, _ := probe.Take(ctx, runner, sysfsRoot)
	targets := knamesOf(args)
	tree := holders.Build(snap, nil, targets)

	for _, kname := range targets {
		n, err := tree.Get(kname)
		if err != nil {
			// Not in the snapshot at all: nothing holds it, which trivially
			// satisfies "no holders remain."
			continue
		}
		if len(n.Holders) > 0 {
			fmt.Fprintf(os.Stderr, "assert-clear: %s still has holders: %v\n", kname, n.Holders)
			os.Exit(exitExecutionFailure)
		}
	}

	return nil
}
