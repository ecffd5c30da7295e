package main

import (
	"fmt"
	"os"

	"github.com/ncruces/go-strftime"
	"github.com/spf13/cobra"

	"github.com/curtin-go/storage/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs from the run-history database",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	hist, err := history.Open(historyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history store unavailable:", err)
		os.Exit(exitConfigError)
	}
	defer hist.Close()

	runs, err := hist.ListRuns(historyLimit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history error:", err)
		os.Exit(exitExecutionFailure)
	}

	layout, err := strftime.Layout("%Y-%m-%d %H:%M:%S")
	if err != nil {
		return err
	}

	fmt.Printf("%-6s %-36s %-20s %-30s %s\n", "ID", "UUID", "STARTED", "CONFIG", "OUTCOME")
	for _, r := range runs {
		started := r.StartedAt.Format(layout)
		outcome := r.Outcome
		if outcome == "" {
			outcome = "in-progress"
		}
		fmt.Printf("%-6d %-36s %-20s %-30s %s\n", r.ID, r.RunUUID, started, r.ConfigPath, outcome)
	}
	return nil
}
