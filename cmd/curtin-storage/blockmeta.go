package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	curtinexec "github.com/curtin-go/storage/internal/exec"
	"github.com/curtin-go/storage/internal/graph"
	"github.com/curtin-go/storage/internal/history"
	"github.com/curtin-go/storage/internal/holders"
	"github.com/curtin-go/storage/internal/identity"
	"github.com/curtin-go/storage/internal/lockfile"
	"github.com/curtin-go/storage/internal/persist"
	"github.com/curtin-go/storage/internal/probe"
	"github.com/curtin-go/storage/internal/report"
	"github.com/curtin-go/storage/internal/storageconfig"
	"github.com/curtin-go/storage/internal/toolrunner"
	"github.com/curtin-go/storage/internal/verify"
)

// defaultLockPath guards a single engine run per host at a time,
// regardless of which target root it's operating on.
const defaultLockPath = "/run/curtin-storage.lock"

var blockMetaCmd = &cobra.Command{
	Use:   "block-meta",
	Short: "Run the storage pipeline against the current host",
}

var blockMetaCustomCmd = &cobra.Command{
	Use:   "custom",
	Short: "Apply a custom storage config (probe, plan, execute, verify, persist)",
	RunE:  runBlockMetaCustom,
}

var configPath string
var jsonOut bool

func init() {
	blockMetaCustomCmd.Flags().StringVar(&configPath, "config", envOr("CONFIG", ""), "path to storage config YAML (env CONFIG)")
	blockMetaCustomCmd.Flags().BoolVar(&jsonOut, "json", false, "render the step report as JSON")
	blockMetaCmd.AddCommand(blockMetaCustomCmd)
}

func runBlockMetaCustom(cmd *cobra.Command, args []string) error {
	if targetRoot == "" {
		fmt.Fprintln(os.Stderr, "TARGET_MOUNT_POINT is required (set --target or the environment variable)")
		os.Exit(exitConfigError)
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "a storage config path is required (--config or CONFIG)")
		os.Exit(exitConfigError)
	}

	lock, err := lockfile.Acquire(defaultLockPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "another curtin-storage run holds the lock:", err)
		os.Exit(exitExecutionFailure)
	}
	defer lock.Release()

	doc, err := storageconfig.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "schema error:", err)
		os.Exit(exitConfigError)
	}

	steps, err := graph.Plan(doc)
	if err != nil {
		fmt.Fprintln(os.Stderr, "planning error:", err)
		os.Exit(exitConfigError)
	}

	hist, err := history.Open(historyPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history store unavailable:", err)
		os.Exit(exitConfigError)
	}
	defer hist.Close()

	runID, err := hist.StartRun(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history error:", err)
		os.Exit(exitConfigError)
	}

	ctx := context.Background()
	runner := toolrunner.New()

	ec := curtinexec.NewContext(runner, sysfsRoot, targetRoot, doc.Version, doc.Config)
	ec.Snapshot, _ = probe.Take(ctx, runner, sysfsRoot)

	if err := clearHoldersForConfig(ctx, runner, ec.Snapshot, doc); err != nil {
		fmt.Fprintln(os.Stderr, "clear-holders error:", err)
		hist.FinishRun(runID, "execution-failure")
		os.Exit(exitExecutionFailure)
	}
	ec.Snapshot, _ = probe.Reprobe(ctx, runner, sysfsRoot)

	var reports []report.StepReport

	for i := range steps {
		step := steps[i]
		rep := report.FromStep(step)

		if step.VerifyOnly {
			mismatches := verify.Check(step.Entry, ec.Snapshot, ec.DeviceMap[step.Entry.ID])
			if len(mismatches) > 0 {
				rep.Status, rep.Detail = "mismatch", mismatches[0].Error()
				reports = append(reports, rep)
				renderReports(reports)
				hist.RecordAction(runID, step.Entry.ID, string(step.Entry.Type), "", "mismatch", mismatches[0].Error())
				hist.FinishRun(runID, "verification-failure")
				os.Exit(exitVerificationError)
			}
			rep.Status = "verified"
			reports = append(reports, rep)
			hist.RecordAction(runID, step.Entry.ID, string(step.Entry.Type), "", "verified", "")
			continue
		}

		res, err := curtinexec.Run(ctx, ec, step)
		if err != nil {
			rep.Status, rep.Detail = "failed", err.Error()
			reports = append(reports, rep)
			renderReports(reports)
			hist.RecordAction(runID, step.Entry.ID, string(step.Entry.Type), "", "failed", err.Error())
			hist.FinishRun(runID, "execution-failure")
			os.Exit(exitExecutionFailure)
		}

		rep.Status, rep.DevicePath = "done", res.DevicePath
		reports = append(reports, rep)
		hist.RecordAction(runID, step.Entry.ID, string(step.Entry.Type), res.DevicePath, "done", "")
	}

	if err := persistOutputs(doc, ec); err != nil {
		fmt.Fprintln(os.Stderr, "persist error:", err)
		hist.FinishRun(runID, "execution-failure")
		os.Exit(exitExecutionFailure)
	}

	hist.FinishRun(runID, "success")
	renderReports(reports)
	return nil
}

func persistOutputs(doc *storageconfig.Document, ec *curtinexec.Context) error {
	if err := persist.WriteFstab(targetRoot, ec.Fstab); err != nil {
		return err
	}
	if err := persist.WriteCrypttab(targetRoot, ec.Crypttab); err != nil {
		return err
	}
	if err := persist.WriteUdevRules(targetRoot, ec.DNameRules); err != nil {
		return err
	}

	mapPath := deviceMapOut
	if mapPath == "" {
		mapPath = doc.DeviceMapPath
	}
	return persist.WriteDeviceMap(mapPath, ec.DeviceMap)
}

func renderReports(reports []report.StepReport) {
	if jsonOut {
		report.WriteJSON(os.Stdout, reports)
		return
	}
	report.WriteTable(os.Stdout, reports)
}

// clearHoldersForConfig tears down the holder stack above every disk entry
// the config resolves to a live device, before the planner's executor loop
// touches it — including a degraded RAID member the config reuses — without
// requiring a separate clear-holders invocation first.
func clearHoldersForConfig(ctx context.Context, runner *toolrunner.Runner, snap *probe.Snapshot, doc *storageconfig.Document) error {
	var targets []string
	for i := range doc.Config {
		e := &doc.Config[i]
		if e.Type != storageconfig.TypeDisk {
			continue
		}
		loc, err := identity.Resolve(e, snap)
		if err != nil {
			// Not found yet is fine here: a disk that doesn't exist on this
			// host can't have holders to clear; execDisk will fail later
			// with a clearer error if it's genuinely missing.
			continue
		}
		targets = append(targets, loc.KName)
	}
	if len(targets) == 0 {
		return nil
	}

	tree := holders.Build(snap, nil, targets)
	plan, err := holders.Plan(tree)
	if err != nil {
		return fmt.Errorf("clear-holders planning: %w", err)
	}
	return holders.Execute(ctx, runner, sysfsRoot, tree, plan)
}
