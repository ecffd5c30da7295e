// Command curtin-storage drives the storage engine pipeline: probe,
// validate, plan, execute/verify, persist. A cobra root command with
// persistent flags, subcommands registered in init(), Execute()+os.Exit(1)
// in main.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/curtin-go/storage/internal/version"
)

// Exit codes are part of the external contract.
const (
	exitSuccess           = 0
	exitConfigError       = 2
	exitExecutionFailure  = 3
	exitVerificationError = 4
)

var (
	targetRoot   string
	sysfsRoot    string
	historyPath  string
	deviceMapOut string
)

var rootCmd = &cobra.Command{
	Use:     "curtin-storage",
	Short:   "Declarative block-device storage engine",
	Version: version.Version,
	Long: `curtin-storage turns a declarative YAML storage configuration into a
concrete Linux block-device topology: partitions, RAID, LVM, encrypted
containers, bcache, multipath, ZFS, filesystems, and mounts.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&targetRoot, "target", envOr("TARGET_MOUNT_POINT", ""), "target mount point (env TARGET_MOUNT_POINT)")
	rootCmd.PersistentFlags().StringVar(&sysfsRoot, "sysfs-root", "", "override /sys/class/block root (testing only)")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history-db", "", "path to the run-history sqlite database")
	rootCmd.PersistentFlags().StringVar(&deviceMapOut, "device-map", "", "override storage.device_map_path")

	rootCmd.AddCommand(blockMetaCmd)
	rootCmd.AddCommand(clearHoldersCmd)
	rootCmd.AddCommand(assertClearCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
