package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbosity int
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:   "mmtrace",
	Short: "Replay allocation traces against the implicit-list allocator",
	Long: `mmtrace replays allocation traces against the implicit-list heap
allocator and reports heap growth, utilization and fragmentation, so that
the placement policies can be compared on the same workload.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Log allocator calls (-v) or every split, coalesce and extension (-vv)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
