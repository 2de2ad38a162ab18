package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cerebro",
	Short: "Find and remove duplicate files",
	Long: `cerebro scans directory trees for duplicate files by content,
stores the inventory in SQLite, and walks a reviewed duplicate set
through trash-or-permanent deletion with a full audit trail.`,
}

var (
	globalVerbose    bool
	globalConfigFile string
)

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVarP(&globalVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&globalConfigFile, "config", "", "Path to config file (default: ~/.cerebro/config.yaml)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(tuiCmd)
}
