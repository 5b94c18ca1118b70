// R4sctl controls Redmond Ready for Sky kettles over Bluetooth Low Energy.
//
// It scans for appliances, pairs authentication keys, reads status and usage
// statistics, and switches programs, lights and settings.
//
// Usage:
//
//	r4sctl [command] [flags]
//
// See 'r4sctl --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	err := rootCmd.Execute()
	teardown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "r4sctl",
	Short: "Redmond Ready for Sky appliance controller",
	Long: `A command line controller for Redmond Ready for Sky kettles.

Talks to the appliance directly over Bluetooth Low Energy: no cloud account
and no phone app are needed once a key has been paired.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ~/.config/r4s/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default: from config)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "detailed", "Output format (detailed, json)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("r4sctl %s (commit: %s)\n", version, commit)
	},
}
