package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd runs the supervised session when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "blelink",
	Short: "Supervised BLE notification session",
	Long: `Keeps a long-lived session with a single Bluetooth Low Energy peripheral:

- Discovers nearby devices and picks the target by name, or asks which one to use
- Connects and subscribes to the read characteristic
- Batches incoming notifications and prints the newest sample of every batch
- Reconnects automatically after the link drops

Type "help" at the prompt for interactive commands.`,
	Version: formatVersion(version),
	RunE:    runSession,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("blelink %s (commit %s, built %s)\n", formatVersion(version), commit, date))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output (same as --log-level debug)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
