package cli

import (
	"fmt"
	"os"

	"github.com/dshills/abigate/internal/review"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// Exit codes. Accepted and declined mirror the review decision; a pending
// decision leaves the request open.
const (
	ExitSuccess       = 0
	ExitDeclined      = 1
	ExitUsageError    = 2
	ExitAuthError     = 3
	ExitRuntimeError  = 4
	ExitIndeterminate = 5
)

var rootCmd = &cobra.Command{
	Use:   "abigate",
	Short: "ABI compatibility gate for build service requests",
	Long:  "abigate compares the shared libraries a submission builds against those published in the target project and reviews the request accordingly.",
}

// Run executes the root command and returns an exit code.
func Run() int {
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		return ExitUsageError
	}

	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

// decisionExit maps a review decision to its exit code.
func decisionExit(d review.Decision) int {
	switch d {
	case review.Accept:
		return ExitSuccess
	case review.Decline:
		return ExitDeclined
	default:
		return ExitIndeterminate
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print abigate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "abigate version %s\n", version)
	},
}
