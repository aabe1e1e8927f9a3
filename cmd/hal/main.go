// Command hal is the operator CLI (component I, spec.md §4.15): task
// start/status/logs, pool sync/stats, and recover, all against the local
// data directory's SQLite store and BoltDB artifact store directly — there
// is no long-running server process to talk to, unlike warren's client/API
// split. Modeled on cmd/warren/main.go's rootCmd + persistent
// --log-level/--log-json flags wired through cobra.OnInitialize.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samueljseay/hal9999/internal/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hal",
	Short: "hal orchestrates coding-agent runs against ephemeral VMs",
	Long: `hal dispatches a coding agent against a disposable VM checked out
from a repository, streams its output, and collects the diff it produces.

VMs are drawn from a warm pool of configured provider slots; tasks and VM
state live in a local SQLite database under --data-dir.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./hal-data", "Data directory for the task/VM database and artifacts")
	rootCmd.PersistentFlags().String("providers", "localvm", "Comma-separated provider slot names to configure")
	rootCmd.PersistentFlags().String("config", "", "Optional path to a slot config.yaml")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(recoverCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	logging.Init(logging.Config{
		Level:      logging.Level(logLevel),
		JSONOutput: logJSON,
	})
}
