// Package cli wires the teleops commands: an interactive operator
// console, config bootstrap, and task inspection.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "teleops",
	Short: "Single-operator remote-control command agent",
	Long: `teleops is a chat-driven agent for one trusted operator: it turns
plain-language instructions into shell commands, runs them with bounded
concurrency and timeouts, and keeps a durable library of named tasks.

Running 'teleops' without a subcommand is equivalent to 'teleops run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(tasksCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "teleops.json", "Path to teleops.json config file")
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
