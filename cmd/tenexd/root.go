package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tenexd",
	Short: "Multi-agent conversation routing daemon",
	Long: `tenexd routes project conversations between a user and a roster of
LLM-backed agents. Conversations move through workflow phases (chat, plan,
execute, review, chores); the daemon decides per message who responds,
whether the phase changes, and when a team of agents should collaborate.

State is persisted in a local SQLite database so routing survives restarts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: XDG config, then .tenex.yaml)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
