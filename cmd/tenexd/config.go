package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tenex-agents/tenex/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("config file:    %s\n", config.GetUserConfigPath())
		fmt.Printf("model:          %s\n", cfg.Anthropic.Model)
		fmt.Printf("api key:        %s (%s)\n", config.MaskAPIKey(cfg.Anthropic.APIKey), config.GetAPIKeySource(cfg))
		fmt.Printf("aws bedrock:    %v\n", cfg.Anthropic.UseAWSBedrock)
		fmt.Printf("agents file:    %s\n", cfg.Routing.AgentsFile)
		fmt.Printf("plan approval:  %v\n", cfg.Routing.RequirePlanApproval)
		fmt.Printf("project path:   %s\n", cfg.Project.Path)
		fmt.Printf("daemon pubkey:  %s\n", cfg.Daemon.Pubkey)
		return nil
	},
}

// loadConfig loads the daemon configuration, honoring --config.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}
