package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ojage/lokkito-backend/internal/config"
	"github.com/ojage/lokkito-backend/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show lokkito status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("lokkito %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Printf("Logs:    %s\n", paths.Logs)
			fmt.Println()

			cfg, err := config.Load(paths.Config)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("Config:  not found (using defaults)")
				} else {
					fmt.Printf("Config:  error loading: %v\n", err)
				}
				return nil
			}

			fmt.Printf("Server:  port=%d bind=%s auth=%v\n",
				cfg.Server.Port, cfg.Server.Bind, cfg.Server.Auth.Token != "")

			apiKey := "(not set)"
			if cfg.Provider.APIKey != "" {
				apiKey = "configured"
			}
			fmt.Printf("Provider: model=%s apiKey=%s timeout=%ds\n",
				cfg.Provider.Model, apiKey, cfg.Provider.TimeoutSeconds)

			fmt.Printf("Store:   backend=%s\n", cfg.Store.Backend)

			if cfg.Identity.Domain != "" {
				fmt.Printf("Identity: domain=%s\n", cfg.Identity.Domain)
			} else {
				fmt.Println("Identity: (not configured)")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			return nil
		},
	}
}
