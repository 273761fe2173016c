package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/proximity-cli/internal/config"
)

var cfg *config.Config

// validatedCommands run config.Validate with their name as the mode.
var validatedCommands = map[string]bool{
	"serve":   true,
	"search":  true,
	"seed":    true,
	"migrate": true,
}

var rootCmd = &cobra.Command{
	Use:   "proximity-cli",
	Short: "Progressive geohash proximity search with provider backfill",
	Long:  "Finds indexed points of interest near a coordinate by widening the search radius, and backfills the index from Google Places when local results run short.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if validatedCommands[cmd.Name()] {
			if err := cfg.Validate(cmd.Name()); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
