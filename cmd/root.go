package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daoscope/govmatrix/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "govmatrix",
	Short: "Assemble DAO voting matrices from on-chain governance data",
	Long: `govmatrix resolves a DAO on the governance API, pulls its delegates,
proposals, and votes with checkpointed pagination, and assembles a full
delegate-by-proposal voting matrix with summary exports.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
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
