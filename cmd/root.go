package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/config"
	"github.com/sells-group/mops-cli/internal/model"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "mops-cli",
	Short: "Quarterly financial report downloader for the MOPS disclosure portal",
	Long: "Discovers the standalone (individual) IFRS financial report of a listed company for each requested quarter, " +
		"resolves its PDF through the portal's detail pages, and downloads it with retry, validation and a per-company " +
		"metadata record.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// exitCode maps a command error to the process status: 2 for fatal input
// or configuration problems, 1 otherwise.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if model.IsFatal(err) {
		return 2
	}
	return 1
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
