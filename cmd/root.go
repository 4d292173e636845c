package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/calibration-cli/internal/config"
)

var cfg *config.Config

var (
	criteriaFile     string
	advisoryProvider string
)

var rootCmd = &cobra.Command{
	Use:   "calibration-cli",
	Short: "Laboratory equipment calibration compliance",
	Long:  "Runs calibration sessions through environmental checks and measurement validation, scores compliance against per-class acceptance criteria, and records the results.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		applyFlagOverrides(cfg)

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// applyFlagOverrides lets --criteria and --advisory win over config.yaml and
// the environment.
func applyFlagOverrides(c *config.Config) {
	if criteriaFile != "" {
		c.Criteria.File = criteriaFile
	}
	if advisoryProvider != "" {
		c.Advisory.Provider = advisoryProvider
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&criteriaFile, "criteria", "", "acceptance criteria YAML file (default: built-in table)")
	rootCmd.PersistentFlags().StringVar(&advisoryProvider, "advisory", "", "advisory provider: none, claude or http")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
