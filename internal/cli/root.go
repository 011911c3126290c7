// Package cli implements the hitloop command line.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/viant/hitloop"
	"github.com/viant/hitloop/internal/logging"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "hitloop",
	Short: "Human approval gate for agent actions",
	Long:  `hitloop persists approval requests, notifies reviewers and resolves each request by decision or deadline.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file location (any afs URL)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// loadConfig loads .env and config, then installs the default logger
func loadConfig(ctx context.Context) (*hitloop.Config, *slog.Logger, error) {
	_ = godotenv.Load()
	cfg, err := hitloop.LoadConfig(ctx, cfgPath)
	if err != nil {
		logging.Init(logging.Config{})
		return nil, nil, err
	}
	if isDebug {
		cfg.Logging.Level = "debug"
	}
	return cfg, logging.Init(cfg.Logging), nil
}
