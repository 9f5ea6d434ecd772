// Package cmd defines and implements the CLI commands for the bulk-scraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-scraper/internal/config"
	"github.com/JakeFAU/bulk-scraper/internal/logging"
)

// appKeyType is the key for storing loaded services in the command context.
type appKeyType string

const appKey appKeyType = "app"

// app holds what every subcommand needs.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// loadApp builds the app from a config path. Replaced in tests.
var loadApp = func(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "bulk-scraper",
		Short: "Fetch the HTML of many URLs through one remote browser session.",
		Long: `bulk-scraper opens a single browser session, provisions a fixed number of
pages inside it and drains a URL queue through them. Every URL produces
exactly one result, delivered to the configured sinks.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cfgFile)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(a.logger)
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app); ok && a != nil {
				_ = a.logger.Sync() //nolint:errcheck // best-effort flush
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment uses the SCRAPER_ prefix")
	cmd.AddCommand(newScrapeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
