// Package cmd defines and implements the CLI commands for the extractor executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/artikelwerk/hybrid-extractor/internal/config"
	"github.com/artikelwerk/hybrid-extractor/internal/logging"
)

// Version is stamped by the build; local builds report "dev".
var Version = "dev"

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App bundles the loaded configuration and logger that every subcommand
// needs.
type App struct {
	Config config.Config
	Logger *zap.Logger
}

// Close flushes buffered log entries.
func (a *App) Close() {
	if a == nil || a.Logger == nil {
		return
	}
	_ = a.Logger.Sync()
}

// newApp is the application factory. It's a variable so we can replace it
// with a mock factory in tests.
var newApp = func(context.Context) (*App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &App{Config: cfg, Logger: logger}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extractor",
		Version: Version,
		Short:   "Hybrid DOM and image-recognition product data extractor",
		Long: `extractor recovers structured product data from captured shop pages.
It merges the DOM sidecar written at capture time with image recognition
over the element screenshots, validates the reconciled result, and
persists versioned product records.`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE,
		// so every subcommand finds a ready App in its context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, app))
			return nil
		},

		// Ensures buffered logs are flushed however the command exits.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app, ok := cmd.Context().Value(appKey).(*App); ok {
				app.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is environment-only configuration)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newCompareCmd())
	cmd.AddCommand(newCaptureCmd())

	return cmd
}

// resolveApp retrieves the App injected by the root command's
// PersistentPreRunE.
func resolveApp(ctx context.Context) (*App, error) {
	app, ok := ctx.Value(appKey).(*App)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
