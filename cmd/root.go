// Package cmd defines the leadcrawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadcrawler/internal/app"
	"github.com/JakeFAU/leadcrawler/internal/batch"
	"github.com/JakeFAU/leadcrawler/internal/checkpoint"
	"github.com/JakeFAU/leadcrawler/internal/config"
	"github.com/JakeFAU/leadcrawler/internal/crawler"
	"github.com/JakeFAU/leadcrawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the commands need from the container. Tests inject fakes.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Backend() checkpoint.Backend
	IDs() crawler.IDGenerator
	Ready(ctx context.Context) error
	Jobs(names ...string) ([]batch.Job, error)
	Crawl(ctx context.Context, jobs []batch.Job) ([]batch.Result, error)
	Dispatch(ctx context.Context, leads []crawler.Lead) (crawler.DispatchResult, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, configPath string) (App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "leadcrawler",
		Short: "Collects contact leads from maps, video comments and group posts.",
		Long: `leadcrawler walks configured search queries, videos and group feeds,
extracts normalized leads with checkpointed progress, and optionally sends
rate limited outreach to the leads it found.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), configPath)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newDispatchCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
