// Package cmd defines the sitemap-bot command line: serve, worker, and crawl.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-bot/internal/app"
	"github.com/JakeFAU/sitemap-bot/internal/config"
	"github.com/JakeFAU/sitemap-bot/internal/logging"
)

// newApp is the application factory. Tests swap it to inject collaborators.
var newApp = func(ctx context.Context, cfg config.Config, role app.Role, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, role, logger)
}

type rootOptions struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "sitemap-bot",
		Short: "Generates sitemaps for sites requested in a Slack channel.",
		Long: `sitemap-bot listens for Slack messages containing a site URL, crawls
the site, uploads a sitemap.xml, and posts the link back to the channel.

Run "serve" for the webhook endpoint, "worker" to consume jobs from a broker,
or "crawl" to build one sitemap from the command line.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML); env vars prefixed SITEMAP_ override it")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before config; ignored when missing")

	cmd.AddCommand(newServeCmd(opts), newWorkerCmd(opts), newCrawlCmd(opts))
	return cmd
}

// setup loads the env file and config, then builds the logger for component.
func (o *rootOptions) setup(component string) (config.Config, *zap.Logger, error) {
	if err := loadEnvFile(o.envFile); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, component)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// build runs setup and constructs the app for role.
func (o *rootOptions) build(ctx context.Context, role app.Role) (*app.App, *zap.Logger, error) {
	cfg, logger, err := o.setup(string(role))
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(ctx, cfg, role, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("initialize application services: %w", err)
	}
	return a, logger, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
