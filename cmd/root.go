package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/threadcrawler/internal/app"
	"github.com/JakeFAU/threadcrawler/internal/config"
	"github.com/JakeFAU/threadcrawler/internal/worker"
)

// crawlApp is what the crawl command needs from the application. Tests swap
// in a fake through newApp.
type crawlApp interface {
	RunID() string
	Progress() worker.Summary
	Run(ctx context.Context) worker.Summary
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, runID string, logger *zap.Logger) (crawlApp, error) {
	return app.New(ctx, cfg, runID, logger, app.DefaultFactories())
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threadcrawler",
		Short: "A rate-limited crawler for paginated forum threads.",
		Long: `threadcrawler walks a range of forum listing pages, collects the thread
ids they link to, fetches every thread and writes one JSON record per thread.
All requests share a single rate limit and failed fetches are retried.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the crawl.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
