// Package cmd defines and implements the CLI commands for the threadcrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/threadcrawler/internal/api"
	"github.com/JakeFAU/threadcrawler/internal/config"
	"github.com/JakeFAU/threadcrawler/internal/crawler"
	"github.com/JakeFAU/threadcrawler/internal/id/uuid"
	"github.com/JakeFAU/threadcrawler/internal/logging"
	"github.com/JakeFAU/threadcrawler/internal/metrics"
	"github.com/JakeFAU/threadcrawler/internal/worker"
)

// flagKeys maps CLI flags onto configuration keys.
var flagKeys = map[string]string{
	"outfile":      "output.outfile",
	"start":        "crawl.start",
	"end":          "crawl.end",
	"concurrent":   "crawl.concurrency",
	"qps":          "crawl.qps",
	"headless":     "http.headless",
	"metrics-addr": "metrics.addr",
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	v := config.NewViper()
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls a page range and writes one record per thread",
		Long: `Fetches listing pages start..end, queues every thread id found on them and
fetches each thread. Listing and detail workers share one rate gate; a page
or thread that still fails after its retries is logged and skipped.`,
		Example: "  threadcrawler crawl -o threads.jsonl -s 1 -e 20 -c 8 -q 2",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.StringP("outfile", "o", "", "output file, truncated on start (required)")
	flags.IntP("start", "s", 1, "first listing page")
	flags.IntP("end", "e", crawler.MaxPage, fmt.Sprintf("last listing page, at most %d", crawler.MaxPage))
	flags.IntP("concurrent", "c", 4, "total workers across both pools, at least 2")
	flags.Float64P("qps", "q", 0, "requests per second across all workers, 0 for unlimited")
	flags.Bool("headless", false, "render pages with headless Chrome")
	flags.String("metrics-addr", "", "serve /healthz, /metrics and /progress on this address")
	bindFlags(v, flags)

	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func runCrawl(cmd *cobra.Command, v *viper.Viper) error {
	cfgPath := ""
	if f := cmd.Flag("config"); f != nil {
		cfgPath = f.Value.String()
	}
	cfg, err := config.Load(v, cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseLogger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer baseLogger.Sync() //nolint:errcheck // best-effort flush

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	logger := logging.ForRun(baseLogger, runID)
	metrics.Init()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, runID, logger)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}

	summary, runErr := runWithServer(ctx, a, cfg.Metrics.Addr, logger)
	closeErr := a.Close()
	if closeErr != nil {
		logger.Error("closing sinks failed", zap.Error(closeErr))
	}

	logger.Info("crawl command finished",
		zap.Int64("pages_scanned", summary.PagesScanned),
		zap.Int64("pages_failed", summary.PagesFailed),
		zap.Int64("ids_discovered", summary.IDsDiscovered),
		zap.Int64("records_written", summary.RecordsWritten),
		zap.Int64("threads_failed", summary.ThreadsFailed),
		zap.Int64("partial_writes", summary.PartialWrites),
		zap.String("outfile", cfg.Output.Outfile),
	)
	if ctx.Err() != nil {
		logger.Warn("crawl interrupted; output holds the records written so far")
	}
	return errors.Join(runErr, closeErr)
}

// runWithServer runs the crawl and, when addr is set, the operator endpoint
// next to it. The endpoint stops once the crawl returns.
func runWithServer(ctx context.Context, a crawlApp, addr string, logger *zap.Logger) (worker.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	var summary worker.Summary
	g.Go(func() error {
		defer stopServer()
		summary = a.Run(gctx)
		return nil
	})
	if addr != "" {
		srv := api.NewServer(a.RunID(), a.Progress, logger.Named("api"))
		g.Go(func() error {
			return srv.Serve(serverCtx, addr)
		})
	}
	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("crawl: %w", err)
	}
	return summary, nil
}
