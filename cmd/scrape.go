package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-scraper/internal/api"
	"github.com/JakeFAU/bulk-scraper/internal/config"
	"github.com/JakeFAU/bulk-scraper/internal/metrics"
	"github.com/JakeFAU/bulk-scraper/internal/pool"
	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

type scrapeFlags struct {
	urlsFile  string
	pageLimit int
	driver    string
	sinks     []string
	outputDir string
}

func newScrapeCmd() *cobra.Command {
	var flags scrapeFlags
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch every queued URL once and deliver the results",
		Long: `Opens one browser session, provisions pool.page_limit pages and lets each
page pull URLs from the queue until it is empty. Item failures are delivered
as results and never stop the run; a session or provisioning failure aborts
it before any URL is fetched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := applyFlags(cmd, a.cfg, flags)
			if err != nil {
				return err
			}
			return runScrape(cmd, cfg, a.logger)
		},
	}
	cmd.Flags().StringVar(&flags.urlsFile, "urls", "", "file with one URL per line (overrides input.urls_file)")
	cmd.Flags().IntVar(&flags.pageLimit, "page-limit", 0, "number of pages to open in the session (overrides pool.page_limit)")
	cmd.Flags().StringVar(&flags.driver, "driver", "", "page driver: chromedp or http (overrides session.driver)")
	cmd.Flags().StringSliceVar(&flags.sinks, "sinks", nil, "result sinks (overrides output.sinks)")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "directory for the file sink (overrides output.dir)")
	return cmd
}

// applyFlags overlays explicitly set flags on cfg and validates the result.
func applyFlags(cmd *cobra.Command, cfg config.Config, flags scrapeFlags) (config.Config, error) {
	fs := cmd.Flags()
	if fs.Changed("urls") {
		cfg.Input.URLsFile = flags.urlsFile
	}
	if fs.Changed("page-limit") {
		cfg.Pool.PageLimit = flags.pageLimit
	}
	if fs.Changed("driver") {
		cfg.Session.Driver = flags.driver
	}
	if fs.Changed("sinks") {
		cfg.Output.Sinks = flags.sinks
	}
	if fs.Changed("output-dir") {
		cfg.Output.Dir = flags.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func runScrape(cmd *cobra.Command, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	connector, err := buildConnector(cfg.Session, logger)
	if err != nil {
		return err
	}
	queue, closeQueue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()

	sinkSet, err := buildSinks(ctx, cfg.Output, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinkSet.Close(); err != nil {
			logger.Warn("sink close failed", zap.Error(err))
		}
	}()

	tracker := pool.NewTracker(cfg.Pool.PageLimit)
	p, err := pool.New(connector, pool.Config{
		PageLimit:             cfg.Pool.PageLimit,
		ItemTimeout:           cfg.Pool.ItemTimeout,
		SerializeSink:         cfg.Pool.SerializeSink,
		ProvisionConcurrently: cfg.Pool.ProvisionConcurrently,
	}, logger, pool.WithObserver(tracker))
	if err != nil {
		return fmt.Errorf("init pool: %w", err)
	}

	stopServer := startStatusServer(ctx, cfg.Metrics.Addr, tracker, logger)
	defer stopServer()

	start := time.Now()
	summary, err := p.Run(ctx, queue, sinkSet.multi)
	elapsed := time.Since(start)
	fmt.Fprintf(cmd.OutOrStdout(), "scraped %d urls (%d ok, %d failed, %d remaining) in %s\n",
		summary.Delivered, summary.Succeeded, summary.Failed, summary.Remaining, elapsed.Round(time.Millisecond))

	var sessErr *scraper.SessionError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		logger.Warn("scrape interrupted", zap.Int("remaining", summary.Remaining))
		return fmt.Errorf("scrape interrupted with %d urls remaining: %w", summary.Remaining, err)
	case errors.As(err, &sessErr):
		logger.Error("session startup failed",
			zap.String("stage", string(sessErr.Stage)),
			zap.Int("page", sessErr.Page),
			zap.Error(sessErr.Err),
		)
		return fmt.Errorf("run scrape: %w", err)
	default:
		return fmt.Errorf("run scrape: %w", err)
	}
}

// startStatusServer serves the status API on addr until the returned stop
// func is called. An empty addr disables it.
func startStatusServer(ctx context.Context, addr string, status api.RunStatus, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := api.NewServer(status, logger).ListenAndServe(srvCtx, addr); err != nil {
			logger.Error("status server error", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
