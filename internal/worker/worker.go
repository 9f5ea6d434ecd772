// Package worker implements the queue-draining loop that runs on one page.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-scraper/internal/clock/system"
	"github.com/JakeFAU/bulk-scraper/internal/metrics"
	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

// Config controls Worker behavior.
type Config struct {
	// PageID identifies the worker's page in logs and results.
	PageID int
	// RunID is stamped on every Result.
	RunID string
	// ItemTimeout bounds navigate plus content retrieval for one item.
	ItemTimeout time.Duration
}

// Stats counts what a worker did during its lifetime.
type Stats struct {
	Processed int
	Delivered int
	Succeeded int
	Failed    int
}

// Worker owns one page and pulls items from a shared queue until the queue is
// empty.
type Worker struct {
	page   scraper.Page
	queue  scraper.Queue
	sink   scraper.Sink
	clock  scraper.Clock
	cfg    Config
	logger *zap.Logger
	stats  Stats
}

// New constructs a Worker.
func New(
	page scraper.Page,
	queue scraper.Queue,
	sink scraper.Sink,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	return &Worker{
		page:   page,
		queue:  queue,
		sink:   sink,
		clock:  clock,
		cfg:    cfg,
		logger: logger.With(zap.Int("page_id", cfg.PageID)),
	}
}

// Stats returns the counters accumulated so far. It must not be called while
// Run is executing.
func (w *Worker) Stats() Stats {
	return w.stats
}

// Run consumes queue items until the queue reports empty, in which case it
// returns nil. It returns early with an error when ctx is done, the queue
// fails, the sink rejects a result, or the page becomes unusable.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		url, ok, err := w.queue.TryDequeue(ctx)
		if err != nil {
			return fmt.Errorf("dequeue: %w", err)
		}
		if !ok {
			w.logger.Debug("queue empty, worker exiting", zap.Int("processed", w.stats.Processed))
			return nil
		}

		res := w.process(ctx, url)
		w.record(res)

		if err := w.sink.Deliver(ctx, res); err != nil {
			w.logger.Error("sink rejected result", zap.String("url", url), zap.Error(err))
			return fmt.Errorf("deliver %s: %w", url, err)
		}
		w.stats.Delivered++
		if res.Err != nil && scraper.IsPageClosed(res.Err) {
			w.logger.Warn("page lost, worker exiting", zap.String("url", url), zap.Error(res.Err))
			return res.Err
		}
	}
}

func (w *Worker) record(res scraper.Result) {
	w.stats.Processed++
	outcome := "success"
	if res.OK() {
		w.stats.Succeeded++
		w.logger.Info("item fetched",
			zap.String("url", res.URL),
			zap.Int("bytes", len(res.Content)),
			zap.Duration("duration", res.Duration),
		)
	} else {
		w.stats.Failed++
		outcome = string(res.Err.Kind)
		w.logger.Warn("item failed",
			zap.String("url", res.URL),
			zap.String("kind", outcome),
			zap.Duration("duration", res.Duration),
			zap.Error(res.Err.Err),
		)
	}
	metrics.ObserveItem(res.URL, outcome, len(res.Content), res.Duration)
}

// process runs one item against the page. It never returns an error: every
// failure, including a panic in the page, ends up in the Result.
func (w *Worker) process(ctx context.Context, url string) (res scraper.Result) {
	start := w.clock.Now()
	res = scraper.Result{
		RunID:     w.cfg.RunID,
		URL:       url,
		PageID:    w.cfg.PageID,
		FetchedAt: start,
	}
	defer func() {
		if r := recover(); r != nil {
			res.Content = ""
			res.Err = scraper.NewItemError(url, scraper.KindNavigationFailed, fmt.Errorf("page panic: %v", r))
		}
		res.Duration = w.clock.Now().Sub(start)
	}()

	itemCtx, cancel := w.itemContext(ctx)
	defer cancel()

	if err := w.navigate(itemCtx, url); err != nil {
		res.Err = scraper.NewItemError(url, scraper.KindNavigationFailed, w.deadlineAware(itemCtx, err))
		return res
	}

	content, err := w.page.Content(itemCtx)
	if err != nil {
		res.Err = scraper.NewItemError(url, scraper.KindContentRetrievalFailed, w.deadlineAware(itemCtx, err))
		return res
	}
	res.Content = content
	if rr, ok := w.page.(scraper.ResponseReporter); ok {
		res.StatusCode, res.FinalURL = rr.LastResponse()
	}
	return res
}

func (w *Worker) navigate(ctx context.Context, url string) error {
	metrics.IncNavigations()
	defer metrics.DecNavigations()
	return w.page.Navigate(ctx, url)
}

func (w *Worker) itemContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.ItemTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.cfg.ItemTimeout)
}

// deadlineAware makes sure a failure caused by the item deadline is reported
// as a timeout even when the driver returns its own error value.
func (w *Worker) deadlineAware(itemCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}
