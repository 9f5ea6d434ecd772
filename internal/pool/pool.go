// Package pool runs a fixed set of workers, one per page of a shared remote
// browser session, until the work queue is drained.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bulk-scraper/internal/clock/system"
	"github.com/JakeFAU/bulk-scraper/internal/dispatcher"
	"github.com/JakeFAU/bulk-scraper/internal/id/uuid"
	"github.com/JakeFAU/bulk-scraper/internal/metrics"
	"github.com/JakeFAU/bulk-scraper/internal/scraper"
	"github.com/JakeFAU/bulk-scraper/internal/worker"
)

const closeTimeout = 10 * time.Second

// Config controls pool sizing and per-item behavior.
type Config struct {
	// PageLimit is the number of pages, and therefore workers, per run.
	PageLimit int
	// ItemTimeout bounds navigation plus content retrieval for one item.
	ItemTimeout time.Duration
	// SerializeSink routes every result through one dispatcher goroutine.
	// When false the sink is called from all workers concurrently.
	SerializeSink bool
	// ProvisionConcurrently opens pages in parallel instead of one by one.
	ProvisionConcurrently bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PageLimit <= 0 {
		return fmt.Errorf("page limit must be positive, got %d", c.PageLimit)
	}
	if c.ItemTimeout <= 0 {
		return fmt.Errorf("item timeout must be positive, got %s", c.ItemTimeout)
	}
	return nil
}

// Option customizes a Pool.
type Option func(*Pool)

// WithObserver registers an observer for state transitions.
func WithObserver(o Observer) Option {
	return func(p *Pool) {
		p.observers = append(p.observers, o)
	}
}

// WithClock overrides the clock used for timestamps and durations.
func WithClock(c scraper.Clock) Option {
	return func(p *Pool) {
		p.clock = c
	}
}

// WithIDGenerator overrides the run ID generator.
func WithIDGenerator(g scraper.IDGenerator) Option {
	return func(p *Pool) {
		p.ids = g
	}
}

// Pool sequences session acquisition, page provisioning, the worker fan-out
// and cleanup. A Pool holds no per-run state and may be reused.
type Pool struct {
	connector scraper.Connector
	cfg       Config
	logger    *zap.Logger
	clock     scraper.Clock
	ids       scraper.IDGenerator
	observers []Observer
}

// New creates a Pool.
func New(connector scraper.Connector, cfg Config, logger *zap.Logger, opts ...Option) (*Pool, error) {
	if connector == nil {
		return nil, errors.New("connector is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		connector: connector,
		cfg:       cfg,
		logger:    logger,
		clock:     system.New(),
		ids:       uuid.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// run holds the state of one Run call.
type run struct {
	pool   *Pool
	id     string
	logger *zap.Logger

	mu    sync.Mutex
	state State
}

func (r *run) transition(to State, summary *scraper.Summary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == to {
		return
	}
	ev := Event{RunID: r.id, From: r.state, To: to, At: r.pool.clock.Now(), Summary: summary, Err: err}
	r.state = to
	r.logger.Debug("pool state changed", zap.Stringer("from", ev.From), zap.Stringer("to", ev.To))
	for _, o := range r.pool.observers {
		o.StateChanged(ev)
	}
}

// Run connects a session, provisions PageLimit pages, and runs one worker per
// page until queue is empty. Results go to sink. Pages and session are always
// closed before Run returns, pages first.
//
// The returned error is a *scraper.SessionError when the session or any page
// could not be set up (no worker runs in that case), or ctx's error when the
// run was canceled. Per-item and per-worker failures are never returned; they
// are delivered to sink or reflected in the Summary.
func (p *Pool) Run(ctx context.Context, queue scraper.Queue, sink scraper.Sink) (summary scraper.Summary, err error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return summary, fmt.Errorf("run id: %w", err)
	}
	r := &run{pool: p, id: runID, logger: p.logger.With(zap.String("run_id", runID)), state: NotStarted}
	summary.RunID = runID
	start := p.clock.Now()

	defer func() {
		summary.Duration = p.clock.Now().Sub(start)
		if n, lenErr := queue.Len(context.WithoutCancel(ctx)); lenErr == nil {
			summary.Remaining = n
		} else {
			r.logger.Warn("queue length unavailable", zap.Error(lenErr))
		}
		metrics.ObserveRun(runResult(err))
		r.transition(Stopped, &summary, err)
		r.logger.Info("pool run finished",
			zap.Int("delivered", summary.Delivered),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("remaining", summary.Remaining),
			zap.Int("workers_lost", summary.WorkersLost),
			zap.Duration("duration", summary.Duration),
			zap.Error(err),
		)
	}()

	r.transition(SessionAcquiring, nil, nil)
	session, err := p.connector.Connect(ctx)
	if err != nil {
		metrics.ObserveSessionError(string(scraper.StageConnect))
		return summary, &scraper.SessionError{Stage: scraper.StageConnect, Page: -1, Err: err}
	}
	defer func() {
		closeCtx, cancel := cleanupContext(ctx)
		defer cancel()
		if closeErr := session.Close(closeCtx); closeErr != nil {
			r.logger.Warn("session close failed", zap.Error(closeErr))
		}
	}()

	r.transition(PagesProvisioning, nil, nil)
	pages, err := p.provision(ctx, session)
	defer func() {
		closePages(ctx, pages, r.logger)
	}()
	if err != nil {
		metrics.ObserveSessionError(string(scraper.StageProvision))
		return summary, err
	}

	r.transition(Running, nil, nil)
	p.drain(ctx, r, pages, queue, sink, &summary)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return summary, ctxErr
	}
	return summary, nil
}

// provision opens PageLimit pages. On failure every page opened so far is
// returned for cleanup alongside a *scraper.SessionError.
func (p *Pool) provision(ctx context.Context, session scraper.Session) ([]scraper.Page, error) {
	if p.cfg.ProvisionConcurrently {
		return p.provisionConcurrently(ctx, session)
	}
	pages := make([]scraper.Page, 0, p.cfg.PageLimit)
	for i := 0; i < p.cfg.PageLimit; i++ {
		page, err := session.NewPage(ctx)
		if err != nil {
			return pages, &scraper.SessionError{Stage: scraper.StageProvision, Page: i, Err: err}
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func (p *Pool) provisionConcurrently(ctx context.Context, session scraper.Session) ([]scraper.Page, error) {
	slots := make([]scraper.Page, p.cfg.PageLimit)
	g, gctx := errgroup.WithContext(ctx)
	for i := range slots {
		g.Go(func() error {
			page, err := session.NewPage(gctx)
			if err != nil {
				return &scraper.SessionError{Stage: scraper.StageProvision, Page: i, Err: err}
			}
			slots[i] = page
			return nil
		})
	}
	err := g.Wait()

	pages := make([]scraper.Page, 0, len(slots))
	for _, page := range slots {
		if page != nil {
			pages = append(pages, page)
		}
	}
	if err != nil {
		return pages, err
	}
	return pages, nil
}

// drain starts one worker per page and waits for all of them.
func (p *Pool) drain(
	ctx context.Context,
	r *run,
	pages []scraper.Page,
	queue scraper.Queue,
	sink scraper.Sink,
	summary *scraper.Summary,
) {
	target := sink
	if p.cfg.SerializeSink {
		d := dispatcher.New(sink, r.logger.Named("dispatcher"))
		defer d.Close()
		target = d
	}

	workers := make([]*worker.Worker, len(pages))
	errs := make([]error, len(pages))
	var (
		wg        sync.WaitGroup
		drainOnce sync.Once
	)
	for i, page := range pages {
		workers[i] = worker.New(page, queue, target, p.clock, worker.Config{
			PageID:      i,
			RunID:       r.id,
			ItemTimeout: p.cfg.ItemTimeout,
		}, r.logger.Named("worker"))

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = workers[i].Run(ctx)
			drainOnce.Do(func() {
				r.transition(Draining, nil, nil)
			})
		}(i)
	}
	wg.Wait()

	for i, w := range workers {
		stats := w.Stats()
		summary.Delivered += stats.Delivered
		summary.Succeeded += stats.Succeeded
		summary.Failed += stats.Failed
		if errs[i] == nil || ctx.Err() != nil && errors.Is(errs[i], ctx.Err()) {
			continue
		}
		summary.WorkersLost++
		r.logger.Error("worker stopped early", zap.Int("page_id", i), zap.Error(errs[i]))
	}
}

func closePages(ctx context.Context, pages []scraper.Page, logger *zap.Logger) {
	closeCtx, cancel := cleanupContext(ctx)
	defer cancel()
	for i, page := range pages {
		if err := page.Close(closeCtx); err != nil {
			logger.Warn("page close failed", zap.Int("page_id", i), zap.Error(err))
		}
	}
}

func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
}

func runResult(err error) string {
	var sessionErr *scraper.SessionError
	switch {
	case err == nil:
		return "completed"
	case errors.As(err, &sessionErr):
		return "session_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
