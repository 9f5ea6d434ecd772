package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-scraper/internal/metrics"
	"github.com/JakeFAU/bulk-scraper/internal/queue/memory"
	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

func TestWorker_Run_DrainsQueue(t *testing.T) {
	t.Parallel()

	queue := memory.New("https://a.test", "https://b.test", "https://c.test")
	page := &fakePage{}
	sink := &recordingSink{}

	w := New(page, queue, sink, nil, Config{PageID: 3, RunID: "run-1", ItemTimeout: time.Second}, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))

	results := sink.all()
	require.Len(t, results, 3)
	for i, url := range []string{"https://a.test", "https://b.test", "https://c.test"} {
		assert.Equal(t, url, results[i].URL)
		assert.Equal(t, "run-1", results[i].RunID)
		assert.Equal(t, 3, results[i].PageID)
		assert.True(t, results[i].OK())
		assert.Equal(t, "<html>"+url+"</html>", results[i].Content)
	}
	assert.Equal(t, Stats{Processed: 3, Delivered: 3, Succeeded: 3}, w.Stats())

	n, err := queue.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorker_Run_EmptyQueueExitsImmediately(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	sink := &recordingSink{}
	w := New(page, memory.New(), sink, nil, Config{ItemTimeout: time.Second}, nil)

	require.NoError(t, w.Run(context.Background()))
	assert.Empty(t, sink.all())
	assert.Zero(t, page.navigations())
}

func TestWorker_Run_ItemFailuresAreDelivered(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		navErr: map[string]error{
			"https://nav.test": errors.New("net::ERR_NAME_NOT_RESOLVED"),
		},
		contentErr: map[string]error{
			"https://content.test": errors.New("document detached"),
		},
	}
	queue := memory.New("https://nav.test", "https://content.test", "https://ok.test")
	sink := &recordingSink{}

	w := New(page, queue, sink, nil, Config{ItemTimeout: time.Second}, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))

	results := sink.all()
	require.Len(t, results, 3)

	require.NotNil(t, results[0].Err)
	assert.Equal(t, scraper.KindNavigationFailed, results[0].Err.Kind)
	assert.Contains(t, results[0].ErrorText(), "ERR_NAME_NOT_RESOLVED")
	assert.Empty(t, results[0].Content)

	require.NotNil(t, results[1].Err)
	assert.Equal(t, scraper.KindContentRetrievalFailed, results[1].Err.Kind)

	assert.True(t, results[2].OK())
	assert.Equal(t, Stats{Processed: 3, Delivered: 3, Succeeded: 1, Failed: 2}, w.Stats())
}

func TestWorker_Run_TimeoutIsolatesItem(t *testing.T) {
	t.Parallel()

	page := &fakePage{hang: map[string]bool{"https://slow.test": true}}
	queue := memory.New("https://slow.test", "https://fast.test")
	sink := &recordingSink{}

	w := New(page, queue, sink, nil, Config{ItemTimeout: 50 * time.Millisecond}, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))

	results := sink.all()
	require.Len(t, results, 2)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, scraper.KindTimeout, results[0].Err.Kind)
	assert.True(t, results[1].OK())
}

func TestWorker_Run_DriverErrorAfterDeadlineIsTimeout(t *testing.T) {
	t.Parallel()

	// The page ignores the context error and returns its own value once the
	// deadline passes.
	page := &fakePage{hang: map[string]bool{"https://slow.test": true}, hangErr: errors.New("target closed the socket")}
	sink := &recordingSink{}

	w := New(page, memory.New("https://slow.test"), sink, nil, Config{ItemTimeout: 20 * time.Millisecond}, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))

	results := sink.all()
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, scraper.KindTimeout, results[0].Err.Kind)
}

func TestWorker_Run_RecoversPagePanic(t *testing.T) {
	t.Parallel()

	page := &fakePage{panicOn: map[string]bool{"https://boom.test": true}}
	sink := &recordingSink{}

	w := New(page, memory.New("https://boom.test", "https://ok.test"), sink, nil, Config{ItemTimeout: time.Second}, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))

	results := sink.all()
	require.Len(t, results, 2)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, scraper.KindNavigationFailed, results[0].Err.Kind)
	assert.Contains(t, results[0].ErrorText(), "page panic")
	assert.True(t, results[1].OK())
}

func navigationsInFlight(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "scraper_navigations_in_flight" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("scraper_navigations_in_flight not registered")
	return 0
}

// Not parallel: the gauge is process-wide.
func TestWorker_Run_PanicReleasesNavigationGauge(t *testing.T) {
	metrics.Init()
	before := navigationsInFlight(t)

	page := &fakePage{panicOn: map[string]bool{"https://a.test": true, "https://b.test": true}}
	w := New(page, memory.New("https://a.test", "https://b.test"), &recordingSink{}, nil, Config{ItemTimeout: time.Second}, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, 2, w.Stats().Failed)
	assert.Equal(t, before, navigationsInFlight(t))
}

func TestWorker_Run_SinkErrorStopsWorker(t *testing.T) {
	t.Parallel()

	sinkErr := errors.New("disk full")
	calls := 0
	sink := scraper.SinkFunc(func(context.Context, scraper.Result) error {
		calls++
		return sinkErr
	})
	queue := memory.New("https://a.test", "https://b.test")

	w := New(&fakePage{}, queue, sink, nil, Config{ItemTimeout: time.Second}, zap.NewNop())
	err := w.Run(context.Background())
	require.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 1, calls)

	n, lenErr := queue.Len(context.Background())
	require.NoError(t, lenErr)
	assert.Equal(t, 1, n, "the second item stays queued for other workers")
}

func TestWorker_Run_PageClosedDeliversThenStops(t *testing.T) {
	t.Parallel()

	page := &fakePage{
		navErr: map[string]error{
			"https://crash.test": fmt.Errorf("navigate: %w", scraper.ErrPageClosed),
		},
	}
	queue := memory.New("https://crash.test", "https://after.test")
	sink := &recordingSink{}

	w := New(page, queue, sink, nil, Config{ItemTimeout: time.Second}, zap.NewNop())
	err := w.Run(context.Background())
	require.ErrorIs(t, err, scraper.ErrPageClosed)

	results := sink.all()
	require.Len(t, results, 1)
	assert.Equal(t, "https://crash.test", results[0].URL)
	assert.Equal(t, scraper.KindNavigationFailed, results[0].Err.Kind)
}

func TestWorker_Run_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := &fakePage{}
	w := New(page, memory.New("https://a.test"), &recordingSink{}, nil, Config{ItemTimeout: time.Second}, zap.NewNop())
	require.ErrorIs(t, w.Run(ctx), context.Canceled)
	assert.Zero(t, page.navigations())
}

func TestWorker_Run_DequeueError(t *testing.T) {
	t.Parallel()

	queueErr := errors.New("connection refused")
	w := New(&fakePage{}, errQueue{err: queueErr}, &recordingSink{}, nil, Config{ItemTimeout: time.Second}, zap.NewNop())
	require.ErrorIs(t, w.Run(context.Background()), queueErr)
}

func TestWorker_Run_UsesClock(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(1_700_000_000, 0), step: 250 * time.Millisecond}
	sink := &recordingSink{}

	w := New(&fakePage{}, memory.New("https://a.test"), sink, clock, Config{ItemTimeout: time.Second}, zap.NewNop())
	require.NoError(t, w.Run(context.Background()))

	results := sink.all()
	require.Len(t, results, 1)
	assert.Equal(t, time.Unix(1_700_000_000, 0), results[0].FetchedAt)
	assert.Equal(t, 250*time.Millisecond, results[0].Duration)
}

type fakePage struct {
	mu         sync.Mutex
	navErr     map[string]error
	contentErr map[string]error
	hang       map[string]bool
	hangErr    error
	panicOn    map[string]bool
	current    string
	navCount   int
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navCount++
	p.current = url
	err := p.navErr[url]
	hang := p.hang[url]
	boom := p.panicOn[url]
	hangErr := p.hangErr
	p.mu.Unlock()

	if boom {
		panic("renderer crashed")
	}
	if hang {
		<-ctx.Done()
		if hangErr != nil {
			return hangErr
		}
		return ctx.Err()
	}
	return err
}

func (p *fakePage) Content(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.contentErr[p.current]; err != nil {
		return "", err
	}
	return "<html>" + p.current + "</html>", nil
}

func (p *fakePage) Close(context.Context) error { return nil }

func (p *fakePage) navigations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navCount
}

type recordingSink struct {
	mu      sync.Mutex
	results []scraper.Result
}

func (s *recordingSink) Deliver(_ context.Context, res scraper.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *recordingSink) all() []scraper.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scraper.Result(nil), s.results...)
}

type errQueue struct{ err error }

func (q errQueue) Enqueue(context.Context, string) error { return q.err }

func (q errQueue) TryDequeue(context.Context) (string, bool, error) { return "", false, q.err }

func (q errQueue) Len(context.Context) (int, error) { return 0, q.err }

type stepClock struct {
	now  time.Time
	step time.Duration
	n    int
}

func (c *stepClock) Now() time.Time {
	t := c.now.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}
