// Package headless drives pages of a real Chrome browser over the DevTools
// protocol with chromedp. It connects to a remote browser service such as
// browserless, or launches a local Chrome for development.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

// Mode selects how the browser is reached.
type Mode string

// Connection modes.
const (
	// ModeFresh dials the endpoint as given. Remote services start a new
	// browser for every connection.
	ModeFresh Mode = "fresh"
	// ModeAttach discovers the debugger URL of an already running browser
	// through its /json/version endpoint. Closing the session only
	// disconnects.
	ModeAttach Mode = "attach"
	// ModeLocal launches a local Chrome binary.
	ModeLocal Mode = "local"
)

// Config controls the browser connection and page setup.
type Config struct {
	EndpointURL string
	AuthToken   string
	Mode        Mode
	Headless    bool
	UserAgent   string
	// Headers are sent with every request made by every page.
	Headers http.Header
}

// Connector implements scraper.Connector for chromedp.
type Connector struct {
	cfg        Config
	endpoint   string
	logger     *zap.Logger
	httpClient *http.Client
}

// NewConnector validates cfg and returns a Connector.
func NewConnector(cfg Config, logger *zap.Logger) (*Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFresh
	}
	c := &Connector{cfg: cfg, logger: logger, httpClient: http.DefaultClient}
	switch cfg.Mode {
	case ModeFresh, ModeAttach:
		endpoint, err := BuildEndpointURL(cfg.EndpointURL, cfg.AuthToken, cfg.Headless)
		if err != nil {
			return nil, err
		}
		c.endpoint = endpoint
	case ModeLocal:
	default:
		return nil, fmt.Errorf("unknown connect mode %q", cfg.Mode)
	}
	return c, nil
}

func (c *Connector) allocator(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.cfg.Mode == ModeLocal {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", c.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)
		if c.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
		}
		allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
		return allocCtx, cancel, nil
	}
	wsURL := c.endpoint
	if c.cfg.Mode == ModeAttach {
		var err error
		wsURL, err = discoverDebuggerURL(ctx, c.httpClient, c.endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("discover debugger url: %w", err)
		}
	}
	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), wsURL, chromedp.NoModifyURL)
	return allocCtx, cancel, nil
}

// Connect opens the browser connection. The returned session outlives ctx;
// ctx only bounds the handshake.
func (c *Connector) Connect(ctx context.Context) (scraper.Session, error) {
	logger := c.logger.With(zap.String("mode", string(c.cfg.Mode)))
	if c.endpoint != "" {
		logger = logger.With(zap.String("endpoint", redact(c.endpoint)))
	}

	allocCtx, allocCancel, err := c.allocator(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	sugar := logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	stop := forwardCancel(ctx, browserCancel)
	err = chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connect browser: %w", ctx.Err())
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	logger.Info("browser session connected")

	return &Session{
		cfg:           c.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        logger,
	}, nil
}

// Session is one browser connection shared by many pages.
type Session struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewPage opens a new tab and applies the page setup. The tab is created and
// configured before NewPage returns, so later per-item deadlines never close
// it.
func (s *Session) NewPage(ctx context.Context) (scraper.Page, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("open page: %w", scraper.ErrPageClosed)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	stop := forwardCancel(ctx, tabCancel)
	err := chromedp.Run(tabCtx, s.setupAction())
	stop()
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &Page{tabCtx: tabCtx, tabCancel: tabCancel, meta: meta}, nil
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(s.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(s.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// Close ends the session. In attach mode the browser keeps running.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	defer s.allocCancel()

	if s.cfg.Mode == ModeAttach {
		s.browserCancel()
		s.logger.Info("browser session detached")
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Cancel(s.browserCtx)
	}()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("close browser: %w", err)
		}
		s.logger.Info("browser session closed")
		return nil
	case <-ctx.Done():
		s.browserCancel()
		return fmt.Errorf("close browser: %w", ctx.Err())
	}
}

// Page is one browser tab.
type Page struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	meta      *responseMeta
	closeOnce sync.Once
	closeErr  error
}

// Navigate loads url and waits for the document body.
func (p *Page) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := p.runContext(ctx)
	defer cancel()

	p.meta.reset()
	var finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		return p.classify("navigate", runCtx, err)
	}
	p.meta.fallbackURL(finalURL)
	return nil
}

// Content returns the serialized DOM of the current document.
func (p *Page) Content(ctx context.Context) (string, error) {
	runCtx, cancel := p.runContext(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", p.classify("content", runCtx, err)
	}
	return html, nil
}

// LastResponse implements scraper.ResponseReporter.
func (p *Page) LastResponse() (int, string) {
	return p.meta.snapshot("")
}

// Close closes the tab.
func (p *Page) Close(context.Context) error {
	p.closeOnce.Do(func() {
		if p.tabCtx.Err() != nil {
			return
		}
		if err := chromedp.Cancel(p.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.closeErr = fmt.Errorf("close page: %w", err)
		}
	})
	return p.closeErr
}

// runContext derives a context from the tab that carries ctx's deadline and
// cancellation without tying the tab's lifetime to ctx.
func (p *Page) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.tabCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(p.tabCtx)
	}
	// Deadlines fire on runCtx itself so it reports DeadlineExceeded.
	stop := context.AfterFunc(ctx, func() {
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cancel()
		}
	})
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *Page) classify(op string, runCtx context.Context, err error) error {
	if p.tabCtx.Err() != nil {
		return fmt.Errorf("%s: %w: %w", op, scraper.ErrPageClosed, err)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// forwardCancel calls cancel when parent is done, until the returned stop
// function is called.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

var _ scraper.Connector = (*Connector)(nil)

var _ scraper.ResponseReporter = (*Page)(nil)
