// Package collysession implements the page contract over plain HTTP with
// gocolly. It executes no JavaScript and is meant for static sites and for
// running the pool without a browser service.
package collysession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Headers   http.Header
	// Transport overrides the pooled HTTP transport.
	Transport http.RoundTripper
}

// Connector implements scraper.Connector. Each Connect builds a fresh base
// collector whose transport is shared by the session's pages.
type Connector struct {
	cfg    Config
	logger *zap.Logger
}

// NewConnector returns a Connector.
func NewConnector(cfg Config, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{cfg: cfg, logger: logger}
}

// Connect implements scraper.Connector.
func (c *Connector) Connect(ctx context.Context) (scraper.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	transport := c.cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	base := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(0),
	)
	if c.cfg.UserAgent != "" {
		base.UserAgent = c.cfg.UserAgent
	}
	base.WithTransport(transport)
	c.logger.Info("http session ready")
	return &Session{cfg: c.cfg, base: base, transport: transport, logger: c.logger}, nil
}

// Session hands out pages that clone one base collector.
type Session struct {
	cfg       Config
	base      *colly.Collector
	transport http.RoundTripper
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewPage implements scraper.Session.
func (s *Session) NewPage(context.Context) (scraper.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("open page: %w", scraper.ErrPageClosed)
	}
	collector := s.base.Clone()
	p := &Page{collector: collector, headers: s.cfg.Headers}
	p.configureHooks(collector)
	return p, nil
}

// Close implements scraper.Session and drops idle connections.
func (s *Session) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if t, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
	s.logger.Info("http session closed")
	return nil
}

// Page holds the last document fetched by its collector.
type Page struct {
	collector *colly.Collector
	headers   http.Header

	mu       sync.Mutex
	closed   bool
	loaded   bool
	body     []byte
	status   int
	finalURL string
	fetchErr error
}

func (p *Page) configureHooks(hooks collectorHooks) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range p.headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.loaded = true
		p.status = r.StatusCode
		p.finalURL = r.Request.URL.String()
		p.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.fetchErr = err
	})
}

// Navigate fetches url. The request is bound to ctx, so the item deadline
// aborts it.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("navigate: %w", scraper.ErrPageClosed)
	}
	p.loaded, p.body, p.status, p.finalURL, p.fetchErr = false, nil, 0, "", nil
	p.mu.Unlock()

	p.collector.Context = ctx
	err := p.collector.Visit(url)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("colly fetch canceled: %w", ctxErr)
	}
	if err != nil {
		return fmt.Errorf("colly visit failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchErr != nil {
		return fmt.Errorf("colly response failed: %w", p.fetchErr)
	}
	if !p.loaded {
		return errors.New("colly visit produced no response")
	}
	return nil
}

// Content returns the body of the last successful navigation.
func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", fmt.Errorf("content: %w", scraper.ErrPageClosed)
	}
	if !p.loaded {
		return "", errors.New("content: no document loaded")
	}
	return string(p.body), nil
}

// LastResponse implements scraper.ResponseReporter.
func (p *Page) LastResponse() (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.finalURL
}

// Close implements scraper.Page.
func (p *Page) Close(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.body = nil
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ scraper.Connector = (*Connector)(nil)

var _ scraper.ResponseReporter = (*Page)(nil)
