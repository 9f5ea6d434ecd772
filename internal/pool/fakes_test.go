package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

type fakeConnector struct {
	session *fakeSession
	err     error
}

func (c *fakeConnector) Connect(context.Context) (scraper.Session, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.session.record("session-open")
	return c.session, nil
}

// fakeSession hands out fakePages and records lifecycle events in order.
type fakeSession struct {
	mu sync.Mutex

	failAt   int
	lostPage int
	delay    time.Duration
	hang     map[string]bool
	navErr   map[string]error

	events      []string
	pages       []*fakePage
	inFlight    int
	maxInFlight int
	navigated   []string
	closed      bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{failAt: -1, lostPage: -1}
}

func (s *fakeSession) record(ev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSession) NewPage(context.Context) (scraper.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.pages)
	if idx == s.failAt {
		s.pages = append(s.pages, nil)
		return nil, errors.New("target refused")
	}
	page := &fakePage{session: s, id: idx, lost: idx == s.lostPage}
	s.pages = append(s.pages, page)
	s.events = append(s.events, fmt.Sprintf("page-open-%d", idx))
	return page, nil
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.events = append(s.events, "session-close")
	return nil
}

func (s *fakeSession) snapshotEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *fakeSession) openedPages() []*fakePage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakePage
	for _, p := range s.pages {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeSession) navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigated...)
}

func (s *fakeSession) peakInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

type fakePage struct {
	session *fakeSession
	id      int
	lost    bool

	mu      sync.Mutex
	current string
	busy    bool
	overlap bool
	closed  bool
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	if p.busy {
		p.overlap = true
	}
	p.busy = true
	p.current = url
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
	}()

	s := p.session
	s.mu.Lock()
	s.navigated = append(s.navigated, url)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	delay, hang, err := s.delay, s.hang[url], s.navErr[url]
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if p.lost {
		return fmt.Errorf("navigate %s: %w", url, scraper.ErrPageClosed)
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *fakePage) Content(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return "<html>" + p.current + "</html>", nil
}

func (p *fakePage) Close(context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.session.record(fmt.Sprintf("page-close-%d", p.id))
	return nil
}

func (p *fakePage) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) sawOverlap() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlap
}

type collectSink struct {
	mu      sync.Mutex
	results []scraper.Result
}

func (s *collectSink) Deliver(_ context.Context, res scraper.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	return nil
}

func (s *collectSink) all() []scraper.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scraper.Result(nil), s.results...)
}

func (s *collectSink) byURL() map[string]scraper.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]scraper.Result, len(s.results))
	for _, r := range s.results {
		out[r.URL] = r
	}
	return out
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() (string, error) { return f.id, nil }
