package headless

import (
	"sync"

	"github.com/chromedp/cdproto/network"
)

// responseMeta remembers the main document response of the latest
// navigation on one page.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Iframes also produce document responses. The first one after reset
	// belongs to the top-level navigation.
	if m.status != 0 {
		return
	}
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
}

// fallbackURL records the location reported by the page when no document
// response was observed.
func (m *responseMeta) fallbackURL(url string) {
	if url == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.url == "" {
		m.url = url
	}
}

func (m *responseMeta) snapshot(fallbackURL string) (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	url := m.url
	if url == "" {
		url = fallbackURL
	}
	return m.status, url
}
