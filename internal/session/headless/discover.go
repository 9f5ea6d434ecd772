package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const discoverTimeout = 20 * time.Second

type versionInfo struct {
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// discoverDebuggerURL asks a running browser for its websocket debugger URL.
// The lookup keeps the endpoint's host, port and TLS setting: ws and http use
// plain HTTP, wss and https use HTTPS. A token query parameter on the endpoint
// is carried over to the debugger URL when the browser omits it. Endpoints
// that already name a /devtools/browser/ target are returned unchanged.
func discoverDebuggerURL(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	if strings.Contains(u.Path, "/devtools/browser/") {
		return endpoint, nil
	}

	lookup := *u
	switch u.Scheme {
	case "ws", "http":
		lookup.Scheme = "http"
	case "wss", "https":
		lookup.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	lookup.Path = strings.TrimSuffix(u.Path, "/") + "/json/version"

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookup.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build version request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", redact(lookup.String()), err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", redact(lookup.String()), resp.StatusCode)
	}
	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode version info: %w", err)
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("version info has no webSocketDebuggerUrl")
	}

	debugger, err := url.Parse(info.WebSocketDebuggerURL)
	if err != nil {
		return "", fmt.Errorf("parse debugger url: %w", err)
	}
	if token := u.Query().Get("token"); token != "" {
		q := debugger.Query()
		if !q.Has("token") {
			q.Set("token", token)
			debugger.RawQuery = q.Encode()
		}
	}
	return debugger.String(), nil
}
