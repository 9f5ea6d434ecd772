package headless

import (
	"fmt"
	"net/url"
	"strconv"
)

// BuildEndpointURL adds the browserless-style token and headless query
// parameters to raw. Existing query parameters are kept.
func BuildEndpointURL(raw, token string, headless bool) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint url %q has no host", raw)
	}
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	q.Set("headless", strconv.FormatBool(headless))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact hides the token query parameter so endpoints can be logged.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid endpoint>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
