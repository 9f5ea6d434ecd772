package scraper

import (
	"context"
	"errors"
	"fmt"
)

// ErrPageClosed is wrapped by Page implementations once the page can no
// longer be used (target crashed, connection dropped, page closed).
var ErrPageClosed = errors.New("page closed")

// Stage names the startup step a SessionError came from.
type Stage string

// Startup stages that can fail a run.
const (
	StageConnect   Stage = "connect session"
	StageProvision Stage = "provision page"
)

// SessionError is fatal for a whole run: the session could not be acquired
// or the configured number of pages could not be provisioned.
type SessionError struct {
	Stage Stage
	// Page is the zero-based index of the page that failed to provision.
	// It is -1 for StageConnect.
	Page int
	Err  error
}

func (e *SessionError) Error() string {
	if e.Stage == StageProvision {
		return fmt.Sprintf("session error: %s %d: %v", e.Stage, e.Page, e.Err)
	}
	return fmt.Sprintf("session error: %s: %v", e.Stage, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ItemError is a per-item failure. It never crosses the pool boundary; it is
// delivered to the sink inside a Result.
type ItemError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// NewItemError classifies err. Deadline errors become KindTimeout regardless
// of the step that was running; otherwise fallback is used.
func NewItemError(url string, fallback ErrorKind, err error) *ItemError {
	kind := fallback
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &ItemError{Kind: kind, URL: url, Err: err}
}

// IsPageClosed reports whether err means the owning page is unusable.
func IsPageClosed(err error) bool {
	return errors.Is(err, ErrPageClosed)
}
