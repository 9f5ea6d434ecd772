package scraper

import (
	"context"
	"time"
)

// Queue is a FIFO of pending URLs that is safe for concurrent use.
type Queue interface {
	// Enqueue appends item to the tail.
	Enqueue(ctx context.Context, item string) error
	// TryDequeue removes and returns the head. ok is false when the queue is
	// empty; it never waits for more work.
	TryDequeue(ctx context.Context) (item string, ok bool, err error)
	// Len returns the number of pending items.
	Len(ctx context.Context) (int, error)
}

// Connector opens a Session against a remote browser endpoint.
type Connector interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is one connection to a browser that can host several pages.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Page is one isolated browsing context. A Page is owned by a single worker
// and is never used concurrently. Navigate and Content honor the deadline
// carried by ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Content(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// ResponseReporter is implemented by pages that observe the main document
// response of the last navigation.
type ResponseReporter interface {
	LastResponse() (status int, finalURL string)
}

// Sink consumes results. Implementations that are not wrapped by the
// serializing dispatcher must be safe for concurrent use.
type Sink interface {
	Deliver(ctx context.Context, res Result) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, res Result) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, res Result) error {
	return f(ctx, res)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
