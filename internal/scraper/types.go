package scraper

import "time"

// ErrorKind classifies why a single item failed.
type ErrorKind string

// Item failure kinds carried in Result.Err.
const (
	KindTimeout                ErrorKind = "timeout"
	KindNavigationFailed       ErrorKind = "navigation_failed"
	KindContentRetrievalFailed ErrorKind = "content_retrieval_failed"
)

// Result is the outcome of processing one work item. Err is nil on success,
// in which case Content holds the page HTML.
type Result struct {
	RunID   string
	URL     string
	PageID  int
	Content string
	Err     *ItemError
	// StatusCode and FinalURL describe the main document response when the
	// page driver reports them. They are zero otherwise.
	StatusCode int
	FinalURL   string
	FetchedAt  time.Time
	Duration   time.Duration
}

// OK reports whether the item completed without error.
func (r Result) OK() bool {
	return r.Err == nil
}

// ErrorText returns the stringified item error, or "" on success.
func (r Result) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Summary describes a finished pool run.
type Summary struct {
	RunID       string        `json:"run_id"`
	Delivered   int           `json:"delivered"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Remaining   int           `json:"remaining"`
	WorkersLost int           `json:"workers_lost"`
	Duration    time.Duration `json:"duration_ns"`
}
