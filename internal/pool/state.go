package pool

import (
	"sync"
	"time"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

// State is a stage in the lifecycle of one Run call.
type State int

// Run lifecycle. Startup failures move straight to Stopped.
const (
	NotStarted State = iota
	SessionAcquiring
	PagesProvisioning
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case SessionAcquiring:
		return "session_acquiring"
	case PagesProvisioning:
		return "pages_provisioning"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event describes one state transition. Summary and Err are only set when
// To is Stopped.
type Event struct {
	RunID   string
	From    State
	To      State
	At      time.Time
	Summary *scraper.Summary
	Err     error
}

// Observer receives every state transition of every run. Calls for a single
// run are serialized but may come from different goroutines.
type Observer interface {
	StateChanged(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

// StateChanged calls f.
func (f ObserverFunc) StateChanged(ev Event) {
	f(ev)
}

// Snapshot is the live view of the most recent run.
type Snapshot struct {
	RunID     string           `json:"run_id,omitempty"`
	State     string           `json:"state"`
	PageLimit int              `json:"page_limit"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	UpdatedAt *time.Time       `json:"updated_at,omitempty"`
	Summary   *scraper.Summary `json:"summary,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Tracker is an Observer that keeps a Snapshot of the latest run for status
// endpoints.
type Tracker struct {
	mu        sync.RWMutex
	pageLimit int
	snap      Snapshot
}

// NewTracker returns a Tracker reporting NotStarted.
func NewTracker(pageLimit int) *Tracker {
	return &Tracker{
		pageLimit: pageLimit,
		snap:      Snapshot{State: NotStarted.String(), PageLimit: pageLimit},
	}
}

// StateChanged implements Observer.
func (t *Tracker) StateChanged(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	at := ev.At
	if ev.RunID != t.snap.RunID {
		t.snap = Snapshot{RunID: ev.RunID, PageLimit: t.pageLimit, StartedAt: &at}
	}
	t.snap.State = ev.To.String()
	t.snap.UpdatedAt = &at
	if ev.Summary != nil {
		summary := *ev.Summary
		t.snap.Summary = &summary
	}
	if ev.Err != nil {
		t.snap.Error = ev.Err.Error()
	}
}

// Snapshot returns a copy of the current view.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Ready reports false while a run is acquiring its session or provisioning
// pages.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch t.snap.State {
	case SessionAcquiring.String(), PagesProvisioning.String():
		return false
	default:
		return true
	}
}
