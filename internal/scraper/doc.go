// Package scraper defines the core types and collaborator contracts shared by
// the worker pool: work queues, remote browser sessions and pages, results,
// and the sinks that consume them.
//
// The pool, worker and queue packages depend only on this package. Concrete
// browser drivers live under internal/session and result sinks under
// internal/sinks.
package scraper
