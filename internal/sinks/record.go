// Package sinks contains scraper.Sink implementations: local files, logs,
// Google Cloud Storage, Pub/Sub, Postgres and Kafka.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/bulk-scraper/internal/hash/sha256"
	"github.com/JakeFAU/bulk-scraper/internal/id/uuid"
	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

// Record is the persisted and published view of a Result. Content itself is
// not part of a Record; sinks that store documents do so separately.
type Record struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	URL          string    `json:"url"`
	PageID       int       `json:"page_id"`
	OK           bool      `json:"ok"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	StatusCode   int       `json:"status_code,omitempty"`
	FinalURL     string    `json:"final_url,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
	ContentBytes int       `json:"content_bytes"`
	FetchedAt    time.Time `json:"fetched_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// RecordBuilder turns Results into Records.
type RecordBuilder struct {
	ids    scraper.IDGenerator
	hasher *sha256.Hasher
}

// NewRecordBuilder returns a builder. A nil ids uses UUID v7.
func NewRecordBuilder(ids scraper.IDGenerator) *RecordBuilder {
	if ids == nil {
		ids = uuid.New()
	}
	return &RecordBuilder{ids: ids, hasher: sha256.New()}
}

// Build creates the Record for res.
func (b *RecordBuilder) Build(res scraper.Result) (Record, error) {
	id, err := b.ids.NewID()
	if err != nil {
		return Record{}, fmt.Errorf("record id: %w", err)
	}
	rec := Record{
		ID:           id,
		RunID:        res.RunID,
		URL:          res.URL,
		PageID:       res.PageID,
		OK:           res.OK(),
		StatusCode:   res.StatusCode,
		FinalURL:     res.FinalURL,
		ContentBytes: len(res.Content),
		FetchedAt:    res.FetchedAt.UTC(),
		DurationMs:   res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		rec.ErrorKind = string(res.Err.Kind)
		rec.Error = res.Err.Error()
	} else {
		rec.ContentHash = b.hasher.Hash(res.Content)
	}
	return rec, nil
}

// Multi delivers each result to every sink in order. It stops at the first
// failing sink.
type Multi []scraper.Sink

// Deliver implements scraper.Sink.
func (m Multi) Deliver(ctx context.Context, res scraper.Result) error {
	for i, s := range m {
		if err := s.Deliver(ctx, res); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every sink that has a Close method and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		switch c := s.(type) {
		case interface{ Close() error }:
			errs = append(errs, c.Close())
		case interface{ Close() }:
			c.Close()
		}
	}
	return errors.Join(errs...)
}
