package sinks

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

var fetchedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("rec-%d", s.n), nil
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func okResult(url, content string) scraper.Result {
	return scraper.Result{
		RunID:      "run-1",
		URL:        url,
		PageID:     2,
		Content:    content,
		StatusCode: 200,
		FinalURL:   url,
		FetchedAt:  fetchedAt,
		Duration:   1500 * time.Millisecond,
	}
}

func failedResult(url string) scraper.Result {
	return scraper.Result{
		RunID:     "run-1",
		URL:       url,
		PageID:    1,
		Err:       scraper.NewItemError(url, scraper.KindNavigationFailed, errors.New("net::ERR_NAME_NOT_RESOLVED")),
		FetchedAt: fetchedAt,
		Duration:  20 * time.Millisecond,
	}
}
