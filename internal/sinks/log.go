package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

const previewLen = 30

// LogSink logs one line per result with a short content preview.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver implements scraper.Sink.
func (s *LogSink) Deliver(_ context.Context, res scraper.Result) error {
	if !res.OK() {
		s.logger.Info("scrape failed",
			zap.String("url", res.URL),
			zap.Int("page_id", res.PageID),
			zap.String("kind", string(res.Err.Kind)),
			zap.String("error", res.ErrorText()),
		)
		return nil
	}
	s.logger.Info("scraped",
		zap.String("url", res.URL),
		zap.Int("page_id", res.PageID),
		zap.Int("status", res.StatusCode),
		zap.String("preview", preview(res.Content)),
	)
	return nil
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLen {
		return content
	}
	return string(runes[:previewLen])
}
