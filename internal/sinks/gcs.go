package sinks

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/bulk-scraper/internal/hash/sha256"
	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

// GCSConfig captures the bucket layout for archived pages.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// GCSSink uploads the HTML of successful results to Cloud Storage as
// "<prefix>/<run id>/<content sha256>.html". Failed results are skipped.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
	hasher *sha256.Hasher
}

// NewGCSSink creates a GCS-backed sink.
func NewGCSSink(client *storage.Client, cfg GCSConfig) (*GCSSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSSink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		hasher: sha256.New(),
	}, nil
}

// ObjectPath returns the object name used for res.
func (s *GCSSink) ObjectPath(res scraper.Result) string {
	name := fmt.Sprintf("%s/%s.html", res.RunID, s.hasher.Hash(res.Content))
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Deliver implements scraper.Sink.
func (s *GCSSink) Deliver(ctx context.Context, res scraper.Result) error {
	if !res.OK() {
		return nil
	}
	path := s.ObjectPath(res)
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "text/html; charset=utf-8"
	writer.Metadata = map[string]string{
		"source-url": res.URL,
		"run-id":     res.RunID,
	}
	if _, err := writer.Write([]byte(res.Content)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}
