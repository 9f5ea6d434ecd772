package sinks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/bulk-scraper/internal/hash/sha256"
	"github.com/JakeFAU/bulk-scraper/internal/scraper"
)

// maxFileName keeps generated names under common filesystem limits.
const maxFileName = 200

// FileSink writes each result to its own file under a directory: the page
// HTML to "<name>.html" on success, the error text to "<name>.html.error" on
// failure.
type FileSink struct {
	dir    string
	hasher *sha256.Hasher
}

// NewFileSink creates dir if needed and checks that it is writable.
func NewFileSink(dir string) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create output directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat output directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("output path %q is not a directory", dir)
	}

	probe := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &FileSink{dir: dir, hasher: sha256.New()}, nil
}

// FileName maps a URL to its output file name: slashes are dropped and colons
// become dashes, so "https://example.com/a" becomes "https-example.coma.html".
// Overlong names are shortened and suffixed with a digest of the URL.
func (s *FileSink) FileName(url string, failed bool) string {
	name := strings.ReplaceAll(url, "/", "")
	name = strings.ReplaceAll(name, ":", "-")
	name = strings.ReplaceAll(name, string(filepath.Separator), "")
	if len(name) > maxFileName {
		cut := maxFileName - 17
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut] + "-" + s.hasher.Hash(url)[:16]
	}
	name += ".html"
	if failed {
		name += ".error"
	}
	return name
}

// Deliver implements scraper.Sink.
func (s *FileSink) Deliver(_ context.Context, res scraper.Result) error {
	body := res.Content
	if !res.OK() {
		body = res.ErrorText()
	}
	if strings.TrimSpace(res.URL) == "" {
		return fmt.Errorf("cannot derive file name from an empty url")
	}
	name := s.FileName(res.URL, !res.OK())
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
