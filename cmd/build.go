package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-scraper/internal/config"
	"github.com/JakeFAU/bulk-scraper/internal/id/uuid"
	memoryqueue "github.com/JakeFAU/bulk-scraper/internal/queue/memory"
	redisqueue "github.com/JakeFAU/bulk-scraper/internal/queue/redis"
	"github.com/JakeFAU/bulk-scraper/internal/scraper"
	collysession "github.com/JakeFAU/bulk-scraper/internal/session/colly"
	"github.com/JakeFAU/bulk-scraper/internal/session/headless"
	"github.com/JakeFAU/bulk-scraper/internal/sinks"
)

// readURLs returns one URL per non-blank line. Lines starting with # are
// skipped.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

func readURLsFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	return readURLs(f)
}

func buildConnector(cfg config.SessionConfig, logger *zap.Logger) (scraper.Connector, error) {
	switch cfg.Driver {
	case config.DriverChromedp:
		conn, err := headless.NewConnector(headless.Config{
			EndpointURL: cfg.EndpointURL,
			AuthToken:   cfg.AuthToken,
			Mode:        headless.Mode(cfg.ConnectMode),
			Headless:    cfg.Headless,
			UserAgent:   cfg.UserAgent,
			Headers:     cfg.HTTPHeaders(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init chromedp connector: %w", err)
		}
		return conn, nil
	case config.DriverHTTP:
		return collysession.NewConnector(collysession.Config{
			UserAgent: cfg.UserAgent,
			Headers:   cfg.HTTPHeaders(),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", cfg.Driver)
	}
}

// buildQueue fills the configured queue. The memory queue requires the URLs
// file; the redis queue appends it when set, so several runs can share one
// list.
func buildQueue(ctx context.Context, cfg config.Config, logger *zap.Logger) (scraper.Queue, func(), error) {
	var urls []string
	if cfg.Input.URLsFile != "" {
		var err error
		urls, err = readURLsFile(cfg.Input.URLsFile)
		if err != nil && (cfg.Queue.Driver == config.QueueMemory || !errors.Is(err, os.ErrNotExist)) {
			return nil, nil, err
		}
	}

	switch cfg.Queue.Driver {
	case config.QueueMemory:
		logger.Info("loaded urls", zap.Int("count", len(urls)), zap.String("file", cfg.Input.URLsFile))
		return memoryqueue.New(urls...), func() {}, nil
	case config.QueueRedis:
		q, err := redisqueue.New(redisqueue.Config{
			Addr:     cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Key:      cfg.Queue.Redis.Key,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init redis queue: %w", err)
		}
		closeQueue := func() {
			if err := q.Close(); err != nil {
				logger.Warn("redis queue close failed", zap.Error(err))
			}
		}
		if err := q.Ping(ctx); err != nil {
			closeQueue()
			return nil, nil, err
		}
		for _, u := range urls {
			if err := q.Enqueue(ctx, u); err != nil {
				closeQueue()
				return nil, nil, fmt.Errorf("seed redis queue: %w", err)
			}
		}
		logger.Info("seeded redis queue", zap.Int("count", len(urls)), zap.String("key", cfg.Queue.Redis.Key))
		return q, closeQueue, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// sinkSet collects the configured sinks and the cleanup for any clients they
// own.
type sinkSet struct {
	multi   sinks.Multi
	cleanup []func()
}

func (s *sinkSet) add(sink scraper.Sink, cleanup func()) {
	s.multi = append(s.multi, sink)
	if cleanup != nil {
		s.cleanup = append(s.cleanup, cleanup)
	}
}

// Close closes every sink, then the clients behind them.
func (s *sinkSet) Close() error {
	err := s.multi.Close()
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	return err
}

func buildSinks(ctx context.Context, cfg config.OutputConfig, logger *zap.Logger) (*sinkSet, error) {
	set := &sinkSet{}
	records := sinks.NewRecordBuilder(uuid.New())

	for _, name := range cfg.Sinks {
		if err := set.addNamed(ctx, name, cfg, records, logger); err != nil {
			_ = set.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("init %s sink: %w", name, err)
		}
	}
	return set, nil
}

func (s *sinkSet) addNamed(
	ctx context.Context,
	name string,
	cfg config.OutputConfig,
	records *sinks.RecordBuilder,
	logger *zap.Logger,
) error {
	switch name {
	case config.SinkFile:
		sink, err := sinks.NewFileSink(cfg.Dir)
		if err != nil {
			return err
		}
		s.add(sink, nil)
	case config.SinkLog:
		s.add(sinks.NewLogSink(logger), nil)
	case config.SinkGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("storage client: %w", err)
		}
		sink, err := sinks.NewGCSSink(client, sinks.GCSConfig{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix})
		if err != nil {
			_ = client.Close() //nolint:errcheck // already failing
			return err
		}
		s.add(sink, nil)
	case config.SinkPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		sink, err := sinks.NewPubSubSink(client.Topic(cfg.PubSub.Topic), records)
		if err != nil {
			_ = client.Close() //nolint:errcheck // already failing
			return err
		}
		s.add(sink, func() {
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
	case config.SinkPostgres:
		sink, err := sinks.NewPostgresSink(ctx, sinks.PostgresConfig{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		}, records)
		if err != nil {
			return err
		}
		s.add(sink, nil)
	case config.SinkKafka:
		sink, err := sinks.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, records)
		if err != nil {
			return err
		}
		s.add(sink, nil)
	default:
		return fmt.Errorf("unknown sink %q", name)
	}
	return nil
}
