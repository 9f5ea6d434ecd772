package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverChromedp, cfg.Session.Driver)
	assert.Equal(t, "wss://chrome.browserless.io", cfg.Session.EndpointURL)
	assert.Equal(t, "fresh", cfg.Session.ConnectMode)
	assert.Equal(t, 5, cfg.Pool.PageLimit)
	assert.Equal(t, 10*time.Second, cfg.Pool.ItemTimeout)
	assert.True(t, cfg.Pool.SerializeSink)
	assert.Equal(t, QueueMemory, cfg.Queue.Driver)
	assert.Equal(t, "urls.txt", cfg.Input.URLsFile)
	assert.Equal(t, []string{SinkFile, SinkLog}, cfg.Output.Sinks)
	assert.Equal(t, "scrape_results", cfg.Output.Postgres.Table)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
session:
  driver: http
  user_agent: "bulk-test/1.0"
  headers:
    X-Trace: abc
pool:
  page_limit: 12
  item_timeout: 3s
  provision_concurrently: true
output:
  sinks: [log, postgres]
  postgres:
    dsn: postgres://localhost/scrapes
logging:
  development: false
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverHTTP, cfg.Session.Driver)
	assert.Equal(t, "bulk-test/1.0", cfg.Session.UserAgent)
	assert.Equal(t, "abc", cfg.Session.HTTPHeaders().Get("X-Trace"))
	assert.Equal(t, 12, cfg.Pool.PageLimit)
	assert.Equal(t, 3*time.Second, cfg.Pool.ItemTimeout)
	assert.True(t, cfg.Pool.ProvisionConcurrently)
	assert.True(t, cfg.Output.Enabled(SinkPostgres))
	assert.False(t, cfg.Output.Enabled(SinkFile))
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPER_POOL_PAGE_LIMIT", "7")
	t.Setenv("SCRAPER_SESSION_ENDPOINT_URL", "wss://browser.internal")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Pool.PageLimit)
	assert.Equal(t, "wss://browser.internal", cfg.Session.EndpointURL)
}

func TestLoadTokenFallback(t *testing.T) {
	t.Setenv("BROWSERLESS_TOKEN", "from-browserless")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-browserless", cfg.Session.AuthToken)

	t.Setenv("SCRAPER_SESSION_AUTH_TOKEN", "from-scraper")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-scraper", cfg.Session.AuthToken)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	base := Config{
		Session: SessionConfig{Driver: DriverChromedp, EndpointURL: "wss://x", ConnectMode: "fresh"},
		Pool:    PoolConfig{PageLimit: 2, ItemTimeout: time.Second},
		Queue:   QueueConfig{Driver: QueueMemory},
		Input:   InputConfig{URLsFile: "urls.txt"},
		Output:  OutputConfig{Sinks: []string{SinkFile}, Dir: "."},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Session.Driver = "selenium" }, "session.driver"},
		{"mode", func(c *Config) { c.Session.ConnectMode = "reuse" }, "session.connect_mode"},
		{"endpoint", func(c *Config) { c.Session.EndpointURL = "" }, "session.endpoint_url"},
		{"page limit", func(c *Config) { c.Pool.PageLimit = 0 }, "pool.page_limit"},
		{"item timeout", func(c *Config) { c.Pool.ItemTimeout = 0 }, "pool.item_timeout"},
		{"queue driver", func(c *Config) { c.Queue.Driver = "sqs" }, "queue.driver"},
		{"redis addr", func(c *Config) { c.Queue.Driver = QueueRedis }, "queue.redis.addr"},
		{"urls file", func(c *Config) { c.Input.URLsFile = "" }, "input.urls_file"},
		{"no sinks", func(c *Config) { c.Output.Sinks = nil }, "output.sinks"},
		{"unknown sink", func(c *Config) { c.Output.Sinks = []string{"s3"} }, "unknown sink"},
		{"dir", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
		{"gcs", func(c *Config) { c.Output.Sinks = []string{SinkGCS} }, "output.gcs.bucket"},
		{"pubsub", func(c *Config) { c.Output.Sinks = []string{SinkPubSub} }, "output.pubsub"},
		{"postgres", func(c *Config) { c.Output.Sinks = []string{SinkPostgres} }, "output.postgres.dsn"},
		{"kafka", func(c *Config) { c.Output.Sinks = []string{SinkKafka} }, "output.kafka"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			c.Output.Sinks = append([]string(nil), base.Output.Sinks...)
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "got %q", err.Error())
		})
	}
}

func TestLocalModeNeedsNoEndpoint(t *testing.T) {
	c := Config{
		Session: SessionConfig{Driver: DriverChromedp, ConnectMode: "local"},
		Pool:    PoolConfig{PageLimit: 1, ItemTimeout: time.Second},
		Queue:   QueueConfig{Driver: QueueRedis, Redis: RedisConfig{Addr: "localhost:6379"}},
		Output:  OutputConfig{Sinks: []string{SinkLog}},
	}
	assert.NoError(t, c.Validate())
}
