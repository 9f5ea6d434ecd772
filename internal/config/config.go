// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session drivers.
const (
	DriverChromedp = "chromedp"
	DriverHTTP     = "http"
)

// Queue drivers.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Sink names accepted in output.sinks.
const (
	SinkFile     = "file"
	SinkLog      = "log"
	SinkGCS      = "gcs"
	SinkPubSub   = "pubsub"
	SinkPostgres = "postgres"
	SinkKafka    = "kafka"
)

var knownSinks = []string{SinkFile, SinkLog, SinkGCS, SinkPubSub, SinkPostgres, SinkKafka}

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Session SessionConfig `mapstructure:"session"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Input   InputConfig   `mapstructure:"input"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// SessionConfig selects and configures the page driver.
type SessionConfig struct {
	Driver      string            `mapstructure:"driver"`
	EndpointURL string            `mapstructure:"endpoint_url"`
	AuthToken   string            `mapstructure:"auth_token"`
	ConnectMode string            `mapstructure:"connect_mode"`
	Headless    bool              `mapstructure:"headless"`
	UserAgent   string            `mapstructure:"user_agent"`
	Headers     map[string]string `mapstructure:"headers"`
}

// HTTPHeaders returns Headers as an http.Header.
func (s SessionConfig) HTTPHeaders() http.Header {
	if len(s.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(s.Headers))
	for k, v := range s.Headers {
		h.Set(k, v)
	}
	return h
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	PageLimit             int           `mapstructure:"page_limit"`
	ItemTimeout           time.Duration `mapstructure:"item_timeout"`
	SerializeSink         bool          `mapstructure:"serialize_sink"`
	ProvisionConcurrently bool          `mapstructure:"provision_concurrently"`
}

// QueueConfig selects where pending URLs live.
type QueueConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig addresses the shared Redis list.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// InputConfig points at the URL list.
type InputConfig struct {
	URLsFile string `mapstructure:"urls_file"`
}

// OutputConfig lists the sinks results go to and their settings.
type OutputConfig struct {
	Sinks    []string       `mapstructure:"sinks"`
	Dir      string         `mapstructure:"dir"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// GCSConfig sets the archive bucket.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds the result topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// PostgresConfig controls the results table.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// KafkaConfig holds the result topic.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables the status server when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment. Environment variables use the
// SCRAPER_ prefix with dots replaced by underscores, for example
// SCRAPER_POOL_PAGE_LIMIT. BROWSERLESS_TOKEN is accepted as the auth token.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("session.auth_token", "SCRAPER_SESSION_AUTH_TOKEN", "BROWSERLESS_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.driver", DriverChromedp)
	v.SetDefault("session.endpoint_url", "wss://chrome.browserless.io")
	v.SetDefault("session.auth_token", "")
	v.SetDefault("session.connect_mode", "fresh")
	v.SetDefault("session.headless", false)
	v.SetDefault("session.user_agent", "")
	v.SetDefault("pool.page_limit", 5)
	v.SetDefault("pool.item_timeout", 10*time.Second)
	v.SetDefault("pool.serialize_sink", true)
	v.SetDefault("pool.provision_concurrently", false)
	v.SetDefault("queue.driver", QueueMemory)
	v.SetDefault("queue.redis.addr", "localhost:6379")
	v.SetDefault("queue.redis.password", "")
	v.SetDefault("queue.redis.db", 0)
	v.SetDefault("queue.redis.key", "bulk-scraper:urls")
	v.SetDefault("input.urls_file", "urls.txt")
	v.SetDefault("output.sinks", []string{SinkFile, SinkLog})
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.gcs.bucket", "")
	v.SetDefault("output.gcs.prefix", "pages")
	v.SetDefault("output.pubsub.project_id", "")
	v.SetDefault("output.pubsub.topic", "")
	v.SetDefault("output.postgres.dsn", "")
	v.SetDefault("output.postgres.table", "scrape_results")
	v.SetDefault("output.postgres.max_conns", 4)
	v.SetDefault("output.kafka.brokers", []string{})
	v.SetDefault("output.kafka.topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Session.Driver {
	case DriverChromedp:
		switch c.Session.ConnectMode {
		case "fresh", "attach":
			if c.Session.EndpointURL == "" {
				return fmt.Errorf("session.endpoint_url is required for connect_mode %q", c.Session.ConnectMode)
			}
		case "local":
		default:
			return fmt.Errorf("session.connect_mode must be fresh, attach or local, got %q", c.Session.ConnectMode)
		}
	case DriverHTTP:
	default:
		return fmt.Errorf("session.driver must be %q or %q, got %q", DriverChromedp, DriverHTTP, c.Session.Driver)
	}
	if c.Pool.PageLimit <= 0 {
		return fmt.Errorf("pool.page_limit must be > 0")
	}
	if c.Pool.ItemTimeout <= 0 {
		return fmt.Errorf("pool.item_timeout must be > 0")
	}
	switch c.Queue.Driver {
	case QueueMemory:
	case QueueRedis:
		if c.Queue.Redis.Addr == "" {
			return fmt.Errorf("queue.redis.addr is required for the redis queue")
		}
	default:
		return fmt.Errorf("queue.driver must be %q or %q, got %q", QueueMemory, QueueRedis, c.Queue.Driver)
	}
	if c.Queue.Driver == QueueMemory && c.Input.URLsFile == "" {
		return fmt.Errorf("input.urls_file is required for the memory queue")
	}
	return c.Output.validate()
}

func (o OutputConfig) validate() error {
	if len(o.Sinks) == 0 {
		return fmt.Errorf("output.sinks must name at least one sink")
	}
	for _, name := range o.Sinks {
		if !slices.Contains(knownSinks, name) {
			return fmt.Errorf("output.sinks: unknown sink %q", name)
		}
	}
	if o.Enabled(SinkFile) && o.Dir == "" {
		return fmt.Errorf("output.dir is required for the file sink")
	}
	if o.Enabled(SinkGCS) && o.GCS.Bucket == "" {
		return fmt.Errorf("output.gcs.bucket is required for the gcs sink")
	}
	if o.Enabled(SinkPubSub) && (o.PubSub.ProjectID == "" || o.PubSub.Topic == "") {
		return fmt.Errorf("output.pubsub.project_id and output.pubsub.topic are required for the pubsub sink")
	}
	if o.Enabled(SinkPostgres) && o.Postgres.DSN == "" {
		return fmt.Errorf("output.postgres.dsn is required for the postgres sink")
	}
	if o.Enabled(SinkKafka) && (len(o.Kafka.Brokers) == 0 || o.Kafka.Topic == "") {
		return fmt.Errorf("output.kafka.brokers and output.kafka.topic are required for the kafka sink")
	}
	return nil
}

// Enabled reports whether the named sink is configured.
func (o OutputConfig) Enabled(name string) bool {
	return slices.Contains(o.Sinks, name)
}
