package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upload        UploadConfig        `yaml:"upload"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Journal       JournalConfig       `yaml:"journal"`
	Notifications NotificationsConfig `yaml:"notifications"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Address             string    `yaml:"address"`
	Port                int       `yaml:"port"`
	ShutdownTimeoutSecs int       `yaml:"shutdown_timeout_secs"`
	CORSOrigin          string    `yaml:"cors_origin"` // restrict to the experiment's pages in production
	TLS                 TLSConfig `yaml:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	Auto AutoTLSConfig `yaml:"auto"`
}

// AutoTLSConfig holds Let's Encrypt / self-signed auto-TLS settings.
type AutoTLSConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Domains    []string `yaml:"domains"`
	CacheDir   string   `yaml:"cache_dir"`
	SelfSigned bool     `yaml:"self_signed"`
}

// UploadConfig is the S3 target. AccessKey and SecretKey may be supplied via
// the GATEWAY_ACCESS_KEY / GATEWAY_SECRET_KEY environment variables instead
// of the config file.
type UploadConfig struct {
	Bucket      string `yaml:"bucket"`
	Region      string `yaml:"region"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Endpoint    string `yaml:"endpoint"` // override for S3-compatible stores; empty = AWS virtual-hosted
	ContentType string `yaml:"content_type"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type IngestConfig struct {
	MaxBodyBytes   int64 `yaml:"max_body_bytes"`
	MaxSessionRows int   `yaml:"max_session_rows"`
}

type JournalConfig struct {
	Path           string `yaml:"path"`
	DedupeSessions bool   `yaml:"dedupe_sessions"`
}

type NotificationsConfig struct {
	MaxWorkers  int      `yaml:"max_workers"`
	QueueSize   int      `yaml:"queue_size"`
	TimeoutSecs int      `yaml:"timeout_secs"`
	MaxRetries  int      `yaml:"max_retries"`
	Webhooks    []string `yaml:"webhooks"`

	Kafka         KafkaConfig         `yaml:"kafka"`
	NATS          NATSConfig          `yaml:"nats"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	AMQP          AMQPConfig          `yaml:"amqp"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
	ListKey string `yaml:"list_key"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table"`
}

type AMQPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type ElasticsearchConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Index   string `yaml:"index"`
}

type RateLimitConfig struct {
	Enabled        bool    `yaml:"enabled"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
	BurstSize      int     `yaml:"burst_size"`
	PerUserRPS     float64 `yaml:"per_user_rps"`
	PerUserBurst   int     `yaml:"per_user_burst"`
	// BandwidthBytesPerSec throttles ingest body reads per client. 0 disables.
	BandwidthBytesPerSec int64 `yaml:"bandwidth_bytes_per_sec"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	AccessLog     bool   `yaml:"access_log"`
	AccessLogPath string `yaml:"access_log_path"`
}

// Load reads the YAML config at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration defaults applied before unmarshalling.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:             "0.0.0.0",
			Port:                8080,
			ShutdownTimeoutSecs: 15,
			CORSOrigin:          "*",
		},
		Upload: UploadConfig{
			ContentType: "text/csv",
			TimeoutSecs: 60,
		},
		Ingest: IngestConfig{
			MaxBodyBytes:   10 * 1024 * 1024,
			MaxSessionRows: 100000,
		},
		Journal: JournalConfig{
			Path:           "./journal.db",
			DedupeSessions: true,
		},
		Notifications: NotificationsConfig{
			MaxWorkers:  4,
			QueueSize:   256,
			TimeoutSecs: 10,
			MaxRetries:  3,
		},
		Logging: LoggingConfig{
			Level:         "info",
			AccessLogPath: "./access.log",
		},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GATEWAY_BUCKET"); v != "" {
		c.Upload.Bucket = v
	}
	if v := os.Getenv("GATEWAY_REGION"); v != "" {
		c.Upload.Region = v
	}
	if v := os.Getenv("GATEWAY_ACCESS_KEY"); v != "" {
		c.Upload.AccessKey = v
	}
	if v := os.Getenv("GATEWAY_SECRET_KEY"); v != "" {
		c.Upload.SecretKey = v
	}
}

// Validate reports every problem at once. A missing upload credential is
// fatal; the service refuses to start rather than fail on first upload.
func (c *Config) Validate() error {
	var errs []error

	if c.Upload.Bucket == "" {
		errs = append(errs, errors.New("config: upload.bucket is required"))
	}
	if c.Upload.Region == "" {
		errs = append(errs, errors.New("config: upload.region is required"))
	}
	if c.Upload.AccessKey == "" {
		errs = append(errs, errors.New("config: upload.access_key is required (or GATEWAY_ACCESS_KEY)"))
	}
	if c.Upload.SecretKey == "" {
		errs = append(errs, errors.New("config: upload.secret_key is required (or GATEWAY_SECRET_KEY)"))
	}
	if c.Upload.TimeoutSecs <= 0 {
		errs = append(errs, errors.New("config: upload.timeout_secs must be > 0"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.Ingest.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("config: ingest.max_body_bytes must be > 0"))
	}
	if c.Ingest.MaxSessionRows <= 0 {
		errs = append(errs, errors.New("config: ingest.max_session_rows must be > 0"))
	}
	if c.Journal.Path == "" {
		errs = append(errs, errors.New("config: journal.path is required"))
	}
	if c.Notifications.MaxWorkers <= 0 {
		errs = append(errs, errors.New("config: notifications.max_workers must be > 0"))
	}
	if c.Notifications.QueueSize <= 0 {
		errs = append(errs, errors.New("config: notifications.queue_size must be > 0"))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSec <= 0 {
			errs = append(errs, errors.New("config: rate_limit.requests_per_sec must be > 0 when enabled"))
		}
		if c.RateLimit.BurstSize <= 0 {
			errs = append(errs, errors.New("config: rate_limit.burst_size must be > 0 when enabled"))
		}
	}
	if c.Server.TLS.Enabled && !c.Server.TLS.Auto.Enabled {
		if c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("config: server.tls.cert_file and key_file are required unless auto-TLS is enabled"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ListenAddr returns the host:port the server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
