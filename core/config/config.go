package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token string `yaml:"token" envconfig:"BOT_TOKEN"`
	// AuditChatID is the single chat receiving audit entries; 0 fans out to every admin.
	AuditChatID int64    `yaml:"audit_chat_id" envconfig:"TELEGRAM_AUDIT_CHAT_ID"`
	Admins      AdminIDs `yaml:"admins" envconfig:"TELEGRAM_ADMINS"`
	RunMode     string   `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir" envconfig:"LOG_DIR"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// StorageConfig selects and configures the session store backend.
type StorageConfig struct {
	Driver   string         `yaml:"driver" envconfig:"STORAGE_DRIVER"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds the file location of the SQLite database.
type SQLiteConfig struct {
	Path string `yaml:"path" envconfig:"SQLITE_PATH"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// BroadcastConfig bounds the fan-out of a broadcast.
type BroadcastConfig struct {
	Workers           int `yaml:"workers" envconfig:"BROADCAST_WORKERS"`
	DeliveryTimeoutMS int `yaml:"delivery_timeout_ms" envconfig:"BROADCAST_DELIVERY_TIMEOUT_MS"`
	MaxRetries        int `yaml:"max_retries" envconfig:"BROADCAST_MAX_RETRIES"`
}

// MetricsConfig controls the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// DriverPostgres stores sessions in PostgreSQL.
	DriverPostgres = "postgres"
	// DriverSQLite stores sessions in a local SQLite file.
	DriverSQLite = "sqlite"
	// DriverMemory keeps sessions in process memory only.
	DriverMemory = "memory"
)

const (
	// UpdateCommand identifies slash commands for rate limit exclusions.
	UpdateCommand = "command"
	// UpdateMessage identifies plain text messages for rate limit exclusions.
	UpdateMessage = "message"
)

const (
	defaultBroadcastWorkers  = 4
	defaultDeliveryTimeoutMS = 10000
	defaultSQLitePath        = "relaybot.db"
	defaultPostgresMaxConns  = 5
	maxBroadcastWorkers      = 64
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "command": slash commands such as /start
// - "message": plain text messages
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the bot configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Load reads configuration from a YAML file and environment variables.
// A missing file is allowed so the bot can be configured from the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" || rm == "polling" {
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if key != UpdateCommand && key != UpdateMessage {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: command, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if err := normalizeStorage(&cfg.Storage); err != nil {
		return err
	}
	return normalizeBroadcast(&cfg.Broadcast)
}

func normalizeStorage(s *StorageConfig) error {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverSQLite:
		if strings.TrimSpace(s.SQLite.Path) == "" {
			s.SQLite.Path = defaultSQLitePath
		}
	case DriverPostgres:
		if strings.TrimSpace(s.Postgres.Host) == "" || strings.TrimSpace(s.Postgres.Name) == "" {
			return fmt.Errorf("storage.postgres.host and storage.postgres.name are required for the postgres driver")
		}
		if s.Postgres.Port == "" {
			s.Postgres.Port = "5432"
		}
		if s.Postgres.SSLMode == "" {
			s.Postgres.SSLMode = "disable"
		}
		if s.Postgres.MaxConnections <= 0 {
			s.Postgres.MaxConnections = defaultPostgresMaxConns
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: postgres, sqlite, memory", s.Driver)
	}
	s.Driver = driver
	return nil
}

func normalizeBroadcast(b *BroadcastConfig) error {
	if b.Workers < 0 || b.DeliveryTimeoutMS < 0 || b.MaxRetries < 0 {
		return fmt.Errorf("broadcast settings must be >= 0")
	}
	if b.Workers == 0 {
		b.Workers = defaultBroadcastWorkers
	}
	if b.Workers > maxBroadcastWorkers {
		b.Workers = maxBroadcastWorkers
	}
	if b.DeliveryTimeoutMS == 0 {
		b.DeliveryTimeoutMS = defaultDeliveryTimeoutMS
	}
	return nil
}
