package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendTables = "tables"
)

// Config holds runtime configuration for the kanban service. Values come
// from .kanban.yaml, environment variables and CLI flags.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Debug      bool   `mapstructure:"debug"`

	StorageBackend          string `mapstructure:"storage_backend"`
	RedisConnectionString   string `mapstructure:"redis_connection_string"`
	StorageConnectionString string `mapstructure:"storage_connection_string"`
	KanbanTable             string `mapstructure:"kanban_table"`
	KanbanStorageKey        string `mapstructure:"kanban_storage_key"`
	BoardsStorageKey        string `mapstructure:"boards_storage_key"`
	BoardSecretKey          string `mapstructure:"board_secret_key"`

	ChangesChannel     string        `mapstructure:"changes_channel"`
	ChangesQueue       string        `mapstructure:"changes_queue"`
	FeedWorkers        int           `mapstructure:"feed_workers"`
	FeedBuffer         int           `mapstructure:"feed_buffer"`
	FeedHandoffTimeout time.Duration `mapstructure:"feed_handoff_timeout"`

	Auth0Domain           string        `mapstructure:"auth0_domain"`
	Auth0Audience         string        `mapstructure:"auth0_audience"`
	LocalAuthMode         string        `mapstructure:"local_auth_mode"`
	LocalAuthSharedSecret string        `mapstructure:"local_auth_shared_secret"`
	JWKSCacheTTL          time.Duration `mapstructure:"jwks_cache_ttl"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags, and validates it.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Read decodes configuration without validating it.
func Read() (Config, error) {
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("debug", false)
	viper.SetDefault("storage_backend", BackendMemory)
	viper.SetDefault("redis_connection_string", "")
	viper.SetDefault("storage_connection_string", "")
	viper.SetDefault("kanban_table", "kanban")
	viper.SetDefault("kanban_storage_key", "kanban-storage")
	viper.SetDefault("boards_storage_key", "boards-data")
	viper.SetDefault("board_secret_key", "1234")
	viper.SetDefault("changes_channel", "kanban-changes")
	viper.SetDefault("changes_queue", "")
	viper.SetDefault("feed_workers", 4)
	viper.SetDefault("feed_buffer", 256)
	viper.SetDefault("feed_handoff_timeout", 15*time.Millisecond)
	viper.SetDefault("auth0_domain", "")
	viper.SetDefault("auth0_audience", "")
	viper.SetDefault("local_auth_mode", "")
	viper.SetDefault("local_auth_shared_secret", "")
	viper.SetDefault("jwks_cache_ttl", 15*time.Minute)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisConnectionString == "" {
			errs = append(errs, errors.New("REDIS_CONNECTION_STRING is required for the redis backend"))
		}
	case BackendTables:
		if c.StorageConnectionString == "" || c.KanbanTable == "" {
			errs = append(errs, errors.New("STORAGE_CONNECTION_STRING and KANBAN_TABLE are required for the tables backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	if c.ChangesQueue != "" && c.StorageConnectionString == "" {
		errs = append(errs, errors.New("STORAGE_CONNECTION_STRING is required when CHANGES_QUEUE is set"))
	}
	if c.LocalAuthMode == "" && (c.Auth0Domain == "" || c.Auth0Audience == "") {
		errs = append(errs, errors.New("missing Auth0 config: set AUTH0_DOMAIN and AUTH0_AUDIENCE or LOCAL_AUTH_MODE"))
	}
	if c.FeedWorkers <= 0 {
		errs = append(errs, errors.New("FEED_WORKERS must be greater than zero"))
	}
	if c.FeedBuffer < 0 {
		errs = append(errs, errors.New("FEED_BUFFER must not be negative"))
	}
	if c.JWKSCacheTTL < 0 {
		errs = append(errs, errors.New("JWKS_CACHE_TTL must not be negative"))
	}
	return errors.Join(errs...)
}

// Issuer is the expected token issuer for the configured Auth0 tenant.
func (c Config) Issuer() string {
	if c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}
