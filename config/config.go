// Package config loads the gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// KeyList is a '|' separated list of API keys. Empty entries are dropped, so an unset
// or empty variable yields an empty list (open mode).
type KeyList []string

// Decode implements envconfig.Decoder.
func (k *KeyList) Decode(value string) error {
	var keys KeyList
	for _, part := range strings.Split(value, "|") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	*k = keys
	return nil
}

// Config holds every recognized option.
type Config struct {
	Port int `envconfig:"WEBUI_PORT" default:"3333"`

	RedisURL       string        `envconfig:"REDIS_URL"`
	RedisHost      string        `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort      int           `envconfig:"REDIS_PORT" default:"6379"`
	RedisUser      string        `envconfig:"REDIS_USER"`
	RedisPass      string        `envconfig:"REDIS_PASS"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"7"`
	Prefix         string        `envconfig:"REDIS_PREFIX" default:"rest2redis"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"2s"`

	WindowSeconds     int           `envconfig:"LOGGING_WINDOW" default:"10"`
	WindowCapacity    int           `envconfig:"WINDOW_CAPACITY" default:"0"`
	RateNormalization time.Duration `envconfig:"RATE_NORMALIZATION" default:"10s"`
	PruneInterval     time.Duration `envconfig:"PRUNE_INTERVAL" default:"1s"`
	RefreshSeconds    float64       `envconfig:"REFRESH_INTERVAL" default:"1"`

	APIKeyHeader   string  `envconfig:"API_KEY_HEADER" default:"x-api-key"`
	AllowedAPIKeys KeyList `envconfig:"ALLOWED_API_KEYS"`

	RatePath    string   `envconfig:"RATE_PATH" default:"/"`
	StatsPath   string   `envconfig:"STATS_PATH" default:"/stats"`
	WSPath      string   `envconfig:"WS_PATH" default:"/ws"`
	MetricsPath string   `envconfig:"METRICS_PATH" default:"/metrics"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`

	MaxWebsockets int `envconfig:"MAX_WEBSOCKETS" default:"0"`

	ThrottleRPS     float64 `envconfig:"THROTTLE_RPS" default:"0"`
	ThrottleBurst   int     `envconfig:"THROTTLE_BURST" default:"0"`
	ThrottleBackend string  `envconfig:"THROTTLE_BACKEND" default:"local"`

	ClusterStream       string `envconfig:"CLUSTER_STREAM"`
	ClusterStreamMaxLen int64  `envconfig:"CLUSTER_STREAM_MAXLEN" default:"10000"`
	NTPServer           string `envconfig:"NTP_SERVER"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	Debug           bool          `envconfig:"DEBUG" default:"false"`
}

// Window returns the sliding-window width.
func (c Config) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// RefreshInterval returns the default websocket refresh interval, never below one second.
func (c Config) RefreshInterval() time.Duration {
	d := time.Duration(c.RefreshSeconds * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate rejects settings the gateway cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("WEBUI_PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.WindowSeconds <= 0 {
		errs = append(errs, fmt.Errorf("LOGGING_WINDOW must be > 0, got %d", c.WindowSeconds))
	}
	if c.WindowCapacity < 0 {
		errs = append(errs, errors.New("WINDOW_CAPACITY must be >= 0"))
	}
	if c.RateNormalization <= 0 {
		errs = append(errs, errors.New("RATE_NORMALIZATION must be > 0"))
	}
	if c.ThrottleRPS < 0 {
		errs = append(errs, errors.New("THROTTLE_RPS must be >= 0"))
	}
	switch c.ThrottleBackend {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("THROTTLE_BACKEND must be local or redis, got %q", c.ThrottleBackend))
	}
	if strings.TrimSpace(c.APIKeyHeader) == "" {
		errs = append(errs, errors.New("API_KEY_HEADER must not be empty"))
	}
	return errors.Join(errs...)
}

// Load reads an optional .env file, then the environment, then validates.
func Load() (Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFile loads path into the environment if it exists. Variables already set
// in the environment win.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
