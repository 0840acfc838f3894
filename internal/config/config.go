package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIBaseURL string          `yaml:"api_base_url"`
	SocketURL  string          `yaml:"socket_url"`
	City       string          `yaml:"city"`
	Storage    StorageConfig   `yaml:"storage"`
	Poll       PollConfig      `yaml:"poll"`
	Realtime   RealtimeConfig  `yaml:"realtime"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Logging    LoggingConfig   `yaml:"logging"`
}

type StorageConfig struct {
	Path   string `yaml:"path"`
	Secret string `yaml:"secret"`
}

type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type RealtimeConfig struct {
	JoinTimeout       time.Duration `yaml:"join_timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load builds the configuration from MEETLY_* environment variables,
// optionally overlaid by the YAML file named in MEETLY_CONFIG. File values
// win over env values, matching how a device-local profile overrides the
// build defaults.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL: getenv("MEETLY_API_URL", "http://localhost:3000"),
		SocketURL:  os.Getenv("MEETLY_SOCKET_URL"),
		City:       os.Getenv("MEETLY_CITY"),
		Storage: StorageConfig{
			Path:   getenv("MEETLY_STORAGE_PATH", "meetly.db"),
			Secret: os.Getenv("MEETLY_STORAGE_SECRET"),
		},
		Poll: PollConfig{
			Interval: getenvDuration("MEETLY_POLL_INTERVAL", 5*time.Second),
		},
		Realtime: RealtimeConfig{
			JoinTimeout:       getenvDuration("MEETLY_JOIN_TIMEOUT", 5*time.Second),
			ReconnectDelay:    getenvDuration("MEETLY_RECONNECT_DELAY", time.Second),
			ReconnectAttempts: getenvInt("MEETLY_RECONNECT_ATTEMPTS", 5),
		},
		RateLimit: RateLimitConfig{
			RPS:   getenvFloat("MEETLY_RATE_RPS", 10),
			Burst: getenvInt("MEETLY_RATE_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getenv("MEETLY_LOG_LEVEL", "info"),
			Format: getenv("MEETLY_LOG_FORMAT", "text"),
			File:   os.Getenv("MEETLY_LOG_FILE"),
		},
	}

	if path := os.Getenv("MEETLY_CONFIG"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if cfg.SocketURL == "" {
		cfg.SocketURL = cfg.APIBaseURL
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = 5 * time.Second
	}

	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}
