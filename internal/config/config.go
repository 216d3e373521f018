package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string

	APIBaseURL string
	EventsURL  string

	HTTPTimeout     time.Duration
	RequestRate     float64
	RequestBurst    int
	RetryAttempts   int
	RetryDelay      time.Duration
	PingInterval    time.Duration
	ReconnectDelay  time.Duration
	ReconnectBudget int

	MaxUploadBytes    int64
	UploadParallelism int64

	MetricsPort string
}

func Load() Config {
	return Config{
		LogLevel: mustEnv("LOG_LEVEL", "info"),

		APIBaseURL: mustEnv("API_BASE_URL", "http://localhost:8000"),
		EventsURL:  mustEnv("EVENTS_URL", "ws://localhost:8000/ws/status"),

		HTTPTimeout:     mustEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		RequestRate:     mustEnvFloat("REQUEST_RATE", 10),
		RequestBurst:    mustEnvInt("REQUEST_BURST", 5),
		RetryAttempts:   mustEnvInt("RETRY_ATTEMPTS", 3),
		RetryDelay:      mustEnvDuration("RETRY_DELAY", 200*time.Millisecond),
		PingInterval:    mustEnvDuration("PING_INTERVAL", 30*time.Second),
		ReconnectDelay:  mustEnvDuration("RECONNECT_DELAY", 3*time.Second),
		ReconnectBudget: mustEnvInt("RECONNECT_BUDGET", 5),

		MaxUploadBytes:    mustEnvInt64("MAX_UPLOAD_BYTES", 10<<20),
		UploadParallelism: mustEnvInt64("UPLOAD_PARALLELISM", 4),

		MetricsPort: mustEnv("METRICS_PORT", "9090"),
	}
}

// fileConfig mirrors Config for the YAML overlay. Durations are strings so
// operators can write "10s" instead of nanosecond counts.
type fileConfig struct {
	LogLevel *string `yaml:"log_level"`

	APIBaseURL *string `yaml:"api_base_url"`
	EventsURL  *string `yaml:"events_url"`

	HTTPTimeout     *string  `yaml:"http_timeout"`
	RequestRate     *float64 `yaml:"request_rate"`
	RequestBurst    *int     `yaml:"request_burst"`
	RetryAttempts   *int     `yaml:"retry_attempts"`
	RetryDelay      *string  `yaml:"retry_delay"`
	PingInterval    *string  `yaml:"ping_interval"`
	ReconnectDelay  *string  `yaml:"reconnect_delay"`
	ReconnectBudget *int     `yaml:"reconnect_budget"`

	MaxUploadBytes    *int64 `yaml:"max_upload_bytes"`
	UploadParallelism *int64 `yaml:"upload_parallelism"`

	MetricsPort *string `yaml:"metrics_port"`
}

// ApplyFile overlays values from a YAML file onto the loaded configuration.
// Keys absent from the file keep their current values.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.LogLevel, file.LogLevel)
	setString(&c.APIBaseURL, file.APIBaseURL)
	setString(&c.EventsURL, file.EventsURL)
	setString(&c.MetricsPort, file.MetricsPort)

	if file.RequestRate != nil {
		c.RequestRate = *file.RequestRate
	}
	if file.RequestBurst != nil {
		c.RequestBurst = *file.RequestBurst
	}
	if file.RetryAttempts != nil {
		c.RetryAttempts = *file.RetryAttempts
	}
	if file.ReconnectBudget != nil {
		c.ReconnectBudget = *file.ReconnectBudget
	}
	if file.MaxUploadBytes != nil {
		c.MaxUploadBytes = *file.MaxUploadBytes
	}
	if file.UploadParallelism != nil {
		c.UploadParallelism = *file.UploadParallelism
	}

	if err := setDuration(&c.HTTPTimeout, file.HTTPTimeout, "http_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.RetryDelay, file.RetryDelay, "retry_delay"); err != nil {
		return err
	}
	if err := setDuration(&c.PingInterval, file.PingInterval, "ping_interval"); err != nil {
		return err
	}
	if err := setDuration(&c.ReconnectDelay, file.ReconnectDelay, "reconnect_delay"); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string, key string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func mustEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
