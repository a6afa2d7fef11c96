// Package config reads the service settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mtr002/docjobs/internal/db"
	"github.com/mtr002/docjobs/internal/notify"
)

const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Config holds the settings of every docjobs command
type Config struct {
	ServiceName string
	LogLevel    string
	HTTPPort    string
	CORSOrigins []string

	// Store
	StoreDriver string
	Database    db.Config
	RedisURL    string
	RedisPrefix string

	// NATS
	UseNATS bool
	NATSURL string

	// Jobs
	NotificationTTL time.Duration
	MaxWorkers      int

	// Remote endpoints
	RemoteBaseURL  string
	ProviderURLs   map[string]string // model prefix -> base URL
	RemoteAPIKey   string
	RequestTimeout time.Duration
}

// Load reads the environment, after loading .env from the working directory
// or its parent when present.
func Load() (*Config, error) {
	loadEnvFile()

	providers, err := parseProviders(os.Getenv("PROVIDER_URLS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "docjobs"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPPort:    getEnv("PORT", "8080"),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"*"}),

		StoreDriver: getEnv("STORE_DRIVER", StorePostgres),
		Database:    db.DefaultConfig(),
		RedisURL:    getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		RedisPrefix: getEnv("REDIS_PREFIX", "docjobs:"),

		UseNATS: getEnvAsBool("USE_NATS", false),
		NATSURL: getEnv("NATS_URL", "nats://127.0.0.1:4222"),

		NotificationTTL: getEnvAsDuration("NOTIFICATION_TTL", notify.DefaultTTL),
		MaxWorkers:      getEnvAsInt("MAX_WORKERS", 0),

		RemoteBaseURL:  getEnv("REMOTE_BASE_URL", "http://127.0.0.1:9000"),
		ProviderURLs:   providers,
		RemoteAPIKey:   getEnv("REMOTE_API_KEY", ""),
		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}
	_ = godotenv.Load(filepath.Join(parent, ".env"))
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StorePostgres, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, redis or memory, got %q", c.StoreDriver)
	}
	if c.StoreDriver == StoreRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when STORE_DRIVER is redis")
	}
	if c.UseNATS && c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required when USE_NATS is set")
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("MAX_WORKERS cannot be negative")
	}
	if c.NotificationTTL <= 0 {
		return fmt.Errorf("NOTIFICATION_TTL must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT cannot be negative")
	}
	if err := checkURL("REMOTE_BASE_URL", c.RemoteBaseURL); err != nil {
		return err
	}
	for prefix, u := range c.ProviderURLs {
		if err := checkURL("PROVIDER_URLS["+prefix+"]", u); err != nil {
			return err
		}
	}
	return nil
}

func checkURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}

// parseProviders reads "prefix=url,prefix=url".
func parseProviders(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, u, ok := strings.Cut(entry, "=")
		prefix, u = strings.TrimSpace(prefix), strings.TrimSpace(u)
		if !ok || prefix == "" || u == "" {
			return nil, fmt.Errorf("invalid PROVIDER_URLS entry %q, want prefix=url", entry)
		}
		out[prefix] = u
	}
	return out, nil
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvAsDuration accepts Go durations ("8s") or whole seconds ("8").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
