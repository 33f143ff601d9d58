package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" envDefault:"development"`
	Port      string `env:"PORT" envDefault:"8080"`
	APIPrefix string `env:"API_PREFIX" envDefault:"/make-server-233aa38f"`
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	KVBackend     string `env:"KV_BACKEND" envDefault:"mongo"`
	MongoURI      string `env:"MONGODB_URI"`
	DBName        string `env:"DB_NAME" envDefault:"simats_hub"`
	KVCollection  string `env:"KV_COLLECTION" envDefault:"kv_store"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	PostgresDSN   string `env:"POSTGRES_DSN"`

	// Listing snapshot lifetime. The snapshot is only flushed by posts made
	// through the same process, so with several replicas or other writers
	// listings can lag the store by up to this long. 0 disables it.
	FeedbackCacheTTL time.Duration `env:"FEEDBACK_CACHE_TTL" envDefault:"0s"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	ResendAPIKey string   `env:"RESEND_API_KEY"`
	FromEmail    string   `env:"FROM_EMAIL" envDefault:"SIMATS Hub <onboarding@resend.dev>"`
	NotifyEmail  []string `env:"NOTIFY_EMAIL" envSeparator:","`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// empty means "on unless production"
	ExposeErrorDetailsRaw string `env:"EXPOSE_ERROR_DETAILS"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.KVBackend {
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI is required when KV_BACKEND=mongo")
		}
		if c.DBName == "" || c.KVCollection == "" {
			return errors.New("DB_NAME and KV_COLLECTION must not be empty")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when KV_BACKEND=redis")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when KV_BACKEND=postgres")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown KV_BACKEND %q (want mongo, redis, postgres or memory)", c.KVBackend)
	}

	if c.ExposeErrorDetailsRaw != "" {
		if _, err := strconv.ParseBool(c.ExposeErrorDetailsRaw); err != nil {
			return fmt.Errorf("EXPOSE_ERROR_DETAILS: %w", err)
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// ExposeErrorDetails reports whether 500 responses carry the underlying error.
func (c *Config) ExposeErrorDetails() bool {
	if v, err := strconv.ParseBool(c.ExposeErrorDetailsRaw); err == nil {
		return v
	}
	return !c.IsProduction()
}

// NotificationsEnabled reports whether new feedback should be mailed out.
func (c *Config) NotificationsEnabled() bool {
	return c.ResendAPIKey != "" && len(c.NotifyEmail) > 0
}
