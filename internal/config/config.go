// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// RateLimit содержит параметры ограничения частоты запросов.
type RateLimit struct {
	Enabled        bool          `env:"ENABLED" envDefault:"false"`
	Prefix         string        `env:"PREFIX" envDefault:"movemeal:rl"`
	Capacity       int           `env:"CAPACITY" envDefault:"60"`
	RefillTokens   int           `env:"REFILL_TOKENS" envDefault:"1"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1s"`
	TTL            time.Duration `env:"TTL" envDefault:"10m"`
	KeyStrategy    string        `env:"KEY_STRATEGY" envDefault:"ip_user_route"`
}

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	GeoSearchAddress string `env:"GEO_SEARCH_ADDRESS"`

	AuthSecret string        `env:"AUTH_SECRET"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" envDefault:"168h"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LockTimeout     time.Duration `env:"LOCK_TIMEOUT" envDefault:"5s"`
	LockTTL         time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	MutationRetries int           `env:"MUTATION_RETRIES" envDefault:"3"`
	CodeLength      int           `env:"CODE_LENGTH" envDefault:"4"`

	AMQPURL      string   `env:"AMQP_URL"`
	AMQPExchange string   `env:"AMQP_EXCHANGE" envDefault:"movemeal.events"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"movemeal.events"`

	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	MailFrom       string `env:"MAIL_FROM" envDefault:"noreply@movemeal.local"`

	NotifyWorkers     int `env:"NOTIFY_WORKERS" envDefault:"4"`
	NotifyQueueSize   int `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`
	NotifyMaxAttempts int `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"3"`

	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
}

// Parse считывает конфигурацию из файла .env, переменных окружения и флагов
// командной строки. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGeoAddress := cfg.GeoSearchAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GeoSearchAddress, "g", "", "geo search service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGeoAddress != "" {
		cfg.GeoSearchAddress = envGeoAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	if c.CodeLength < 2 || c.CodeLength > 9 {
		return fmt.Errorf("CODE_LENGTH must be between 2 and 9, got %d", c.CodeLength)
	}
	if c.MutationRetries < 1 {
		return fmt.Errorf("MUTATION_RETRIES must be positive, got %d", c.MutationRetries)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive, got %s", c.LockTimeout)
	}
	if c.LockTTL < c.LockTimeout {
		return fmt.Errorf("LOCK_TTL %s must not be shorter than LOCK_TIMEOUT %s", c.LockTTL, c.LockTimeout)
	}
	if c.NotifyWorkers < 1 || c.NotifyMaxAttempts < 1 {
		return fmt.Errorf("NOTIFY_WORKERS and NOTIFY_MAX_ATTEMPTS must be positive")
	}
	return nil
}
