package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN,required"`
	AdminUserID      int64  `env:"ADMIN_USER"`

	// Storage. Empty DATABASE_URL runs on the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`

	// Sessions. Empty REDIS_URL keeps sessions in process memory.
	RedisURL   string        `env:"REDIS_URL"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"30m"`

	LegitCheckTTL time.Duration `env:"LEGIT_CHECK_TTL" envDefault:"72h"`

	// Transport
	Workers        int     `env:"WORKERS" envDefault:"8"`
	SendRatePerSec float64 `env:"SEND_RATE_PER_SEC" envDefault:"25"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	AuditLogPath string `env:"AUDIT_LOG_PATH" envDefault:"logs/audit.jsonl"`

	// Logging
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`
	LogOutputPath string `env:"LOG_OUTPUT_PATH"`
}

func New() *Config {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}

// Parse reads the configuration from the environment without exiting on error.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}
