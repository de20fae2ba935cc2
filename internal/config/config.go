// Package config читает настройки сервиса из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config - настройки сервиса
type Config struct {
	// DatabaseDriver - postgres или sqlite
	DatabaseDriver  string        `env:"DATABASE_DRIVER" envDefault:"postgres"`
	PostgresConn    string        `env:"POSTGRES_CONN"`
	SQLitePath      string        `env:"SQLITE_PATH" envDefault:"issueflow.db"`
	ServerAddress   string        `env:"SERVER_ADDRESS" envDefault:"0.0.0.0:8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	TaxonomyFile    string        `env:"AREA_TAXONOMY_FILE" envDefault:"config/taxonomy.yaml"`
	TxMaxRetries    uint64        `env:"TX_MAX_RETRIES" envDefault:"3"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"true"`
}

// Load читает и проверяет настройки.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres":
		if c.PostgresConn == "" {
			return fmt.Errorf("POSTGRES_CONN env variable is not set")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH env variable is not set")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	return nil
}

// DSN - строка подключения для выбранного драйвера.
func (c Config) DSN() string {
	if c.DatabaseDriver == "sqlite" {
		return c.SQLitePath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	return c.PostgresConn
}
