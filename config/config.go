// Package config загружает конфигурацию движка из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля
// структуры; .env подхватывается в main через godotenv.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит все настройки приложения.
type Config struct {
	// --- Application ---
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppLogLevel     string        `envconfig:"APP_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"15s"`

	// --- HTTP (метрики и health) ---
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":9090"`

	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно:
	// дефолт - имя сервиса в docker-compose.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" default:"progression"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// --- Redis ---
	RedisHost     string `envconfig:"REDIS_HOST" default:"redis"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisDisabled bool   `envconfig:"REDIS_DISABLED" default:"false"`

	// --- Event dispatch ---
	DispatchShards     int           `envconfig:"DISPATCH_SHARDS" default:"8"`
	DispatchQueueSize  int           `envconfig:"DISPATCH_QUEUE_SIZE" default:"256"`
	DispatchMaxRetries int           `envconfig:"DISPATCH_MAX_RETRIES" default:"3"`
	DispatchBackoff    time.Duration `envconfig:"DISPATCH_BACKOFF" default:"100ms"`

	// --- Scheduler ---
	// Границы дня серий - UTC, поэтому и расписания по умолчанию в UTC.
	SchedulerTimezone   string        `envconfig:"SCHEDULER_TIMEZONE" default:"UTC"`
	SchedulerJobTimeout time.Duration `envconfig:"SCHEDULER_JOB_TIMEOUT" default:"5m"`
	// Пересчёт серий сразу после полуночи: заморозка и автосброс
	// должны происходить без действий пользователя.
	RecomputeCronSpec string `envconfig:"RECOMPUTE_CRON_SPEC" default:"5 0 * * *"`
	CleanupCronSpec   string `envconfig:"CLEANUP_CRON_SPEC" default:"30 3 * * 0"`

	// --- Caching ---
	ProjectionTTL time.Duration `envconfig:"PROJECTION_TTL" default:"5m"`
	LevelCacheTTL time.Duration `envconfig:"LEVEL_CACHE_TTL" default:"10m"`
}

// Validate проверяет согласованность настроек.
func (c *Config) Validate() error {
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
	}
	if c.DispatchShards <= 0 {
		return fmt.Errorf("DISPATCH_SHARDS должен быть > 0")
	}
	if c.DispatchQueueSize <= 0 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE должен быть > 0")
	}
	if c.ProjectionTTL <= 0 || c.LevelCacheTTL <= 0 {
		return fmt.Errorf("TTL кэшей должны быть > 0")
	}
	return nil
}

// LogLevel возвращает уровень логирования slog.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.AppLogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction сообщает, запущено ли приложение в production.
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.AppEnv) == "production"
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
