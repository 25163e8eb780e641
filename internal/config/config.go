package config

import (
	"fmt"
	"os"
	"time"

	"schulte-trainer/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	APIBaseURL        string
	DBPath            string
	ServerPort        string
	LogLevel          string
	SyncRetryInterval time.Duration
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		APIBaseURL:        getEnv("API_BASE_URL", "http://localhost:8000"),
		DBPath:            getEnv("DB_PATH", "schulte.db"),
		ServerPort:        getEnv("SERVER_PORT", "8090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SyncRetryInterval: constants.SyncRetryInterval,
	}

	if raw := os.Getenv("SYNC_RETRY_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SYNC_RETRY_INTERVAL %q: %w", raw, err)
		}
		cfg.SyncRetryInterval = d
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}

	logger.Info().
		Str("api_base_url", cfg.APIBaseURL).
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("sync_retry_interval", cfg.SyncRetryInterval).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var Module = fx.Provide(Load)
