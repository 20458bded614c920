package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	DatabaseURL string `json:"databaseUrl"`

	// Миграции
	DefaultTenantID    int64 `json:"defaultTenantId"`
	StepTimeoutSeconds int   `json:"stepTimeoutSeconds"`
	AdvisoryLockKey    int64 `json:"advisoryLockKey"`
	FailClosed         bool  `json:"failClosed"`

	// Диагностический HTTP
	Port     string `json:"port"`
	LogLevel string `json:"logLevel"`
}

func def() Config {
	return Config{
		DatabaseURL:        "",
		DefaultTenantID:    0,
		StepTimeoutSeconds: 120,
		AdvisoryLockKey:    0,
		FailClosed:         true,

		Port:     "8080",
		LogLevel: "info",
	}
}

func loadJSON(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

func getenvInt64(k string, fallback int64) int64 {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// Load: дефолты → JSON (если SIGE_CONFIG указывает на файл) → ENV.
// Флаги команд накладываются уже поверх, в cmd/.
func Load() Config {
	cfg := def()

	if path := strings.TrimSpace(os.Getenv("SIGE_CONFIG")); path != "" {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			if c2, err := loadJSON(path); err == nil {
				cfg = c2
			}
		}
	}

	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DefaultTenantID = getenvInt64("MIGRATION_DEFAULT_TENANT_ID", cfg.DefaultTenantID)
	cfg.StepTimeoutSeconds = int(getenvInt64("MIGRATION_STEP_TIMEOUT_SECONDS", int64(cfg.StepTimeoutSeconds)))
	cfg.AdvisoryLockKey = getenvInt64("MIGRATION_ADVISORY_LOCK_KEY", cfg.AdvisoryLockKey)
	cfg.FailClosed = getenvBool("MIGRATION_FAIL_CLOSED", cfg.FailClosed)

	cfg.Port = getenv("SIGE_PORT", cfg.Port)
	cfg.LogLevel = getenv("SIGE_LOG_LEVEL", cfg.LogLevel)

	return cfg
}
