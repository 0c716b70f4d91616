package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the bootstrap configuration loaded from the environment.
// Runtime trading thresholds live in the persisted settings record instead.
type Config struct {
	// Broker gateway
	BrokerBaseURL string
	BrokerTimeout time.Duration

	// Analysis service
	AnalysisBaseURL string
	AnalysisTimeout time.Duration

	// HTTP surface
	ListenAddr string

	// Database
	DBPath string

	// EOD close
	VenueTimeZone string
	EODCutoffHour int
	EODCutoffMin  int

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string

	cfg.BrokerBaseURL = getEnv("BROKER_BASE_URL", "")
	if cfg.BrokerBaseURL == "" {
		errs = append(errs, "BROKER_BASE_URL must be set")
	}

	brokerTimeoutSeconds := getEnvAsInt("BROKER_TIMEOUT_SECONDS", 15)
	if brokerTimeoutSeconds <= 0 {
		errs = append(errs, "BROKER_TIMEOUT_SECONDS must be positive")
	}
	cfg.BrokerTimeout = time.Duration(brokerTimeoutSeconds) * time.Second

	cfg.AnalysisBaseURL = getEnv("ANALYSIS_BASE_URL", "")
	if cfg.AnalysisBaseURL == "" {
		errs = append(errs, "ANALYSIS_BASE_URL must be set")
	}

	analysisTimeoutSeconds := getEnvAsInt("ANALYSIS_TIMEOUT_SECONDS", 30)
	if analysisTimeoutSeconds <= 0 {
		errs = append(errs, "ANALYSIS_TIMEOUT_SECONDS must be positive")
	}
	cfg.AnalysisTimeout = time.Duration(analysisTimeoutSeconds) * time.Second

	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	cfg.DBPath = getEnv("DB_PATH", "./data/autotrader.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.VenueTimeZone = getEnv("VENUE_TIMEZONE", "America/New_York")
	if _, err := time.LoadLocation(cfg.VenueTimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("invalid VENUE_TIMEZONE: %v", err))
	}

	cfg.EODCutoffHour = getEnvAsInt("EOD_CUTOFF_HOUR", 15)
	cfg.EODCutoffMin = getEnvAsInt("EOD_CUTOFF_MIN", 55)
	if cfg.EODCutoffHour < 0 || cfg.EODCutoffHour > 23 || cfg.EODCutoffMin < 0 || cfg.EODCutoffMin > 59 {
		errs = append(errs, "EOD cutoff must be a valid wall-clock time")
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
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
