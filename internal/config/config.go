// Package config centralises configuration parsing for the activity board.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"example.com/activityboard/internal/domain"
)

// Config captures runtime configuration values for the activity board binaries.
type Config struct {
	HTTPAddress     string
	MetricsAddress  string
	PostgresURL     string // Empty selects the in-memory store.
	AutoMigrate     bool
	KafkaBrokers    []string
	ConsumerGroupID string
	ConsumerTopics  []string
	EventsTopic     string
	JWTSecret       string
	JWTIssuer       string
	ModulePath      string
	ModuleURL       string
	ModuleDataDir   string
	LoadMaxAttempts int           // Attempts per Load, first attempt included.
	LoadBaseDelay   time.Duration // Initial backoff between attempts.
	TableID         string
	AthleteConfig   string
	LogLevel        string
	WindowDays      int // Trailing window shown in tables and used for CTL.

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	DLQPollInterval    time.Duration
	DLQMaxRetries      int
	DLQBaseDelay       time.Duration
}

// Load reads environment variables into Config, applying sensible defaults for local dev.
// Variables from ENV_FILE (default .env) fill in anything not already set.
func Load() Config {
	_ = godotenv.Load(getEnv("ENV_FILE", ".env"))

	cfg := Config{
		HTTPAddress:     getEnv("HTTP_ADDRESS", ":8080"),
		MetricsAddress:  getEnv("METRICS_ADDRESS", ":9102"),
		PostgresURL:     getEnv("POSTGRES_URL", ""),
		AutoMigrate:     getBoolEnv("AUTO_MIGRATE", true),
		ConsumerGroupID: getEnv("CONSUMER_GROUP_ID", "activityboard-ingest"),
		EventsTopic:     getEnv("EVENTS_TOPIC", "activity.recorded"),
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:       getEnv("JWT_ISSUER", "activityboard.identity"),
		ModulePath:      getEnv("MODULE_PATH", ""),
		ModuleURL:       getEnv("MODULE_URL", ""),
		ModuleDataDir:   getEnv("MODULE_DATA_DIR", ""),
		LoadMaxAttempts: getIntEnv("LOAD_MAX_ATTEMPTS", 3),
		LoadBaseDelay:   getDurationEnv("LOAD_BASE_DELAY", 500*time.Millisecond),
		TableID:         getEnv("TABLE_ID", "activities-table"),
		AthleteConfig:   getEnv("ATHLETE_CONFIG", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		WindowDays:      getIntEnv("WINDOW_DAYS", 42),

		OutboxPollInterval: getDurationEnv("OUTBOX_POLL_INTERVAL", time.Second),
		OutboxBatchSize:    getIntEnv("OUTBOX_BATCH_SIZE", 50),
		DLQPollInterval:    getDurationEnv("DLQ_POLL_INTERVAL", 30*time.Second),
		DLQMaxRetries:      getIntEnv("DLQ_MAX_RETRIES", 5),
		DLQBaseDelay:       getDurationEnv("DLQ_BASE_DELAY", time.Minute),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", ""))
	cfg.ConsumerTopics = splitAndTrim(getEnv("CONSUMER_TOPICS", "activity.imported"))
	return cfg
}

// DefaultThresholds are used when no athlete file is configured.
var DefaultThresholds = domain.Thresholds{Run: 165, Ride: 160, Swim: 150}

type athleteFile struct {
	Athlete struct {
		Run struct {
			ThresholdHR float64 `yaml:"threshold_hr"`
		} `yaml:"run"`
		Ride struct {
			ThresholdHR float64 `yaml:"threshold_hr"`
		} `yaml:"ride"`
		Swim struct {
			ThresholdHR float64 `yaml:"threshold_hr"`
		} `yaml:"swim"`
	} `yaml:"athlete"`
}

// LoadThresholds reads threshold heart rates from a YAML athlete file. An empty
// path yields DefaultThresholds; sports missing from the file keep their default.
func LoadThresholds(path string) (domain.Thresholds, error) {
	if path == "" {
		return DefaultThresholds, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Thresholds{}, fmt.Errorf("read athlete config: %w", err)
	}

	var file athleteFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return domain.Thresholds{}, fmt.Errorf("decode athlete config: %w", err)
	}

	thresholds := DefaultThresholds
	if v := file.Athlete.Run.ThresholdHR; v > 0 {
		thresholds.Run = v
	}
	if v := file.Athlete.Ride.ThresholdHR; v > 0 {
		thresholds.Ride = v
	}
	if v := file.Athlete.Swim.ThresholdHR; v > 0 {
		thresholds.Swim = v
	}
	return thresholds, nil
}

// NewLogger builds the process logger at the configured level.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("unknown log level, using info")
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
