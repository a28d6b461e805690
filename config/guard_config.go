package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique consumer name using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "phishguard"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Scoring service
	ScoringAPIURL       string
	ScoringTimeout      time.Duration
	ScoringMaxTextRunes int
	ScoringMaxURLs      int
	ExplanationLimit    int

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// Verdict log
	VerdictLogRetention time.Duration

	// Stream
	StreamName    string
	ConsumerGroup string

	// Worker
	WorkerID      string
	WorkerMax     int
	WorkerTimeout time.Duration

	// Consumer (Redis Stream)
	ConsumerBatchSize       int
	ConsumerBlockMS         int
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int

	// Rescan
	RescanInterval   time.Duration
	RescanMaxTracked int

	// API
	JWTSecret       string
	AllowedOrigins  []string
	RateLimit       int
	RateLimitWindow time.Duration
	WaitTimeout     time.Duration

	// Settings defaults
	DefaultEnabled       bool
	DefaultNotifications bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Scoring service
		ScoringAPIURL:       strings.TrimRight(getEnv("SCORING_API_URL", "http://localhost:5000"), "/"),
		ScoringTimeout:      time.Duration(getEnvInt("SCORING_TIMEOUT_SEC", 12)) * time.Second,
		ScoringMaxTextRunes: getEnvInt("SCORING_MAX_TEXT_RUNES", 5000),
		ScoringMaxURLs:      getEnvInt("SCORING_MAX_URLS", 50),
		ExplanationLimit:    getEnvInt("EXPLANATION_LIMIT", 5),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "phishguard"),
		RedisURL:    getEnv("REDIS_URL", ""),

		VerdictLogRetention: time.Duration(getEnvInt("VERDICT_LOG_RETENTION_DAYS", 30)) * 24 * time.Hour,

		// Stream
		StreamName:    getEnv("STREAM_NAME", "content:events"),
		ConsumerGroup: getEnv("CONSUMER_GROUP", "phishguard"),

		// Worker
		WorkerID:      getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:     getEnvInt("WORKER_MAX", 8),
		WorkerTimeout: time.Duration(getEnvInt("WORKER_TIMEOUT_SEC", 30)) * time.Second,

		// Consumer
		ConsumerBatchSize:       getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:         getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 30),

		// Rescan
		RescanInterval:   time.Duration(getEnvInt("RESCAN_INTERVAL_SEC", 60)) * time.Second,
		RescanMaxTracked: getEnvInt("RESCAN_MAX_TRACKED", 5000),

		// API
		JWTSecret:       getEnv("API_JWT_SECRET", ""),
		AllowedOrigins:  getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		RateLimit:       getEnvInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitWindow: time.Minute,
		WaitTimeout:     time.Duration(getEnvInt("WAIT_TIMEOUT_SEC", 15)) * time.Second,

		// Settings defaults
		DefaultEnabled:       getEnvBool("DEFAULT_ENABLED", true),
		DefaultNotifications: getEnvBool("DEFAULT_NOTIFICATIONS", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ScoringAPIURL == "" {
		return fmt.Errorf("config: SCORING_API_URL is required")
	}
	if c.ScoringTimeout <= 0 {
		return fmt.Errorf("config: SCORING_TIMEOUT_SEC must be positive")
	}
	if c.WorkerMax <= 0 {
		return fmt.Errorf("config: WORKER_MAX must be positive")
	}
	if c.RescanInterval < 0 {
		c.RescanInterval = 0
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// StreamsEnabled reports whether Redis Streams are configured.
func (c *Config) StreamsEnabled() bool {
	return c.RedisURL != ""
}
