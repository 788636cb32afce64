package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"engagement-gateway/internal/engagement"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// JWT (verification only, tokens are issued elsewhere)
	JWTSecret string

	// Analytics backend
	AnalyticsBaseURL  string
	AnalyticsTimeout  time.Duration
	DispatchWorkers   int
	DispatchQueueSize int

	// Redis (optional, enables live session notifications)
	RedisURL string

	// Tracking tunables
	SanityCeiling         time.Duration
	ReportWindow          time.Duration
	ReportPositionStep    time.Duration
	CompletionTolerance   time.Duration
	HeartbeatInterval     time.Duration
	ExternalFlushInterval time.Duration

	// Viewer endpoint
	ViewRateLimit int

	// Telemetry
	OTelEnabled      bool
	OTelExporter     string
	OTelEndpoint     string
	OTelSamplingRate float64

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:     getEnvOrDefault("PORT", "8080"),
		Env:      getEnvOrDefault("ENV", "development"),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),

		JWTSecret: mustGetEnv("JWT_SECRET"),

		AnalyticsBaseURL:  mustGetEnv("ANALYTICS_BASE_URL"),
		AnalyticsTimeout:  getEnvAsDurationOrDefault("ANALYTICS_TIMEOUT", 10*time.Second),
		DispatchWorkers:   getEnvAsIntOrDefault("DISPATCH_WORKERS", 4),
		DispatchQueueSize: getEnvAsIntOrDefault("DISPATCH_QUEUE_SIZE", 256),

		RedisURL: getEnvOrDefault("REDIS_URL", ""),

		SanityCeiling:         getEnvAsDurationOrDefault("TRACK_SANITY_CEILING", 15*time.Second),
		ReportWindow:          getEnvAsDurationOrDefault("TRACK_REPORT_WINDOW", 10*time.Second),
		ReportPositionStep:    getEnvAsDurationOrDefault("TRACK_REPORT_POSITION_STEP", 5*time.Second),
		CompletionTolerance:   getEnvAsDurationOrDefault("TRACK_COMPLETION_TOLERANCE", time.Second),
		HeartbeatInterval:     getEnvAsDurationOrDefault("TRACK_HEARTBEAT_INTERVAL", 10*time.Second),
		ExternalFlushInterval: getEnvAsDurationOrDefault("TRACK_EXTERNAL_FLUSH_INTERVAL", 30*time.Second),

		ViewRateLimit: getEnvAsIntOrDefault("VIEW_RATE_LIMIT", 60),

		OTelEnabled:      getEnvAsBoolOrDefault("OTEL_ENABLED", false),
		OTelExporter:     getEnvOrDefault("OTEL_EXPORTER", "http"),
		OTelEndpoint:     getEnvOrDefault("OTEL_ENDPOINT", "localhost:4318"),
		OTelSamplingRate: getEnvAsFloatOrDefault("OTEL_SAMPLING_RATE", 1.0),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// Tracking returns the engine tunables.
func (c *Config) Tracking() engagement.Config {
	return engagement.Config{
		SanityCeiling:         c.SanityCeiling,
		ReportWindow:          c.ReportWindow,
		ReportPositionStep:    c.ReportPositionStep,
		CompletionTolerance:   c.CompletionTolerance,
		HeartbeatInterval:     c.HeartbeatInterval,
		ExternalFlushInterval: c.ExternalFlushInterval,
	}
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsBoolOrDefault(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvAsDurationOrDefault accepts Go durations ("15s") or bare seconds ("15").
func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
