package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config carries process-level settings. Provider credentials live in the
// payment_providers table, not here.
type Config struct {
	Environment string
	HTTPAddr    string
	DatabaseDSN string

	// Base URL webhooks are delivered to; passed to providers as the
	// ipn_callback_url.
	CallbackBaseURL string

	// Webhook endpoints are rate limited per provider id.
	WebhookRateLimit  int
	WebhookRateWindow time.Duration

	TracingEnabled   bool
	TracingEndpoint  string
	TracingProtocol  string
	TracingSampling  float64
	ServiceName      string
	ServiceVersion   string
	ExtraDataCacheTTL time.Duration
}

// Load reads configuration from the environment. A .env file is honored for
// local development and ignored when absent.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN:       getEnv("DATABASE_DSN", ""),
		CallbackBaseURL:   getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
		WebhookRateLimit:  getEnvInt("WEBHOOK_RATE_LIMIT", 60),
		WebhookRateWindow: getEnvDuration("WEBHOOK_RATE_WINDOW", time.Minute),
		TracingEnabled:    getEnvBool("TRACING_ENABLED", false),
		TracingEndpoint:   getEnv("TRACING_ENDPOINT", ""),
		TracingProtocol:   getEnv("TRACING_PROTOCOL", "grpc"),
		TracingSampling:   getEnvFloat("TRACING_SAMPLING_RATIO", 1),
		ServiceName:       getEnv("SERVICE_NAME", "external-payment"),
		ServiceVersion:    getEnv("SERVICE_VERSION", "dev"),
		ExtraDataCacheTTL: getEnvDuration("EXTRA_DATA_CACHE_TTL", 5*time.Minute),
	}
}

// IsProduction reports whether the process runs in production mode.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvFloat(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return value
}
