package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Shared state (cache, quota, stats)
	RedisAddr string

	// Upstream provider
	AnthropicAPIKey  string
	AnthropicBaseURL string // default: https://api.anthropic.com/v1
	ProviderTimeout  time.Duration

	// Cost control
	DailyQuotaUSD   float64 // per user, default: 1.00
	CacheTTL        time.Duration
	MaxPayloadBytes int // serialized request data ceiling, default: 100000

	// Input/output safety
	BlockedPhrases   []string
	BlockedFunctions []string

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate limiting
	DefaultRateLimitRPM int64 // requests per minute, default: 60
}

// Prompt-injection and code-injection fragments rejected on any task.
var defaultBlockedPhrases = []string{
	"ignore previous",
	"ignore all",
	"system prompt",
	"delete from",
	"drop table",
	"drop database",
	"<script>",
	"javascript:",
	"eval(",
	"exec(",
}

// Spreadsheet functions the formula task must never emit.
var defaultBlockedFunctions = []string{
	"EXECUTE",
	"EVAL",
	"IMPORTXML",
	"IMPORTHTML",
	"IMPORTDATA",
	"WEBSERVICE",
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		AnthropicAPIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL:     getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		BlockedPhrases:       getEnvList("BLOCKED_PHRASES", defaultBlockedPhrases),
		BlockedFunctions:     getEnvList("BLOCKED_FUNCTIONS", defaultBlockedFunctions),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.DailyQuotaUSD, err = getEnvFloat("DAILY_QUOTA_USD", 1.00); err != nil {
		return nil, err
	}
	if cfg.MaxPayloadBytes, err = getEnvInt("MAX_PAYLOAD_BYTES", 100000); err != nil {
		return nil, err
	}

	ttlSec, err := getEnvInt("CACHE_TTL_SECONDS", 3600)
	if err != nil {
		return nil, err
	}
	cfg.CacheTTL = time.Duration(ttlSec) * time.Second

	timeoutSec, err := getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)
	if err != nil {
		return nil, err
	}
	cfg.ProviderTimeout = time.Duration(timeoutSec) * time.Second

	rpm, err := getEnvInt("DEFAULT_RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, err
	}
	cfg.DefaultRateLimitRPM = int64(rpm)

	// Validation
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
