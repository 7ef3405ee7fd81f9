package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Audit subsystem
	AuditEnabled       bool
	AuditQueueSize     int
	AuditBatchSize     int
	AuditLinger        time.Duration
	AuditRetryDelay    time.Duration
	AuditMinSeverity   string
	AuditRetentionDays int
	AuditRedactFields  []string

	// Scheduling
	DoctorPolicy string

	// Payments / checkout gateway
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeDryRun        bool
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	Currency            string

	// HTTP surface
	RateLimitPerMinute int
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AuditEnabled:       getEnvAsBool("AUDIT_ENABLED", true),
		AuditQueueSize:     getEnvAsInt("AUDIT_QUEUE_SIZE", 512),
		AuditBatchSize:     getEnvAsInt("AUDIT_BATCH_SIZE", 50),
		AuditLinger:        getEnvAsDuration("AUDIT_LINGER", 500*time.Millisecond),
		AuditRetryDelay:    getEnvAsDuration("AUDIT_RETRY_DELAY", time.Second),
		AuditMinSeverity:   strings.ToLower(strings.TrimSpace(getEnv("AUDIT_MIN_SEVERITY", "info"))),
		AuditRetentionDays: getEnvAsInt("AUDIT_RETENTION_DAYS", 0),
		AuditRedactFields:  getEnvAsList("AUDIT_REDACT_FIELDS", nil),

		DoctorPolicy: strings.ToLower(strings.TrimSpace(getEnv("DOCTOR_POLICY", "random"))),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeDryRun:        getEnvAsBool("STRIPE_DRY_RUN", false),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", ""),
		Currency:            strings.ToLower(getEnv("CURRENCY", "usd")),

		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
	}
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer with a fallback default
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

// getEnvAsBool retrieves an environment variable as a boolean with a fallback default
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration with a fallback default
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList retrieves a comma-separated environment variable as a slice
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
