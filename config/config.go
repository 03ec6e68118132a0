package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Deadline configuration
	PaymentDeadline    time.Duration
	RefundWindow       time.Duration
	PayoutSafetyWindow time.Duration
	ReviewPromptDelay  time.Duration
	DefaultCurrency    string

	// Payout batch configuration
	PayoutCron       string
	ReaperCron       string
	PayoutBatchLimit int
	PayoutWorkers    int
	PayoutLockTTL    time.Duration
	PayoutClaimTTL   time.Duration

	// Payment gateway configuration
	Gateway GatewayConfig

	// Rate limiting of reservation endpoints, active when Redis is configured
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Monitoring
	EnableMetrics   bool
	MetricsInterval time.Duration
}

// GatewayConfig is empty BaseURL when the simulated gateway should be used.
type GatewayConfig struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	HMACKey    string
	Timeout    time.Duration
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Deadlines
		PaymentDeadline:    getEnvAsDuration("PAYMENT_DEADLINE", "24h"),
		RefundWindow:       getEnvAsDuration("REFUND_WINDOW", "24h"),
		PayoutSafetyWindow: getEnvAsDuration("PAYOUT_SAFETY_WINDOW", "24h"),
		ReviewPromptDelay:  getEnvAsDuration("REVIEW_PROMPT_DELAY", "1h"),
		DefaultCurrency:    getEnv("DEFAULT_CURRENCY", "MAD"),

		// Payout batch
		PayoutCron:       getEnv("PAYOUT_CRON", "*/10 * * * *"),
		ReaperCron:       getEnv("REAPER_CRON", "*/15 * * * *"),
		PayoutBatchLimit: getEnvAsInt("PAYOUT_BATCH_LIMIT", 100),
		PayoutWorkers:    getEnvAsInt("PAYOUT_WORKERS", 4),
		PayoutLockTTL:    getEnvAsDuration("PAYOUT_LOCK_TTL", "2m"),
		PayoutClaimTTL:   getEnvAsDuration("PAYOUT_CLAIM_TTL", "10m"),

		// Gateway
		Gateway: GatewayConfig{
			BaseURL:    getEnv("GATEWAY_URL", ""),
			MerchantID: getEnv("GATEWAY_MERCHANT_ID", ""),
			APIKey:     getEnv("GATEWAY_API_KEY", ""),
			HMACKey:    getEnv("GATEWAY_HMAC_KEY", ""),
			Timeout:    getEnvAsDuration("GATEWAY_TIMEOUT", "15s"),
		},

		// Rate limiting
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getEnvAsDuration("RATE_LIMIT_WINDOW", "1m"),

		// Monitoring
		EnableMetrics:   getEnvAsBool("ENABLE_METRICS", true),
		MetricsInterval: getEnvAsDuration("METRICS_INTERVAL", "30s"),
	}
}

// PubNubEnabled reports whether notifications go to PubNub instead of the log.
func (c *Config) PubNubEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
