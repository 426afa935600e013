package config

import (
	"os"
	"strconv"
	"time"

	"ticket-ledger/internal/settle"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Ledger configuration
	LedgerURL     string
	LedgerAPIKey  string
	LedgerTimeout time.Duration

	// Identity configuration
	AdminAddress    string
	PlatformAddress string

	// JWT configuration for validator device tokens
	JWTSecret string
	JWTExpiry time.Duration

	// Payment session configuration
	SessionDeadline time.Duration
	PollInterval    time.Duration
	CountdownTick   time.Duration

	// Rate limiting
	RedeemPerMinute  int
	SessionPerMinute int

	// Settlement provider configuration
	SettleConfig settle.Config

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Ledger
		LedgerURL:     getEnv("LEDGER_URL", "http://localhost:8899"),
		LedgerAPIKey:  getEnv("LEDGER_API_KEY", ""),
		LedgerTimeout: getEnvAsDuration("LEDGER_TIMEOUT", "10s"),

		// Identities
		AdminAddress:    getEnv("ADMIN_ADDRESS", ""),
		PlatformAddress: getEnv("PLATFORM_ADDRESS", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTExpiry: getEnvAsDuration("JWT_EXPIRY", "24h"),

		// Payment session
		SessionDeadline: getEnvAsDuration("SESSION_DEADLINE", "15m"),
		PollInterval:    getEnvAsDuration("POLL_INTERVAL", "5s"),
		CountdownTick:   getEnvAsDuration("COUNTDOWN_TICK", "1s"),

		// Rate limiting
		RedeemPerMinute:  getEnvAsInt("REDEEM_PER_MINUTE", 30),
		SessionPerMinute: getEnvAsInt("SESSION_PER_MINUTE", 5),

		// Settlement provider
		SettleConfig: settle.Config{
			BaseURL:        getEnv("SETTLE_BASE_URL", ""),
			AccessTokenURL: getEnv("SETTLE_TOKEN_URL", ""),
			ClientID:       getEnv("SETTLE_CLIENT_ID", ""),
			ClientSecret:   getEnv("SETTLE_CLIENT_SECRET", ""),
			MerchantID:     getEnv("SETTLE_MERCHANT_ID", ""),
			PartnerID:      getEnv("SETTLE_PARTNER_ID", ""),
			HMACKey:        getEnv("SETTLE_HMAC_KEY", ""),
			PNSubKey:       getEnv("SETTLE_PN_SUBKEY", ""),
			PNUUID:         getEnv("SETTLE_PN_UUID", ""),
			PNChannel:      getEnv("SETTLE_PN_CHANNEL", ""),
		},

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
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
