/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables (and an optional
 * .env file), providing a centralized way to manage application settings. Nothing
 * outside cmd/main.go reads the environment; values are injected as structs.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: Exact parsing of the unit price.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"

	defaultUnitPrice             = "6.00"
	defaultGatewayTimeoutSeconds = 12
	minGatewayTimeoutSeconds     = 10
	maxGatewayTimeoutSeconds     = 15
	defaultRateLimitPrefix       = "saniah:rate_limit"
)

// Config holds all the configuration variables for the donation service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`

	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	DonationEventsExchange string `mapstructure:"DONATION_EVENTS_EXCHANGE"`
	AdminAlertQueue        string `mapstructure:"ADMIN_ALERT_QUEUE"`
	CourierQueue           string `mapstructure:"COURIER_QUEUE"`

	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`

	GatewayURL            string `mapstructure:"GATEWAY_URL"`
	GatewayMerchantMobile string `mapstructure:"GATEWAY_MERCHANT_MOBILE"`
	GatewayMerchantPIN    string `mapstructure:"GATEWAY_MERCHANT_PIN"`
	GatewaySecret         string `mapstructure:"GATEWAY_SECRET"`
	GatewayTimeoutSeconds int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	GatewayPhoneFormat    string `mapstructure:"GATEWAY_PHONE_FORMAT"`
	GatewaySuccessMatch   string `mapstructure:"GATEWAY_SUCCESS_MATCH"`
	GatewaySuccessTokens  string `mapstructure:"GATEWAY_SUCCESS_TOKENS"`

	UnitPriceRaw string          `mapstructure:"UNIT_PRICE"`
	UnitPrice    decimal.Decimal `mapstructure:"-"`
	MaxQuantity  int             `mapstructure:"MAX_QUANTITY"`

	CourierWebhookURL  string `mapstructure:"COURIER_WEBHOOK_URL"`
	CourierPhone       string `mapstructure:"COURIER_PHONE"`
	CourierAPIKey      string `mapstructure:"COURIER_API_KEY"`
	CourierMaxAttempts int    `mapstructure:"COURIER_MAX_ATTEMPTS"`

	AdminJWTSecret string `mapstructure:"ADMIN_JWT_SECRET"`

	ConfirmAttemptsPerSession  int `mapstructure:"CONFIRM_ATTEMPTS_PER_SESSION"`
	InitiateRateLimitPerMinute int `mapstructure:"INITIATE_RATE_LIMIT_PER_MINUTE"`

	StalePendingSweepSchedule string `mapstructure:"STALE_PENDING_SWEEP_SCHEDULE"`
	StalePendingAfterMinutes  int    `mapstructure:"STALE_PENDING_AFTER_MINUTES"`

	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("MONGO_DATABASE", "saniah")
	viper.SetDefault("DONATION_EVENTS_EXCHANGE", "saniah.events")
	viper.SetDefault("ADMIN_ALERT_QUEUE", "donation_service.admin_alerts")
	viper.SetDefault("COURIER_QUEUE", "donation_service.courier_requests")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("GATEWAY_TIMEOUT_SECONDS", defaultGatewayTimeoutSeconds)
	viper.SetDefault("GATEWAY_PHONE_FORMAT", "plus")
	viper.SetDefault("GATEWAY_SUCCESS_MATCH", "equals")
	viper.SetDefault("GATEWAY_SUCCESS_TOKENS", "OK,success")
	viper.SetDefault("UNIT_PRICE", defaultUnitPrice)
	viper.SetDefault("MAX_QUANTITY", 50)
	viper.SetDefault("COURIER_MAX_ATTEMPTS", 3)
	viper.SetDefault("CONFIRM_ATTEMPTS_PER_SESSION", 5)
	viper.SetDefault("INITIATE_RATE_LIMIT_PER_MINUTE", 5)
	viper.SetDefault("STALE_PENDING_SWEEP_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("STALE_PENDING_AFTER_MINUTES", 60)

	// Bind explicitly so keys without defaults still appear in Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("MONGO_URI", "MONGO_URI", "MONGODB_URI")
	_ = viper.BindEnv("MONGO_DATABASE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("DONATION_EVENTS_EXCHANGE")
	_ = viper.BindEnv("ADMIN_ALERT_QUEUE")
	_ = viper.BindEnv("COURIER_QUEUE")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("GATEWAY_URL")
	_ = viper.BindEnv("GATEWAY_MERCHANT_MOBILE")
	_ = viper.BindEnv("GATEWAY_MERCHANT_PIN")
	_ = viper.BindEnv("GATEWAY_SECRET", "GATEWAY_SECRET", "EDFALI_PW")
	_ = viper.BindEnv("GATEWAY_TIMEOUT_SECONDS")
	_ = viper.BindEnv("GATEWAY_PHONE_FORMAT")
	_ = viper.BindEnv("GATEWAY_SUCCESS_MATCH")
	_ = viper.BindEnv("GATEWAY_SUCCESS_TOKENS")
	_ = viper.BindEnv("UNIT_PRICE")
	_ = viper.BindEnv("MAX_QUANTITY")
	_ = viper.BindEnv("COURIER_WEBHOOK_URL")
	_ = viper.BindEnv("COURIER_PHONE")
	_ = viper.BindEnv("COURIER_API_KEY")
	_ = viper.BindEnv("COURIER_MAX_ATTEMPTS")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("CONFIRM_ATTEMPTS_PER_SESSION")
	_ = viper.BindEnv("INITIATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("STALE_PENDING_SWEEP_SCHEDULE")
	_ = viper.BindEnv("STALE_PENDING_AFTER_MINUTES")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS", "CORS_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}

	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	switch config.StoreDriver {
	case StoreDriverPostgres, StoreDriverMongo:
	default:
		log.Printf("level=warn component=config msg=\"unknown STORE_DRIVER; using postgres\" value=%q", config.StoreDriver)
		config.StoreDriver = StoreDriverPostgres
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}

	if config.GatewayTimeoutSeconds < minGatewayTimeoutSeconds || config.GatewayTimeoutSeconds > maxGatewayTimeoutSeconds {
		log.Printf("level=warn component=config msg=\"gateway timeout outside 10-15s; clamping\" value=%d", config.GatewayTimeoutSeconds)
		config.GatewayTimeoutSeconds = clampInt(config.GatewayTimeoutSeconds, minGatewayTimeoutSeconds, maxGatewayTimeoutSeconds)
	}

	config.UnitPrice, err = decimal.NewFromString(strings.TrimSpace(config.UnitPriceRaw))
	if err != nil || !config.UnitPrice.IsPositive() {
		log.Printf("level=warn component=config msg=\"invalid UNIT_PRICE; using default\" value=%q", config.UnitPriceRaw)
		config.UnitPrice = decimal.RequireFromString(defaultUnitPrice)
		err = nil
	}

	if config.MaxQuantity <= 0 {
		config.MaxQuantity = 50
	}
	if config.CourierMaxAttempts <= 0 {
		config.CourierMaxAttempts = 3
	}
	if config.ConfirmAttemptsPerSession < 0 {
		config.ConfirmAttemptsPerSession = 0
	}
	if config.InitiateRateLimitPerMinute < 0 {
		config.InitiateRateLimitPerMinute = 0
	}
	if config.StalePendingAfterMinutes <= 0 {
		config.StalePendingAfterMinutes = 60
	}

	return
}

// GatewayTimeout returns the gateway timeout as a duration.
func (c Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// StalePendingAfter returns the age after which pending donations expire.
func (c Config) StalePendingAfter() time.Duration {
	return time.Duration(c.StalePendingAfterMinutes) * time.Minute
}

// SuccessTokens splits GATEWAY_SUCCESS_TOKENS on commas.
func (c Config) SuccessTokens() []string {
	return splitList(c.GatewaySuccessTokens)
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas, defaulting to "*".
func (c Config) AllowedOrigins() []string {
	origins := splitList(c.CORSAllowedOrigins)
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
