package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides application configuration.
var Module = fx.Provide(Load, NewDispatchConfigHolder)

// Config holds application configuration. Gateway credentials are opaque
// values and must never be logged.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string
	DBPath   string

	LogLevel  string
	LogFormat string

	// External payment gateway.
	GatewayShopID        string
	GatewayAPIKey        string
	GatewaySigningSecret string
	GatewayBaseURL       string
	WebhookPath          string
	WebhookMaxBodyBytes  int64

	// Storefront notification channel.
	BotToken       string
	TelegramAPIURL string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "bitvend"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		DBPath:   getenv("DATABASE_PATH", "data/bitvend.sqlite3"),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),

		GatewayShopID:        strings.TrimSpace(getenv("GATEWAY_SHOP_ID", "")),
		GatewayAPIKey:        strings.TrimSpace(getenv("GATEWAY_API_KEY", "")),
		GatewaySigningSecret: strings.TrimSpace(getenv("GATEWAY_SIGNING_SECRET", "")),
		GatewayBaseURL:       getenv("GATEWAY_BASE_URL", "https://api.cryptocloud.plus"),
		WebhookPath:          getenv("WEBHOOK_PATH", "/webhook"),
		WebhookMaxBodyBytes:  getenvInt64("WEBHOOK_MAX_BODY_BYTES", 64<<10),

		BotToken:       strings.TrimSpace(getenv("BOT_TOKEN", "")),
		TelegramAPIURL: getenv("TELEGRAM_API_URL", "https://api.telegram.org"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
