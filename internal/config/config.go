package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                   string
	AppEnv                 string
	LogLevel               string
	LogEncoding            string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ReportCacheTTLSeconds  int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	AdminCommissionRate    decimal.Decimal
	MasterCommissionRate   decimal.Decimal
	ShutdownTimeoutSeconds int
}

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set win over the file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AppEnv:                 getEnv("APP_ENV", "development"),
		LogLevel:               os.Getenv("LOG_LEVEL"),
		LogEncoding:            os.Getenv("LOG_ENCODING"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                getEnvInt("REDIS_DB", 0, 0),
		ReportCacheTTLSeconds:  getEnvInt("REPORT_CACHE_TTL_SECONDS", 60, 1),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		AdminCommissionRate:    getEnvPercent("ADMIN_COMMISSION_RATE", 10),
		MasterCommissionRate:   getEnvPercent("MASTER_COMMISSION_RATE", 40),
		ShutdownTimeoutSeconds: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10, 1),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int, minimum int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || val < minimum {
		return fallback
	}
	return val
}

// getEnvPercent falls back when the value is not a percentage in [0, 100].
func getEnvPercent(key string, fallback int64) decimal.Decimal {
	val, err := decimal.NewFromString(strings.TrimSpace(os.Getenv(key)))
	if err != nil || val.IsNegative() || val.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.NewFromInt(fallback)
	}
	return val
}
