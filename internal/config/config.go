package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const DefaultTaxRate = "0.07"

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SaleCacheTTLSeconds   int
	SaleLockTTLSeconds    int
	AuthSecret            string
	AccessTokenTTLMinutes int
	TaxRate               string
	InvoicePrefix         string
	LogLevel              string
	LogEncoding           string
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0, 0),
		SaleCacheTTLSeconds:   getEnvInt("SALE_CACHE_TTL_SECONDS", 30, 1),
		SaleLockTTLSeconds:    getEnvInt("SALE_LOCK_TTL_SECONDS", 10, 1),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		TaxRate:               strings.TrimSpace(getEnv("TAX_RATE", DefaultTaxRate)),
		InvoicePrefix:         strings.ToUpper(strings.TrimSpace(getEnv("INVOICE_PREFIX", "POS"))),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogEncoding:           getEnv("LOG_ENCODING", "json"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// ParsedTaxRate returns the configured tax rate as a fraction in [0, 1].
func (c Config) ParsedTaxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("TAX_RATE %q is not a number", c.TaxRate)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("TAX_RATE must be a fraction between 0 and 1, got %s", c.TaxRate)
	}
	return rate, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < min {
		return fallback
	}
	return val
}
