package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port                      string
	AllowedOrigin             string
	DatabaseURL               string
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	AuthSecret                string
	AccessTokenTTLMinutes     int
	ManagerPIN                string
	DefaultTaxRate            decimal.Decimal
	InvoicePrefix             string
	PaymentTerms              string
	PaymentTermDays           int
	LegalMentions             string
	CatalogCacheTTLSeconds    int
	InvoiceResyncSeconds      int
	InvoiceResyncLookbackDays int
}

// LoadEnvFile merges a dotenv file into the environment. Variables that are
// already set win, and a missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	taxRate, err := decimal.NewFromString(getEnv("DEFAULT_TAX_RATE", "5.5"))
	if err != nil || taxRate.IsNegative() || taxRate.GreaterThan(decimal.NewFromInt(100)) {
		taxRate = decimal.RequireFromString("5.5")
	}

	cfg := Config{
		Port:                      getEnv("PORT", "8080"),
		AllowedOrigin:             getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   redisDB,
		AuthSecret:                strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:     getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:                strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		DefaultTaxRate:            taxRate,
		InvoicePrefix:             strings.TrimSpace(getEnv("INVOICE_PREFIX", "FAC")),
		PaymentTerms:              getEnv("PAYMENT_TERMS", "Paiement a 30 jours"),
		PaymentTermDays:           getNonNegativeInt("PAYMENT_TERM_DAYS", 30),
		LegalMentions:             os.Getenv("INVOICE_LEGAL_MENTIONS"),
		CatalogCacheTTLSeconds:    getPositiveInt("CATALOG_CACHE_TTL_SECONDS", 60),
		InvoiceResyncSeconds:      getNonNegativeInt("INVOICE_RESYNC_SECONDS", 30),
		InvoiceResyncLookbackDays: getPositiveInt("INVOICE_RESYNC_LOOKBACK_DAYS", 3),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CatalogCacheTTL() time.Duration {
	return time.Duration(c.CatalogCacheTTLSeconds) * time.Second
}

// InvoiceResyncInterval is zero when the periodic resync is disabled.
func (c Config) InvoiceResyncInterval() time.Duration {
	return time.Duration(c.InvoiceResyncSeconds) * time.Second
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func getNonNegativeInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
