package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	NewRelic     NewRelicConfig
	Lock         LockConfig
	Confirmation ConfirmationConfig
	Ledger       LedgerConfig
	Sync         SyncConfig
	Accounting   AccountingConfig
	PriceFeed    PriceFeedConfig
	Stripe       StripeConfig
	Hedera       HederaConfig
	Wise         WiseConfig
	Workers      WorkersConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	DBName      string
	SSLMode     string
	AutoMigrate bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LockConfig selects the payment lock backend.
type LockConfig struct {
	Backend string // "postgres" or "redis"
	TTL     time.Duration
}

// ConfirmationConfig holds amount tolerance settings.
type ConfirmationConfig struct {
	// Tolerances overrides the default per-asset fractional tolerance.
	Tolerances map[string]decimal.Decimal
}

// LedgerConfig holds ledger posting settings.
type LedgerConfig struct {
	StrictBalance bool
}

// SyncConfig holds downstream sync queue settings.
type SyncConfig struct {
	BatchSize     int
	Concurrency   int
	MaxRetries    int
	MaxBackoff    time.Duration
	BackoffJitter bool
	CallTimeout   time.Duration
	ClaimLease    time.Duration
}

// AccountingConfig holds the external accounting system endpoint.
type AccountingConfig struct {
	BaseURL  string
	APIToken string
}

// PriceFeedConfig holds the exchange rate source.
type PriceFeedConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// StripeConfig holds card processor webhook settings.
type StripeConfig struct {
	WebhookSecret string
	Tolerance     time.Duration
}

// HederaConfig holds distributed ledger mirror API settings.
type HederaConfig struct {
	MirrorURL       string
	MerchantAccount string
	// Tokens maps token IDs to asset codes, e.g. "0.0.456858=USDC".
	Tokens       map[string]string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// WiseConfig holds bank-transfer API settings.
type WiseConfig struct {
	APIURL   string
	APIToken string
}

// WorkersConfig holds background loop cadences. Zero disables a loop.
type WorkersConfig struct {
	SyncInterval      time.Duration
	BackfillInterval  time.Duration
	ExpiryInterval    time.Duration
	ReconcileInterval time.Duration
	LockPurgeInterval time.Duration
	SweepLimit        int
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 40*time.Second),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnv("DB_PORT", "5432"),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			DBName:      getEnv("DB_NAME", "paylink"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			AutoMigrate: getBoolEnv("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "paylink-confirmation"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Lock: LockConfig{
			Backend: getEnv("LOCK_BACKEND", "postgres"),
			TTL:     getDurationEnv("PAYMENT_LOCK_TTL", 30*time.Second),
		},
		Confirmation: ConfirmationConfig{
			Tolerances: getDecimalMapEnv("AMOUNT_TOLERANCES"),
		},
		Ledger: LedgerConfig{
			StrictBalance: getBoolEnv("LEDGER_STRICT_BALANCE", false),
		},
		Sync: SyncConfig{
			BatchSize:     getIntEnv("SYNC_BATCH_SIZE", 50),
			Concurrency:   getIntEnv("SYNC_CONCURRENCY", 4),
			MaxRetries:    getIntEnv("SYNC_MAX_RETRIES", 5),
			MaxBackoff:    getDurationEnv("SYNC_MAX_BACKOFF", time.Hour),
			BackoffJitter: getBoolEnv("SYNC_BACKOFF_JITTER", false),
			CallTimeout:   getDurationEnv("SYNC_CALL_TIMEOUT", 5*time.Second),
			ClaimLease:    getDurationEnv("SYNC_CLAIM_LEASE", 2*time.Minute),
		},
		Accounting: AccountingConfig{
			BaseURL:  getEnv("ACCOUNTING_BASE_URL", "http://localhost:9090"),
			APIToken: getEnv("ACCOUNTING_API_TOKEN", ""),
		},
		PriceFeed: PriceFeedConfig{
			BaseURL:  getEnv("PRICE_FEED_URL", "https://api.coingecko.com/api/v3"),
			Timeout:  getDurationEnv("PRICE_FEED_TIMEOUT", 3*time.Second),
			CacheTTL: getDurationEnv("PRICE_FEED_CACHE_TTL", 60*time.Second),
		},
		Stripe: StripeConfig{
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Tolerance:     getDurationEnv("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute),
		},
		Hedera: HederaConfig{
			MirrorURL:       getEnv("HEDERA_MIRROR_URL", "https://mainnet-public.mirrornode.hedera.com"),
			MerchantAccount: getEnv("HEDERA_MERCHANT_ACCOUNT", ""),
			Tokens:          getStringMapEnv("HEDERA_TOKENS"),
			PollInterval:    getDurationEnv("HEDERA_POLL_INTERVAL", 2*time.Second),
			PollTimeout:     getDurationEnv("HEDERA_POLL_TIMEOUT", 30*time.Second),
		},
		Wise: WiseConfig{
			APIURL:   getEnv("WISE_API_URL", "https://api.transferwise.com"),
			APIToken: getEnv("WISE_API_TOKEN", ""),
		},
		Workers: WorkersConfig{
			SyncInterval:      getDurationEnv("WORKER_SYNC_INTERVAL", time.Minute),
			BackfillInterval:  getDurationEnv("WORKER_BACKFILL_INTERVAL", 10*time.Minute),
			ExpiryInterval:    getDurationEnv("WORKER_EXPIRY_INTERVAL", time.Minute),
			ReconcileInterval: getDurationEnv("WORKER_RECONCILE_INTERVAL", 15*time.Minute),
			LockPurgeInterval: getDurationEnv("WORKER_LOCK_PURGE_INTERVAL", 5*time.Minute),
			SweepLimit:        getIntEnv("WORKER_SWEEP_LIMIT", 500),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getStringMapEnv parses "k1=v1,k2=v2". Malformed pairs are skipped.
func getStringMapEnv(key string) map[string]string {
	result := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv(key), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			continue
		}
		result[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return result
}

// getDecimalMapEnv parses "HBAR=0.02,USDC=0.005". Keys are upper-cased.
func getDecimalMapEnv(key string) map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal)
	for k, v := range getStringMapEnv(key) {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			continue
		}
		result[strings.ToUpper(k)] = d
	}
	return result
}
