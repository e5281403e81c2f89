package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr         = ":8080"
	defaultAllowedOrigin      = "http://localhost:3000"
	defaultSessionIssuer      = "pixmind"
	defaultSessionCookie      = "pixmind_session"
	defaultSessionTTL         = 7 * 24 * time.Hour
	defaultLedgerBackend      = LedgerBackendGorm
	defaultAIHubTimeout       = 10 * time.Second
	defaultVendorTimeout      = 60 * time.Second
	defaultEvolinkBaseURL     = "https://api.evolink.ai"
	defaultStorageKeyPrefix   = "pixmind"
	defaultUploadMaxRetries   = 3
	defaultUploadRetryDelay   = time.Second
	defaultCatalogDir         = "data"
	defaultConsumptionFile    = "data/consumption-items.yaml"
	defaultPlansFile          = "data/plans.yaml"
	defaultSiteURL            = "https://pixmind.io"
	defaultLocale             = "en"
	defaultWelcomeCredits     = 10
	defaultRateLimitPerSecond = 1.0
	defaultRateLimitBurst     = 5
	defaultOrderExpiry        = 24 * time.Hour
	defaultEnvFile            = ".env"

	// EnvFileVariable names the variable that points at an alternative dotenv file.
	EnvFileVariable = "PIXMIND_ENV_FILE"

	LedgerBackendGorm = "gorm"
	LedgerBackendPgx  = "pgx"
)

// Config aggregates runtime settings for the Pixmind server.
type Config struct {
	ListenAddr     string
	DatabaseURL    string
	LedgerBackend  string
	AllowedOrigins []string

	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	SessionTTL        time.Duration
	GoogleClientID    string

	AIHubBaseURL string
	AIHubAppKey  string
	AIHubTimeout time.Duration

	EvolinkBaseURL string
	EvolinkAPIKey  string
	VendorTimeout  time.Duration

	StorageBucket          string
	StorageRegion          string
	StorageEndpoint        string
	StoragePublicBaseURL   string
	StorageKeyPrefix       string
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	UploadMaxRetries       int
	UploadRetryDelay       time.Duration

	RedisURL        string
	CatalogDir      string
	ConsumptionFile string
	PlansFile       string
	SiteURL         string
	Locales         []string
	DefaultLocale   string
	WebhookSecret   string

	WelcomeCredits     int64
	InviteRewardPoints int64
	RateLimitPerSecond float64
	RateLimitBurst     int
	OrderExpiry        time.Duration
}

// Validate fills defaults and rejects unusable configurations.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.LedgerBackend = strings.ToLower(defaultIfEmpty(cfg.LedgerBackend, defaultLedgerBackend))
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.AIHubTimeout <= 0 {
		cfg.AIHubTimeout = defaultAIHubTimeout
	}
	cfg.EvolinkBaseURL = strings.TrimRight(defaultIfEmpty(cfg.EvolinkBaseURL, defaultEvolinkBaseURL), "/")
	cfg.AIHubBaseURL = strings.TrimRight(cfg.AIHubBaseURL, "/")
	if cfg.VendorTimeout <= 0 {
		cfg.VendorTimeout = defaultVendorTimeout
	}
	cfg.StorageKeyPrefix = defaultIfEmpty(cfg.StorageKeyPrefix, defaultStorageKeyPrefix)
	if cfg.UploadMaxRetries <= 0 {
		cfg.UploadMaxRetries = defaultUploadMaxRetries
	}
	if cfg.UploadRetryDelay <= 0 {
		cfg.UploadRetryDelay = defaultUploadRetryDelay
	}
	cfg.CatalogDir = defaultIfEmpty(cfg.CatalogDir, defaultCatalogDir)
	cfg.ConsumptionFile = defaultIfEmpty(cfg.ConsumptionFile, defaultConsumptionFile)
	cfg.PlansFile = defaultIfEmpty(cfg.PlansFile, defaultPlansFile)
	cfg.SiteURL = strings.TrimRight(defaultIfEmpty(cfg.SiteURL, defaultSiteURL), "/")
	cfg.DefaultLocale = defaultIfEmpty(cfg.DefaultLocale, defaultLocale)
	if len(cfg.Locales) == 0 {
		cfg.Locales = []string{defaultLocale, "zh"}
	}
	if cfg.WelcomeCredits <= 0 {
		cfg.WelcomeCredits = defaultWelcomeCredits
	}
	if cfg.RateLimitPerSecond <= 0 {
		cfg.RateLimitPerSecond = defaultRateLimitPerSecond
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if cfg.OrderExpiry <= 0 {
		cfg.OrderExpiry = defaultOrderExpiry
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("database url is required")
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("session signing key is required")
	}
	if cfg.LedgerBackend != LedgerBackendGorm && cfg.LedgerBackend != LedgerBackendPgx {
		return fmt.Errorf("unsupported ledger backend %q", cfg.LedgerBackend)
	}
	if cfg.InviteRewardPoints < 0 {
		return fmt.Errorf("invite reward must not be negative")
	}
	if !containsLocale(cfg.Locales, cfg.DefaultLocale) {
		return fmt.Errorf("default locale %q is not in the supported locales", cfg.DefaultLocale)
	}
	return nil
}

// StorageConfigured reports whether uploads can be served.
func (cfg Config) StorageConfigured() bool {
	return strings.TrimSpace(cfg.StorageBucket) != "" && strings.TrimSpace(cfg.StorageRegion) != ""
}

// LoadEnvFile loads dotenv values into the process environment without overriding set variables.
// A missing file is not an error.
func LoadEnvFile() error {
	path := defaultIfEmpty(os.Getenv(EnvFileVariable), defaultEnvFile)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ParseList splits comma-delimited values into a slice.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func containsLocale(locales []string, candidate string) bool {
	for _, locale := range locales {
		if locale == candidate {
			return true
		}
	}
	return false
}
