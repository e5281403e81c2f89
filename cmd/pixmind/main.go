package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/pixmind/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "PIXMIND"

	flagDatabaseURL = "database-url"
	flagListenAddr  = "listen-addr"

	configKeyListenAddr             = "listen_addr"
	configKeyDatabaseURL            = "database_url"
	configKeyLedgerBackend          = "ledger_backend"
	configKeyAllowedOrigins         = "allowed_origins"
	configKeySessionSigningKey      = "session_signing_key"
	configKeySessionIssuer          = "session_issuer"
	configKeySessionCookie          = "session_cookie"
	configKeySessionTTL             = "session_ttl"
	configKeyGoogleClientID         = "google_client_id"
	configKeyAIHubBaseURL           = "aihub_base_url"
	configKeyAIHubAppKey            = "aihub_app_key"
	configKeyAIHubTimeout           = "aihub_timeout"
	configKeyEvolinkBaseURL         = "evolink_base_url"
	configKeyEvolinkAPIKey          = "evolink_api_key"
	configKeyVendorTimeout          = "vendor_timeout"
	configKeyStorageBucket          = "storage_bucket"
	configKeyStorageRegion          = "storage_region"
	configKeyStorageEndpoint        = "storage_endpoint"
	configKeyStoragePublicBaseURL   = "storage_public_base_url"
	configKeyStorageKeyPrefix       = "storage_key_prefix"
	configKeyStorageAccessKeyID     = "storage_access_key_id"
	configKeyStorageSecretAccessKey = "storage_secret_access_key"
	configKeyUploadMaxRetries       = "upload_max_retries"
	configKeyUploadRetryDelay       = "upload_retry_delay"
	configKeyRedisURL               = "redis_url"
	configKeyCatalogDir             = "catalog_dir"
	configKeyConsumptionFile        = "consumption_file"
	configKeyPlansFile              = "plans_file"
	configKeySiteURL                = "site_url"
	configKeyLocales                = "locales"
	configKeyDefaultLocale          = "default_locale"
	configKeyWebhookSecret          = "webhook_secret"
	configKeyWelcomeCredits         = "welcome_credits"
	configKeyInviteRewardPoints     = "invite_reward_points"
	configKeyRateLimitPerSecond     = "rate_limit_per_second"
	configKeyRateLimitBurst         = "rate_limit_burst"
	configKeyOrderExpiry            = "order_expiry"
)

// version is set with -ldflags at build time.
var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pixmind: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	settings := viper.New()
	cmd := &cobra.Command{
		Use:           "pixmind",
		Short:         "Pixmind API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(); err != nil {
				return err
			}
			return loadConfig(cmd, settings, cfg)
		},
	}
	cmd.PersistentFlags().String(flagDatabaseURL, "", "database connection string (postgres:// or sqlite://)")
	cmd.PersistentFlags().String(flagListenAddr, "", "HTTP listen address")

	cmd.AddCommand(newServeCommand(cfg), newMigrateCommand(cfg), newGrantCommand(cfg))
	return cmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

// loadConfig reads flags and PIXMIND_* variables; commands validate what they need.
func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *config.Config) error {
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	settings.AutomaticEnv()

	if err := settings.BindEnv(configKeyDatabaseURL, envPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return err
	}
	if err := settings.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := settings.BindPFlag(configKeyListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}

	*cfg = config.Config{
		ListenAddr:     settings.GetString(configKeyListenAddr),
		DatabaseURL:    settings.GetString(configKeyDatabaseURL),
		LedgerBackend:  settings.GetString(configKeyLedgerBackend),
		AllowedOrigins: config.ParseList(settings.GetString(configKeyAllowedOrigins)),

		SessionSigningKey: settings.GetString(configKeySessionSigningKey),
		SessionIssuer:     settings.GetString(configKeySessionIssuer),
		SessionCookieName: settings.GetString(configKeySessionCookie),
		SessionTTL:        settings.GetDuration(configKeySessionTTL),
		GoogleClientID:    settings.GetString(configKeyGoogleClientID),

		AIHubBaseURL: settings.GetString(configKeyAIHubBaseURL),
		AIHubAppKey:  settings.GetString(configKeyAIHubAppKey),
		AIHubTimeout: settings.GetDuration(configKeyAIHubTimeout),

		EvolinkBaseURL: settings.GetString(configKeyEvolinkBaseURL),
		EvolinkAPIKey:  settings.GetString(configKeyEvolinkAPIKey),
		VendorTimeout:  settings.GetDuration(configKeyVendorTimeout),

		StorageBucket:          settings.GetString(configKeyStorageBucket),
		StorageRegion:          settings.GetString(configKeyStorageRegion),
		StorageEndpoint:        settings.GetString(configKeyStorageEndpoint),
		StoragePublicBaseURL:   settings.GetString(configKeyStoragePublicBaseURL),
		StorageKeyPrefix:       settings.GetString(configKeyStorageKeyPrefix),
		StorageAccessKeyID:     settings.GetString(configKeyStorageAccessKeyID),
		StorageSecretAccessKey: settings.GetString(configKeyStorageSecretAccessKey),
		UploadMaxRetries:       settings.GetInt(configKeyUploadMaxRetries),
		UploadRetryDelay:       settings.GetDuration(configKeyUploadRetryDelay),

		RedisURL:        settings.GetString(configKeyRedisURL),
		CatalogDir:      settings.GetString(configKeyCatalogDir),
		ConsumptionFile: settings.GetString(configKeyConsumptionFile),
		PlansFile:       settings.GetString(configKeyPlansFile),
		SiteURL:         settings.GetString(configKeySiteURL),
		Locales:         config.ParseList(settings.GetString(configKeyLocales)),
		DefaultLocale:   settings.GetString(configKeyDefaultLocale),
		WebhookSecret:   settings.GetString(configKeyWebhookSecret),

		WelcomeCredits:     settings.GetInt64(configKeyWelcomeCredits),
		InviteRewardPoints: settings.GetInt64(configKeyInviteRewardPoints),
		RateLimitPerSecond: settings.GetFloat64(configKeyRateLimitPerSecond),
		RateLimitBurst:     settings.GetInt(configKeyRateLimitBurst),
		OrderExpiry:        settings.GetDuration(configKeyOrderExpiry),
	}
	return nil
}
