package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/aihub"
	"github.com/MarkoPoloResearchLab/pixmind/internal/authbridge"
	"github.com/MarkoPoloResearchLab/pixmind/internal/authevents"
	"github.com/MarkoPoloResearchLab/pixmind/internal/catalog"
	"github.com/MarkoPoloResearchLab/pixmind/internal/config"
	"github.com/MarkoPoloResearchLab/pixmind/internal/database"
	"github.com/MarkoPoloResearchLab/pixmind/internal/evolink"
	"github.com/MarkoPoloResearchLab/pixmind/internal/httpapi"
	"github.com/MarkoPoloResearchLab/pixmind/internal/imageproxy"
	"github.com/MarkoPoloResearchLab/pixmind/internal/locale"
	"github.com/MarkoPoloResearchLab/pixmind/internal/metrics"
	"github.com/MarkoPoloResearchLab/pixmind/internal/orders"
	"github.com/MarkoPoloResearchLab/pixmind/internal/prompthistory"
	"github.com/MarkoPoloResearchLab/pixmind/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/pixmind/internal/seo"
	"github.com/MarkoPoloResearchLab/pixmind/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/pixmind/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/pixmind/internal/upload"
	"github.com/MarkoPoloResearchLab/pixmind/internal/users"
	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const startupTimeout = 10 * time.Second

func runServer(ctx context.Context, cfg *config.Config) error {
	gin.SetMode(gin.ReleaseMode)
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	handle, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = handle.Close() }()
	if handle.Driver == database.DriverSQLite {
		if err := database.Migrate(handle); err != nil {
			return err
		}
	}

	recorder := metrics.New()
	ledgerStore, closeLedger, err := openLedgerStore(ctx, cfg, handle)
	if err != nil {
		return err
	}
	defer closeLedger()
	clock := func() int64 { return time.Now().UTC().Unix() }
	creditService, err := credits.NewService(ledgerStore, clock, credits.WithOperationLogger(metrics.NewCreditLogger(logger, recorder)))
	if err != nil {
		return fmt.Errorf("credit service init: %w", err)
	}
	userService, err := users.NewService(gormstore.NewUserStore(handle.DB), creditService,
		users.WithWelcomeCredits(cfg.WelcomeCredits),
		users.WithInviteReward(cfg.InviteRewardPoints),
		users.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("user service init: %w", err)
	}
	plans, err := loadPlans(cfg.PlansFile)
	if err != nil {
		return err
	}
	orderService, err := orders.NewService(gormstore.NewOrderStore(handle.DB), creditService, time.Now, orders.WithPlans(plans))
	if err != nil {
		return fmt.Errorf("order service init: %w", err)
	}

	var hub *aihub.Client
	if cfg.AIHubBaseURL != "" {
		hub, err = aihub.NewClient(aihub.Config{BaseURL: cfg.AIHubBaseURL, AppKey: cfg.AIHubAppKey, Timeout: cfg.AIHubTimeout}, nil, logger)
		if err != nil {
			return fmt.Errorf("aihub client init: %w", err)
		}
	}

	resolver, err := newIdentityResolver(cfg, hub, userService, logger)
	if err != nil {
		return err
	}
	locales, err := locale.NewResolver(cfg.Locales, cfg.DefaultLocale)
	if err != nil {
		return fmt.Errorf("locale init: %w", err)
	}
	site, err := seo.NewSite(cfg.SiteURL, cfg.Locales, cfg.DefaultLocale)
	if err != nil {
		return fmt.Errorf("seo init: %w", err)
	}
	effects, err := catalog.New(cfg.CatalogDir)
	if err != nil {
		return err
	}
	pricing, err := loadPricing(cfg.ConsumptionFile)
	if err != nil {
		return err
	}
	history, closeHistory, err := openPromptHistory(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeHistory()
	limiter := ratelimit.New(cfg.RateLimitPerSecond, cfg.RateLimitBurst, time.Now, logger)

	deps := httpapi.Dependencies{
		Logger:   logger,
		Resolver: resolver,
		Locales:  locales,
		Metrics:  recorder,
		Limiter:  limiter,
		Credits:  creditService,
		Users:    userService,
		Orders:   orderService,
		Pricing:  pricing,
		Fetcher:  imageproxy.NewFetcher(imageproxy.WithLogger(logger)),
		History:  history,
		Catalog:  effects,
		Site:     site,
		HealthCheck: func(ctx context.Context) error {
			sqlDB, err := handle.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if cfg.EvolinkAPIKey != "" {
		generator, err := evolink.NewClient(evolink.Config{BaseURL: cfg.EvolinkBaseURL, APIKey: cfg.EvolinkAPIKey, Timeout: cfg.VendorTimeout}, nil, logger)
		if err != nil {
			return fmt.Errorf("evolink client init: %w", err)
		}
		deps.Generator = generator
	} else {
		logger.Warn("evolink api key not set; generation routes disabled")
	}
	if cfg.GoogleClientID != "" {
		startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		verifier, err := authbridge.NewGoogleVerifier(startupCtx, cfg.GoogleClientID)
		cancel()
		if err != nil {
			return fmt.Errorf("google verifier init: %w", err)
		}
		deps.Google = verifier
	}
	if cfg.StorageConfigured() {
		uploader, err := newUploader(cfg, hub, logger)
		if err != nil {
			return err
		}
		deps.Uploader = uploader
	} else {
		logger.Warn("object storage not configured; uploads disabled")
	}

	router, err := httpapi.NewRouter(deps, httpapi.Settings{
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookies:  strings.HasPrefix(cfg.SiteURL, "https://"),
		WebhookSecret:  cfg.WebhookSecret,
		VendorTimeout:  cfg.VendorTimeout,
		Version:        version,
	})
	if err != nil {
		return err
	}

	scheduler, err := httpapi.NewScheduler(httpapi.DefaultJobs(orderService, cfg.OrderExpiry, limiter, logger), logger, recorder)
	if err != nil {
		return err
	}
	scheduler.Start(ctx)

	return httpapi.Run(ctx, cfg.ListenAddr, router, logger)
}

func openLedgerStore(ctx context.Context, cfg *config.Config, handle database.Handle) (credits.Store, func(), error) {
	if cfg.LedgerBackend != config.LedgerBackendPgx {
		return gormstore.New(handle.DB), func() {}, nil
	}
	if handle.Driver != database.DriverPostgres {
		return nil, nil, fmt.Errorf("ledger backend %q requires a postgres database url", cfg.LedgerBackend)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("pgx pool: %w", err)
	}
	return pgstore.New(pool), pool.Close, nil
}

func newIdentityResolver(cfg *config.Config, hub *aihub.Client, apiKeys *users.Service, logger *zap.Logger) (*authbridge.Resolver, error) {
	sessions, err := authbridge.NewSessionManager([]byte(cfg.SessionSigningKey), cfg.SessionIssuer, cfg.SessionTTL, nil)
	if err != nil {
		return nil, fmt.Errorf("session manager init: %w", err)
	}
	bus := authevents.NewBus(logger)
	bus.Subscribe(func(event authevents.Event) {
		logger.Info("auth event", zap.String("type", string(event.Type)), zap.String("message", event.Message))
	})
	options := []authbridge.ResolverOption{authbridge.WithAPIKeys(apiKeys), authbridge.WithLogger(logger)}
	if hub != nil {
		options = append(options, authbridge.WithHubClient(hub))
	}
	resolver, err := authbridge.NewResolver(sessions, cfg.SessionCookieName, bus, options...)
	if err != nil {
		return nil, fmt.Errorf("identity resolver init: %w", err)
	}
	return resolver, nil
}

// loadPricing reads the consumption table; a missing file means every action is free.
func loadPricing(path string) (credits.ConsumptionItems, error) {
	if strings.TrimSpace(path) == "" {
		return credits.ConsumptionItems{}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return credits.ConsumptionItems{}, nil
		}
		return nil, fmt.Errorf("open consumption items: %w", err)
	}
	defer file.Close()
	return credits.LoadConsumptionItems(file)
}

// loadPlans reads the purchasable plans; a missing file leaves nothing for sale.
func loadPlans(path string) (orders.Plans, error) {
	if strings.TrimSpace(path) == "" {
		return orders.Plans{}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return orders.Plans{}, nil
		}
		return nil, fmt.Errorf("open plans: %w", err)
	}
	defer file.Close()
	return orders.LoadPlans(file)
}

func openPromptHistory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*prompthistory.History, func(), error) {
	if cfg.RedisURL == "" {
		history, err := prompthistory.NewHistory(prompthistory.NewMemoryStorage(), nil, logger)
		return history, func() {}, err
	}
	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	client, err := prompthistory.OpenRedis(startupCtx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	storage, err := prompthistory.NewRedisStorage(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	history, err := prompthistory.NewHistory(storage, nil, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return history, func() { _ = client.Close() }, nil
}

// newUploader uses static keys when configured, otherwise hub-issued temporary credentials.
func newUploader(cfg *config.Config, hub *aihub.Client, logger *zap.Logger) (*upload.Uploader, error) {
	uploadConfig := upload.Config{
		Bucket:        cfg.StorageBucket,
		Region:        cfg.StorageRegion,
		Endpoint:      cfg.StorageEndpoint,
		PublicBaseURL: cfg.StoragePublicBaseURL,
		KeyPrefix:     cfg.StorageKeyPrefix,
		MaxRetries:    cfg.UploadMaxRetries,
		BaseDelay:     cfg.UploadRetryDelay,
	}
	var (
		provider     aws.CredentialsProvider
		invalidators []upload.Invalidator
	)
	switch {
	case cfg.StorageAccessKeyID != "" && cfg.StorageSecretAccessKey != "":
		provider = upload.StaticProvider(cfg.StorageAccessKeyID, cfg.StorageSecretAccessKey)
	case hub != nil:
		cache, err := upload.NewCredentialCache(upload.FetcherFunc(func(ctx context.Context) (upload.Credentials, error) {
			issued, err := hub.FetchCredentials(ctx, cfg.StorageBucket, cfg.StorageRegion)
			if err != nil {
				return upload.Credentials{}, err
			}
			credentials := upload.Credentials{
				AccessKeyID:     issued.SecretID,
				SecretAccessKey: issued.SecretKey,
				SessionToken:    issued.SessionToken,
			}
			if issued.ExpiredTime > 0 {
				credentials.Expires = time.Unix(issued.ExpiredTime, 0)
			}
			return credentials, nil
		}), nil)
		if err != nil {
			return nil, err
		}
		provider = cache
		invalidators = append(invalidators, cache)
	default:
		return nil, fmt.Errorf("object storage needs static keys or an aihub base url")
	}
	client, sdkCache := upload.NewS3Client(uploadConfig, provider)
	invalidators = append(invalidators, sdkCache)
	return upload.NewUploader(uploadConfig, client, upload.WithInvalidators(invalidators...), upload.WithLogger(logger))
}
