package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/authbridge"
	"github.com/MarkoPoloResearchLab/pixmind/internal/evolink"
	"github.com/MarkoPoloResearchLab/pixmind/internal/imagecompress"
	"github.com/MarkoPoloResearchLab/pixmind/internal/imageproxy"
	"github.com/MarkoPoloResearchLab/pixmind/internal/locale"
	"github.com/MarkoPoloResearchLab/pixmind/internal/metrics"
	"github.com/MarkoPoloResearchLab/pixmind/internal/orders"
	"github.com/MarkoPoloResearchLab/pixmind/internal/prompthistory"
	"github.com/MarkoPoloResearchLab/pixmind/internal/ratelimit"
	"github.com/MarkoPoloResearchLab/pixmind/internal/upload"
	"github.com/MarkoPoloResearchLab/pixmind/internal/users"
	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// CreditLedger is the part of credits.Service the handlers use.
type CreditLedger interface {
	Balance(ctx context.Context, userUUID credits.UserUUID) (credits.Points, error)
	Spend(ctx context.Context, userUUID credits.UserUUID, amount credits.PositivePoints, businessType credits.BusinessType, businessNo credits.BusinessNo, metadata credits.MetadataJSON) (credits.Entry, error)
	Refund(ctx context.Context, userUUID credits.UserUUID, spendBusinessNo credits.BusinessNo, metadata credits.MetadataJSON) (credits.Entry, error)
	History(ctx context.Context, userUUID credits.UserUUID, page int, pageSize int) (credits.HistoryPage, error)
}

// UserDirectory is the part of users.Service the handlers use.
type UserDirectory interface {
	Save(ctx context.Context, user users.User, inviterCode string) (users.User, bool, error)
	Get(ctx context.Context, userUUID string) (users.User, error)
	IssueAPIKey(ctx context.Context, userUUID string, title string) (string, error)
}

// OrderBook is the part of orders.Service the handlers use.
type OrderBook interface {
	CreateForPlan(ctx context.Context, userUUID string, planCode string, payType string) (orders.Order, error)
	List(ctx context.Context, userUUID string, orderType orders.Type, page int, pageSize int) (orders.Page, error)
	MarkPaid(ctx context.Context, orderNo string, payment orders.Payment) (orders.Order, error)
	Plans() []orders.Plan
}

// ImageGenerator submits and polls image generation tasks.
type ImageGenerator interface {
	Generate(ctx context.Context, request evolink.GenerateRequest) (json.RawMessage, error)
	Task(ctx context.Context, taskID string) (json.RawMessage, error)
}

// ImageFetcher downloads remote images.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (imageproxy.Image, error)
}

// ObjectUploader stores user files.
type ObjectUploader interface {
	UploadWithRetry(ctx context.Context, file upload.File, uploadType upload.Type, progress upload.ProgressFunc) (upload.Result, error)
}

// PromptHistory keeps per-user image-to-prompt results.
type PromptHistory interface {
	List(ctx context.Context, userUUID string) ([]prompthistory.Item, error)
	Save(ctx context.Context, userUUID string, prompt string, model string, preview string) (prompthistory.Item, error)
	Delete(ctx context.Context, userUUID string, itemID string) error
	Clear(ctx context.Context, userUUID string) error
}

// EffectsCatalog serves the video-effects documents.
type EffectsCatalog interface {
	Effects() (json.RawMessage, error)
	Channels() (json.RawMessage, error)
}

// SiteDocuments renders crawler documents.
type SiteDocuments interface {
	Robots() string
	Sitemap(modified time.Time) ([]byte, error)
}

// TokenVerifier checks Google ID tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (authbridge.GoogleProfile, error)
}

// Compressor shrinks images.
type Compressor func(input []byte, quality int) (imagecompress.Result, error)

// Dependencies are the collaborators the router wires. Optional ones may be nil;
// their routes then answer 503.
type Dependencies struct {
	Logger      *zap.Logger
	Resolver    *authbridge.Resolver
	Locales     *locale.Resolver
	Metrics     *metrics.Metrics
	Limiter     *ratelimit.Limiter
	Credits     CreditLedger
	Users       UserDirectory
	Orders      OrderBook
	Pricing     credits.ConsumptionItems
	Generator   ImageGenerator
	Fetcher     ImageFetcher
	Uploader    ObjectUploader
	History     PromptHistory
	Catalog     EffectsCatalog
	Site        SiteDocuments
	Google      TokenVerifier
	Compress    Compressor
	HealthCheck func(ctx context.Context) error
	Now         func() time.Time
}

// Settings are the router options taken from configuration.
type Settings struct {
	AllowedOrigins   []string
	SecureCookies    bool
	WebhookSecret    string
	VendorTimeout    time.Duration
	MaxUploadBytes   int64
	MaxCompressBytes int64
	Version          string
}

const (
	defaultVendorTimeout    = 60 * time.Second
	defaultMaxUploadBytes   = 100 << 20
	defaultMaxCompressBytes = 20 << 20
	defaultVersion          = "dev"
)

type httpHandler struct {
	deps      Dependencies
	settings  Settings
	logger    *zap.Logger
	startedAt time.Time
}

// NewRouter builds the gin engine with every route.
func NewRouter(deps Dependencies, settings Settings) (*gin.Engine, error) {
	if deps.Resolver == nil {
		return nil, fmt.Errorf("httpapi: identity resolver is required")
	}
	if deps.Credits == nil || deps.Users == nil || deps.Orders == nil {
		return nil, fmt.Errorf("httpapi: credits, users and orders services are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Compress == nil {
		deps.Compress = imagecompress.Compress
	}
	if settings.VendorTimeout <= 0 {
		settings.VendorTimeout = defaultVendorTimeout
	}
	if settings.MaxUploadBytes <= 0 {
		settings.MaxUploadBytes = defaultMaxUploadBytes
	}
	if settings.MaxCompressBytes <= 0 {
		settings.MaxCompressBytes = defaultMaxCompressBytes
	}
	if settings.Version == "" {
		settings.Version = defaultVersion
	}
	corsConfig := cors.Config{
		AllowOrigins:     settings.AllowedOrigins,
		AllowMethods:     []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization", "language", headerWebhookSecret},
		ExposeHeaders:    []string{authbridge.HeaderAuthEvent},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if err := corsConfig.Validate(); err != nil {
		return nil, fmt.Errorf("httpapi: cors: %w", err)
	}
	handler := &httpHandler{deps: deps, settings: settings, logger: deps.Logger, startedAt: deps.Now()}

	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(cors.New(corsConfig))
	if deps.Locales != nil {
		router.Use(locale.Middleware(deps.Locales, authbridge.SetLocale))
	}

	router.GET("/api/health", handler.handleHealth)
	router.HEAD("/api/health", func(ctx *gin.Context) { ctx.Status(http.StatusOK) })
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.GET("/robots.txt", handler.handleRobots)
	router.GET("/sitemap.xml", handler.handleSitemap)
	router.GET("/api/og", handler.handleOpenGraph)

	requireIdentity := authbridge.RequireIdentity(deps.Resolver, settings.SecureCookies)
	limited := func(ctx *gin.Context) { ctx.Next() }
	if deps.Limiter != nil {
		limited = deps.Limiter.Middleware(identityKey)
	}

	api := router.Group("/api")
	api.POST("/auth/google", handler.handleGoogleSignIn)
	api.POST("/auth/signout", handler.handleSignOut)
	api.GET("/auth/session", handler.handleSession)

	api.GET("/user/info", requireIdentity, handler.handleUserInfo)
	api.GET("/credits", requireIdentity, handler.handleBalance)
	api.GET("/credits/history", requireIdentity, handler.handleCreditHistory)
	api.GET("/payment/consumption-items", handler.handleConsumptionItems)
	api.GET("/payment/plans", handler.handlePlans)
	api.GET("/orders", requireIdentity, handler.handleListOrders)
	api.POST("/orders", requireIdentity, handler.handleCreateOrder)
	api.POST("/orders/:orderNo/paid", handler.handleOrderPaid)
	api.POST("/apikeys", requireIdentity, handler.handleIssueAPIKey)

	api.POST("/ai/evolink/generate", requireIdentity, limited, handler.handleGenerate)
	api.GET("/ai/evolink/task/:taskId", requireIdentity, limited, handler.handleTask)

	api.POST("/proxy-image", handler.handleProxyImage)
	api.GET("/image-download", handler.handleImageDownload)
	api.POST("/image-compress", handler.handleImageCompress)
	api.POST("/upload", requireIdentity, handler.handleUpload)

	api.GET("/prompt-history", requireIdentity, handler.handleListPrompts)
	api.POST("/prompt-history", requireIdentity, handler.handleSavePrompt)
	api.DELETE("/prompt-history/:id", requireIdentity, handler.handleDeletePrompt)
	api.DELETE("/prompt-history", requireIdentity, handler.handleClearPrompts)

	api.GET("/video-effects", handler.handleEffects)
	api.GET("/video-effects/channels", handler.handleEffectChannels)

	return router, nil
}

// Run serves handler on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pixmind listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func identityKey(ctx *gin.Context) string {
	identity, ok := authbridge.IdentityFrom(ctx)
	if !ok {
		return ""
	}
	return "user:" + identity.UserUUID
}
