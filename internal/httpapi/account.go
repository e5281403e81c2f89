package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/pixmind/internal/authbridge"
	"github.com/MarkoPoloResearchLab/pixmind/internal/orders"
	"github.com/MarkoPoloResearchLab/pixmind/internal/users"
	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerWebhookSecret  = "X-Webhook-Secret"
	signinTypeOAuth      = "oauth"
	signinProviderGoogle = "google"
	cookiePath           = "/"
)

type googleSignInRequest struct {
	Credential string `json:"credential"`
	IDToken    string `json:"idToken"`
	InviteCode string `json:"inviteCode"`
}

type createOrderRequest struct {
	PlanCode string `json:"planCode"`
	PayType  string `json:"payType"`
}

type orderPaidRequest struct {
	PayTradeNo  string `json:"payTradeNo"`
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
}

type apiKeyRequest struct {
	Title string `json:"title"`
}

type entryPayload struct {
	ID             int64           `json:"id"`
	Delta          int64           `json:"points"`
	BalanceAfter   int64           `json:"balanceAfter"`
	BusinessType   string          `json:"businessType"`
	BusinessNo     string          `json:"businessNo"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"createdAt"`
}

func (handler *httpHandler) handleGoogleSignIn(ctx *gin.Context) {
	if handler.deps.Google == nil {
		handler.respondError(ctx, "auth.google", errServiceUnavailable)
		return
	}
	var request googleSignInRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "expected JSON body"))
		return
	}
	rawToken := strings.TrimSpace(request.Credential)
	if rawToken == "" {
		rawToken = strings.TrimSpace(request.IDToken)
	}
	if rawToken == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "credential is required"))
		return
	}
	profile, err := handler.deps.Google.Verify(ctx.Request.Context(), rawToken)
	if err != nil {
		handler.respondError(ctx, "auth.google", err)
		return
	}
	user, created, err := handler.deps.Users.Save(ctx.Request.Context(), users.User{
		Email:          profile.Email,
		Nickname:       profile.Name,
		AvatarURL:      profile.Picture,
		Locale:         authbridge.LocaleFrom(ctx),
		SigninType:     signinTypeOAuth,
		SigninProvider: signinProviderGoogle,
		SigninOpenID:   profile.Subject,
		SigninIP:       ctx.ClientIP(),
	}, request.InviteCode)
	if err != nil {
		handler.respondError(ctx, "auth.google", err)
		return
	}
	sessions := handler.deps.Resolver.Sessions()
	token, expiresAt, err := sessions.Issue(authbridge.Identity{
		UserUUID: user.UUID,
		Email:    user.Email,
		Nickname: user.Nickname,
		Source:   authbridge.SourceSession,
	})
	if err != nil {
		handler.respondError(ctx, "auth.google", err)
		return
	}
	ctx.SetCookie(handler.deps.Resolver.SessionCookie(), token, int(sessions.TTL().Seconds()), cookiePath, "", handler.settings.SecureCookies, true)
	handler.logger.Info("user signed in", zap.String("user_uuid", user.UUID), zap.Bool("created", created))
	ctx.JSON(http.StatusOK, success(gin.H{
		"user":      user,
		"isNew":     created,
		"expiresAt": expiresAt.Unix(),
	}))
}

func (handler *httpHandler) handleSignOut(ctx *gin.Context) {
	jar := authbridge.NewGinJar(ctx, handler.settings.SecureCookies)
	for _, name := range handler.deps.Resolver.CredentialNames() {
		jar.Clear(name)
	}
	ctx.JSON(http.StatusOK, success(nil))
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	jar := authbridge.NewGinJar(ctx, handler.settings.SecureCookies)
	identity, err := handler.deps.Resolver.Resolve(ctx.Request.Context(), jar, ctx.GetHeader("Authorization"), authbridge.LocaleFrom(ctx))
	if err != nil {
		if errors.Is(err, authbridge.ErrLoginExpired) {
			authbridge.AbortUnauthorized(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, success(gin.H{"authenticated": false}))
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{"authenticated": true, "user": identity}))
}

func (handler *httpHandler) handleUserInfo(ctx *gin.Context) {
	identity, _ := authbridge.IdentityFrom(ctx)
	userUUID, err := credits.NewUserUUID(identity.UserUUID)
	if err != nil {
		handler.respondError(ctx, "user.info", err)
		return
	}
	balance, err := handler.deps.Credits.Balance(ctx.Request.Context(), userUUID)
	if err != nil {
		handler.respondError(ctx, "user.info", err)
		return
	}
	payload := gin.H{"credits": gin.H{"leftCredits": balance.Int64()}}
	user, err := handler.deps.Users.Get(ctx.Request.Context(), identity.UserUUID)
	switch {
	case err == nil:
		payload["user"] = user
	case errors.Is(err, users.ErrUserNotFound):
		payload["user"] = users.User{UUID: identity.UserUUID, Email: identity.Email, Nickname: identity.Nickname}
	default:
		handler.respondError(ctx, "user.info", err)
		return
	}
	ctx.JSON(http.StatusOK, success(payload))
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	identity, _ := authbridge.IdentityFrom(ctx)
	userUUID, err := credits.NewUserUUID(identity.UserUUID)
	if err != nil {
		handler.respondError(ctx, "credits.balance", err)
		return
	}
	balance, err := handler.deps.Credits.Balance(ctx.Request.Context(), userUUID)
	if err != nil {
		handler.respondError(ctx, "credits.balance", err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{"leftCredits": balance.Int64()}))
}

func (handler *httpHandler) handleCreditHistory(ctx *gin.Context) {
	identity, _ := authbridge.IdentityFrom(ctx)
	userUUID, err := credits.NewUserUUID(identity.UserUUID)
	if err != nil {
		handler.respondError(ctx, "credits.history", err)
		return
	}
	page, pageSize, ok := pagination(ctx)
	if !ok {
		return
	}
	history, err := handler.deps.Credits.History(ctx.Request.Context(), userUUID, page, pageSize)
	if err != nil {
		handler.respondError(ctx, "credits.history", err)
		return
	}
	entries := make([]entryPayload, 0, len(history.Entries))
	for _, entry := range history.Entries {
		metadata := entry.Metadata.String()
		if metadata == "" {
			metadata = "{}"
		}
		entries = append(entries, entryPayload{
			ID:             entry.ID,
			Delta:          entry.Delta.Int64(),
			BalanceAfter:   entry.BalanceAfter.Int64(),
			BusinessType:   entry.BusinessType.String(),
			BusinessNo:     entry.BusinessNo.String(),
			Metadata:       json.RawMessage(metadata),
			CreatedUnixUTC: entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, success(gin.H{
		"list":     entries,
		"total":    history.Total,
		"page":     history.Page,
		"pageSize": history.PageSize,
	}))
}

func (handler *httpHandler) handleConsumptionItems(ctx *gin.Context) {
	items := handler.deps.Pricing
	if items == nil {
		items = credits.ConsumptionItems{}
	}
	ctx.JSON(http.StatusOK, success(items))
}

func (handler *httpHandler) handlePlans(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, success(handler.deps.Orders.Plans()))
}

func (handler *httpHandler) handleListOrders(ctx *gin.Context) {
	identity, _ := authbridge.IdentityFrom(ctx)
	orderType, err := orders.ParseType(ctx.Query("type"))
	if err != nil {
		handler.respondError(ctx, "orders.list", err)
		return
	}
	page, pageSize, ok := pagination(ctx)
	if !ok {
		return
	}
	result, err := handler.deps.Orders.List(ctx.Request.Context(), identity.UserUUID, orderType, page, pageSize)
	if err != nil {
		handler.respondError(ctx, "orders.list", err)
		return
	}
	ctx.JSON(http.StatusOK, success(result))
}

func (handler *httpHandler) handleCreateOrder(ctx *gin.Context) {
	identity, _ := authbridge.IdentityFrom(ctx)
	var request createOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "expected JSON body"))
		return
	}
	order, err := handler.deps.Orders.CreateForPlan(ctx.Request.Context(), identity.UserUUID, request.PlanCode, request.PayType)
	if err != nil {
		handler.respondError(ctx, "orders.create", err)
		return
	}
	ctx.JSON(http.StatusOK, success(order))
}

func (handler *httpHandler) handleOrderPaid(ctx *gin.Context) {
	expected := handler.settings.WebhookSecret
	if expected == "" {
		handler.respondError(ctx, "orders.paid", errServiceUnavailable)
		return
	}
	provided := ctx.GetHeader(headerWebhookSecret)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		ctx.JSON(http.StatusUnauthorized, errorResponse(http.StatusUnauthorized, "invalid webhook secret"))
		return
	}
	var request orderPaidRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "expected JSON body"))
		return
	}
	order, err := handler.deps.Orders.MarkPaid(ctx.Request.Context(), ctx.Param("orderNo"), orders.Payment{
		TradeNo:     request.PayTradeNo,
		AmountCents: request.AmountCents,
		Currency:    request.Currency,
	})
	if err != nil {
		handler.respondError(ctx, "orders.paid", err)
		return
	}
	ctx.JSON(http.StatusOK, success(order))
}

func (handler *httpHandler) handleIssueAPIKey(ctx *gin.Context) {
	identity, _ := authbridge.IdentityFrom(ctx)
	var request apiKeyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "expected JSON body"))
		return
	}
	rawKey, err := handler.deps.Users.IssueAPIKey(ctx.Request.Context(), identity.UserUUID, request.Title)
	if err != nil {
		handler.respondError(ctx, "apikeys.issue", err)
		return
	}
	ctx.JSON(http.StatusOK, success(gin.H{"apiKey": rawKey, "title": request.Title}))
}

// pagination reads page and pageSize; it writes a 400 and returns false on bad input.
func pagination(ctx *gin.Context) (int, int, bool) {
	page, err := queryInt(ctx, "page", 1)
	if err != nil || page < 1 {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "page must be a positive integer"))
		return 0, 0, false
	}
	pageSize, err := queryInt(ctx, "pageSize", 0)
	if err != nil || pageSize < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "pageSize must be a non-negative integer"))
		return 0, 0, false
	}
	return page, pageSize, true
}

func queryInt(ctx *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(ctx.Query(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
