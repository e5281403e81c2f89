package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/authbridge"
	"github.com/MarkoPoloResearchLab/pixmind/internal/seo"
	"github.com/gin-gonic/gin"
)

const (
	healthCheckTimeout = 3 * time.Second
	statusOK           = "ok"
	statusDegraded     = "degraded"
)

type savePromptRequest struct {
	Prompt       string `json:"prompt"`
	Model        string `json:"model"`
	ImagePreview string `json:"imagePreview"`
}

func (handler *httpHandler) handleListPrompts(ctx *gin.Context) {
	if handler.deps.History == nil {
		handler.respondError(ctx, "prompts.list", errServiceUnavailable)
		return
	}
	identity, _ := authbridge.IdentityFrom(ctx)
	items, err := handler.deps.History.List(ctx.Request.Context(), identity.UserUUID)
	if err != nil {
		handler.respondError(ctx, "prompts.list", err)
		return
	}
	ctx.JSON(http.StatusOK, success(items))
}

func (handler *httpHandler) handleSavePrompt(ctx *gin.Context) {
	if handler.deps.History == nil {
		handler.respondError(ctx, "prompts.save", errServiceUnavailable)
		return
	}
	identity, _ := authbridge.IdentityFrom(ctx)
	var request savePromptRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "expected JSON body"))
		return
	}
	item, err := handler.deps.History.Save(ctx.Request.Context(), identity.UserUUID, request.Prompt, request.Model, request.ImagePreview)
	if err != nil {
		handler.respondError(ctx, "prompts.save", err)
		return
	}
	ctx.JSON(http.StatusOK, success(item))
}

func (handler *httpHandler) handleDeletePrompt(ctx *gin.Context) {
	if handler.deps.History == nil {
		handler.respondError(ctx, "prompts.delete", errServiceUnavailable)
		return
	}
	identity, _ := authbridge.IdentityFrom(ctx)
	if err := handler.deps.History.Delete(ctx.Request.Context(), identity.UserUUID, ctx.Param("id")); err != nil {
		handler.respondError(ctx, "prompts.delete", err)
		return
	}
	ctx.JSON(http.StatusOK, success(nil))
}

func (handler *httpHandler) handleClearPrompts(ctx *gin.Context) {
	if handler.deps.History == nil {
		handler.respondError(ctx, "prompts.clear", errServiceUnavailable)
		return
	}
	identity, _ := authbridge.IdentityFrom(ctx)
	if err := handler.deps.History.Clear(ctx.Request.Context(), identity.UserUUID); err != nil {
		handler.respondError(ctx, "prompts.clear", err)
		return
	}
	ctx.JSON(http.StatusOK, success(nil))
}

func (handler *httpHandler) handleEffects(ctx *gin.Context) {
	if handler.deps.Catalog == nil {
		handler.respondError(ctx, "effects.list", errServiceUnavailable)
		return
	}
	document, err := handler.deps.Catalog.Effects()
	if err != nil {
		handler.respondError(ctx, "effects.list", err)
		return
	}
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", document)
}

func (handler *httpHandler) handleEffectChannels(ctx *gin.Context) {
	if handler.deps.Catalog == nil {
		handler.respondError(ctx, "effects.channels", errServiceUnavailable)
		return
	}
	document, err := handler.deps.Catalog.Channels()
	if err != nil {
		handler.respondError(ctx, "effects.channels", err)
		return
	}
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", document)
}

func (handler *httpHandler) handleHealth(ctx *gin.Context) {
	now := handler.deps.Now()
	payload := gin.H{
		"status":    statusOK,
		"timestamp": now.UTC().Format(time.RFC3339),
		"uptime":    now.Sub(handler.startedAt).Seconds(),
		"version":   handler.settings.Version,
	}
	if handler.deps.HealthCheck != nil {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), healthCheckTimeout)
		defer cancel()
		if err := handler.deps.HealthCheck(checkCtx); err != nil {
			payload["status"] = statusDegraded
			payload["warnings"] = []string{err.Error()}
		}
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleRobots(ctx *gin.Context) {
	if handler.deps.Site == nil {
		handler.respondError(ctx, "seo.robots", errServiceUnavailable)
		return
	}
	ctx.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(handler.deps.Site.Robots()))
}

func (handler *httpHandler) handleSitemap(ctx *gin.Context) {
	if handler.deps.Site == nil {
		handler.respondError(ctx, "seo.sitemap", errServiceUnavailable)
		return
	}
	document, err := handler.deps.Site.Sitemap(handler.deps.Now())
	if err != nil {
		handler.respondError(ctx, "seo.sitemap", err)
		return
	}
	ctx.Data(http.StatusOK, "application/xml; charset=utf-8", document)
}

func (handler *httpHandler) handleOpenGraph(ctx *gin.Context) {
	card := seo.OpenGraphImage(ctx.Query("title"), ctx.Query("description"))
	ctx.Header("Cache-Control", "public, max-age=86400")
	ctx.Data(http.StatusOK, "image/svg+xml", []byte(card))
}
