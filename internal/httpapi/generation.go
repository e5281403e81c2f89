package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MarkoPoloResearchLab/pixmind/internal/authbridge"
	"github.com/MarkoPoloResearchLab/pixmind/internal/evolink"
	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	vendorEvolink           = "evolink"
	businessNoConsumePrefix = "consume:"
)

type generationCharge struct {
	Model   string `json:"model"`
	Item    string `json:"item"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
}

func (handler *httpHandler) handleGenerate(ctx *gin.Context) {
	if handler.deps.Generator == nil {
		handler.respondError(ctx, "evolink.generate", errServiceUnavailable)
		return
	}
	identity, _ := authbridge.IdentityFrom(ctx)
	var request evolink.GenerateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "expected JSON body"))
		return
	}
	normalized, err := request.Normalize()
	if err != nil {
		handler.respondError(ctx, "evolink.generate", err)
		return
	}

	cost, itemType := handler.generationCost(normalized)
	var charged *credits.Entry
	if cost > 0 {
		entry, chargeErr := handler.chargeGeneration(ctx.Request.Context(), identity.UserUUID, cost, itemType, normalized)
		if chargeErr != nil {
			handler.respondError(ctx, "evolink.generate", chargeErr)
			return
		}
		charged = &entry
	}

	callCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.settings.VendorTimeout)
	defer cancel()
	raw, err := handler.deps.Generator.Generate(callCtx, normalized)
	handler.recordVendorCall("generate", err)
	if err != nil {
		if charged != nil {
			handler.refundGeneration(context.WithoutCancel(ctx.Request.Context()), *charged)
		}
		handler.respondError(ctx, "evolink.generate", err)
		return
	}
	body := success(raw)
	body["creditsCost"] = cost
	ctx.JSON(http.StatusOK, body)
}

func (handler *httpHandler) handleTask(ctx *gin.Context) {
	if handler.deps.Generator == nil {
		handler.respondError(ctx, "evolink.task", errServiceUnavailable)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.settings.VendorTimeout)
	defer cancel()
	raw, err := handler.deps.Generator.Task(callCtx, ctx.Param("taskId"))
	handler.recordVendorCall("task", err)
	if err != nil {
		handler.respondError(ctx, "evolink.task", err)
		return
	}
	ctx.JSON(http.StatusOK, success(raw))
}

// generationCost prices a request at the standard member level; unknown models are free.
func (handler *httpHandler) generationCost(request evolink.GenerateRequest) (int64, string) {
	itemType, ok := credits.MapImageModel(request.Model)
	if !ok || handler.deps.Pricing == nil {
		return 0, itemType
	}
	return handler.deps.Pricing.CreditsFor(itemType, credits.MemberStandard, credits.PricingParams{
		AspectRatio: request.Size,
		Resolution:  request.Quality,
	}), itemType
}

func (handler *httpHandler) chargeGeneration(ctx context.Context, rawUserUUID string, cost int64, itemType string, request evolink.GenerateRequest) (credits.Entry, error) {
	userUUID, err := credits.NewUserUUID(rawUserUUID)
	if err != nil {
		return credits.Entry{}, err
	}
	amount, err := credits.NewPositivePoints(cost)
	if err != nil {
		return credits.Entry{}, err
	}
	businessNo, err := credits.NewBusinessNo(businessNoConsumePrefix + uuid.NewString())
	if err != nil {
		return credits.Entry{}, err
	}
	encoded, err := json.Marshal(generationCharge{Model: request.Model, Item: itemType, Size: request.Size, Quality: request.Quality})
	if err != nil {
		return credits.Entry{}, err
	}
	metadata, err := credits.NewMetadataJSON(string(encoded))
	if err != nil {
		return credits.Entry{}, err
	}
	return handler.deps.Credits.Spend(ctx, userUUID, amount, credits.BusinessConsume, businessNo, metadata)
}

func (handler *httpHandler) refundGeneration(ctx context.Context, charged credits.Entry) {
	metadata, err := credits.NewMetadataJSON(`{"reason":"vendor_failure"}`)
	if err == nil {
		_, err = handler.deps.Credits.Refund(ctx, charged.UserUUID, charged.BusinessNo, metadata)
	}
	if err != nil {
		handler.logger.Error("generation refund failed",
			zap.String("user_uuid", charged.UserUUID.String()),
			zap.String("business_no", charged.BusinessNo.String()),
			zap.Error(err))
		return
	}
	handler.logger.Info("generation refunded",
		zap.String("user_uuid", charged.UserUUID.String()),
		zap.String("business_no", charged.BusinessNo.String()))
}

func (handler *httpHandler) recordVendorCall(operation string, err error) {
	if handler.deps.Metrics != nil {
		handler.deps.Metrics.RecordVendorCall(vendorEvolink, operation, err)
	}
}
