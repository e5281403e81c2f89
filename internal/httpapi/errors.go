package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/pixmind/internal/authbridge"
	"github.com/MarkoPoloResearchLab/pixmind/internal/catalog"
	"github.com/MarkoPoloResearchLab/pixmind/internal/evolink"
	"github.com/MarkoPoloResearchLab/pixmind/internal/imagecompress"
	"github.com/MarkoPoloResearchLab/pixmind/internal/imageproxy"
	"github.com/MarkoPoloResearchLab/pixmind/internal/orders"
	"github.com/MarkoPoloResearchLab/pixmind/internal/prompthistory"
	"github.com/MarkoPoloResearchLab/pixmind/internal/upload"
	"github.com/MarkoPoloResearchLab/pixmind/internal/users"
	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeSuccess    = 1000
	messageSuccess = "success"
)

var errServiceUnavailable = errors.New("service not configured")

func success(data any) gin.H {
	return gin.H{"code": codeSuccess, "message": messageSuccess, "data": data}
}

func errorResponse(status int, message string) gin.H {
	return gin.H{"code": status, "message": message}
}

type statusRule struct {
	target  error
	status  int
	message string
}

var statusRules = []statusRule{
	{target: errServiceUnavailable, status: http.StatusServiceUnavailable, message: "service not configured"},
	{target: credits.ErrInsufficientCredits, status: http.StatusPaymentRequired, message: "insufficient credits"},
	{target: credits.ErrDuplicateBusinessNo, status: http.StatusConflict, message: "duplicate request"},
	{target: credits.ErrNotRefundable, status: http.StatusConflict, message: "entry not refundable"},
	{target: credits.ErrUnknownEntry, status: http.StatusNotFound, message: "entry not found"},
	{target: credits.ErrInvalidUserUUID, status: http.StatusBadRequest, message: "invalid user"},
	{target: credits.ErrInvalidPoints, status: http.StatusBadRequest, message: "invalid points"},
	{target: credits.ErrInvalidPointsDelta, status: http.StatusBadRequest, message: "invalid points"},
	{target: credits.ErrInvalidBusinessNo, status: http.StatusBadRequest, message: "invalid business no"},
	{target: credits.ErrInvalidMetadataJSON, status: http.StatusBadRequest, message: "invalid metadata"},
	{target: credits.ErrInvalidPage, status: http.StatusBadRequest, message: "invalid page"},
	{target: users.ErrUserNotFound, status: http.StatusNotFound, message: "user not found"},
	{target: users.ErrInvalidUser, status: http.StatusBadRequest, message: "invalid user"},
	{target: users.ErrInvalidAPIKey, status: http.StatusBadRequest, message: "invalid api key"},
	{target: orders.ErrOrderNotFound, status: http.StatusNotFound, message: "order not found"},
	{target: orders.ErrInvalidOrder, status: http.StatusBadRequest, message: "invalid order"},
	{target: orders.ErrUnknownPlan, status: http.StatusBadRequest, message: "unknown plan"},
	{target: orders.ErrPaymentMismatch, status: http.StatusConflict, message: "payment does not match order"},
	{target: orders.ErrInvalidTransition, status: http.StatusConflict, message: "order cannot change to that status"},
	{target: orders.ErrConcurrentTransition, status: http.StatusConflict, message: "order changed concurrently"},
	{target: evolink.ErrEmptyPrompt, status: http.StatusBadRequest, message: "prompt is required"},
	{target: evolink.ErrInvalidTaskID, status: http.StatusBadRequest, message: "invalid task id"},
	{target: imageproxy.ErrMissingURL, status: http.StatusBadRequest, message: "Image URL is required"},
	{target: imageproxy.ErrInvalidURL, status: http.StatusBadRequest, message: "Invalid URL format"},
	{target: imageproxy.ErrTooLarge, status: http.StatusRequestEntityTooLarge, message: "image too large"},
	{target: imagecompress.ErrInvalidQuality, status: http.StatusBadRequest, message: "quality must be between 1 and 100"},
	{target: imagecompress.ErrImageTooLarge, status: http.StatusRequestEntityTooLarge, message: "image dimensions too large"},
	{target: imagecompress.ErrUnsupportedImage, status: http.StatusBadRequest, message: "unsupported image"},
	{target: prompthistory.ErrEmptyPrompt, status: http.StatusBadRequest, message: "prompt is required"},
	{target: upload.ErrInvalidUploadType, status: http.StatusBadRequest, message: "invalid upload type"},
	{target: upload.ErrEmptyFile, status: http.StatusBadRequest, message: "file is empty"},
	{target: catalog.ErrInvalidCatalog, status: http.StatusInternalServerError, message: "Failed to load effects data"},
	{target: authbridge.ErrInvalidGoogleToken, status: http.StatusUnauthorized, message: "invalid google credential"},
	{target: context.DeadlineExceeded, status: http.StatusGatewayTimeout, message: "upstream timeout"},
}

// mapError picks the HTTP status and client message for a domain error.
func mapError(source error) (int, string) {
	var vendorErr *evolink.VendorError
	if errors.As(source, &vendorErr) {
		return upstreamStatus(vendorErr.Status), vendorErr.Message
	}
	var upstreamErr *imageproxy.UpstreamError
	if errors.As(source, &upstreamErr) {
		return upstreamStatus(upstreamErr.Status), "Failed to fetch image: " + upstreamErr.StatusText
	}
	for _, rule := range statusRules {
		if errors.Is(source, rule.target) {
			return rule.status, rule.message
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func upstreamStatus(status int) int {
	if status < 400 || status > 599 {
		return http.StatusBadGateway
	}
	return status
}

func (handler *httpHandler) respondError(ctx *gin.Context, operation string, err error) {
	status, message := mapError(err)
	fields := []zap.Field{zap.String("operation", operation), zap.Int("status", status), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", fields...)
	} else {
		handler.logger.Info("request rejected", fields...)
	}
	body := errorResponse(status, message)
	var vendorErr *evolink.VendorError
	if errors.As(err, &vendorErr) && len(vendorErr.Body) > 0 {
		body["error"] = vendorErr.Body
	}
	ctx.AbortWithStatusJSON(status, body)
}
