package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/pixmind/internal/imageproxy"
	"github.com/MarkoPoloResearchLab/pixmind/internal/upload"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	proxyDefaultContentType    = "image/jpeg"
	downloadDefaultContentType = "image/png"
	proxyCacheControl          = "public, max-age=3600"
	downloadCacheControl       = "public, max-age=31536000"
	headerOriginalSize         = "X-Original-Size"
	headerCompressedSize       = "X-Compressed-Size"
	formFieldFile              = "file"
	formFieldUploadType        = "uploadType"
	formFieldQuality           = "quality"
)

type proxyImageRequest struct {
	ImageURL string `json:"imageUrl"`
}

func (handler *httpHandler) handleProxyImage(ctx *gin.Context) {
	var request proxyImageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "expected JSON body"))
		return
	}
	handler.serveRemoteImage(ctx, "image.proxy", request.ImageURL, proxyDefaultContentType, proxyCacheControl)
}

func (handler *httpHandler) handleImageDownload(ctx *gin.Context) {
	handler.serveRemoteImage(ctx, "image.download", ctx.Query("url"), downloadDefaultContentType, downloadCacheControl)
}

func (handler *httpHandler) serveRemoteImage(ctx *gin.Context, operation string, rawURL string, defaultContentType string, cacheControl string) {
	if handler.deps.Fetcher == nil {
		handler.respondError(ctx, operation, errServiceUnavailable)
		return
	}
	if _, err := imageproxy.ParseURL(rawURL); err != nil {
		handler.respondError(ctx, operation, err)
		return
	}
	callCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.settings.VendorTimeout)
	defer cancel()
	image, err := handler.deps.Fetcher.Fetch(callCtx, rawURL)
	if err != nil {
		handler.respondError(ctx, operation, err)
		return
	}
	contentType := image.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	ctx.Header("Cache-Control", cacheControl)
	ctx.Data(http.StatusOK, contentType, image.Body)
}

func (handler *httpHandler) handleImageCompress(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, handler.settings.MaxCompressBytes)
	body, _, ok := handler.readFormFile(ctx, "image.compress")
	if !ok {
		return
	}
	quality := 0
	if raw := strings.TrimSpace(ctx.PostForm(formFieldQuality)); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "quality must be an integer"))
			return
		}
		quality = parsed
	}
	result, err := handler.deps.Compress(body, quality)
	if err != nil {
		handler.respondError(ctx, "image.compress", err)
		return
	}
	ctx.Header(headerOriginalSize, strconv.Itoa(result.OriginalSize))
	ctx.Header(headerCompressedSize, strconv.Itoa(len(result.Body)))
	ctx.Data(http.StatusOK, result.ContentType, result.Body)
}

func (handler *httpHandler) handleUpload(ctx *gin.Context) {
	if handler.deps.Uploader == nil {
		handler.respondError(ctx, "upload", errServiceUnavailable)
		return
	}
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, handler.settings.MaxUploadBytes)
	uploadType, err := upload.ParseType(ctx.PostForm(formFieldUploadType))
	if err != nil {
		handler.respondError(ctx, "upload", err)
		return
	}
	body, header, ok := handler.readFormFile(ctx, "upload")
	if !ok {
		return
	}
	file := upload.File{Name: header.filename, ContentType: header.contentType, Body: body}
	result, err := handler.deps.Uploader.UploadWithRetry(ctx.Request.Context(), file, uploadType, nil)
	if handler.deps.Metrics != nil {
		handler.deps.Metrics.RecordUpload(string(uploadType), err)
	}
	if err != nil {
		handler.respondError(ctx, "upload", err)
		return
	}
	handler.logger.Info("file uploaded", zap.String("upload_type", string(uploadType)), zap.String("key", result.Key), zap.Int("bytes", len(body)))
	ctx.JSON(http.StatusOK, success(result))
}

type formFileHeader struct {
	filename    string
	contentType string
}

// readFormFile reads the multipart "file" field; it writes the error response itself.
func (handler *httpHandler) readFormFile(ctx *gin.Context, operation string) ([]byte, formFileHeader, bool) {
	fileHeader, err := ctx.FormFile(formFieldFile)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			ctx.JSON(http.StatusRequestEntityTooLarge, errorResponse(http.StatusRequestEntityTooLarge, "file too large"))
			return nil, formFileHeader{}, false
		}
		ctx.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "file is required"))
		return nil, formFileHeader{}, false
	}
	opened, err := fileHeader.Open()
	if err != nil {
		handler.respondError(ctx, operation, err)
		return nil, formFileHeader{}, false
	}
	defer opened.Close()
	body, err := io.ReadAll(opened)
	if err != nil {
		handler.respondError(ctx, operation, err)
		return nil, formFileHeader{}, false
	}
	return body, formFileHeader{filename: fileHeader.Filename, contentType: fileHeader.Header.Get("Content-Type")}, true
}
