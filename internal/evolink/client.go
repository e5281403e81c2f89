package evolink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	pathGenerations  = "/v1/images/generations"
	pathTasks        = "/v1/tasks/"
	defaultModel     = "nano-banana-2-lite"
	defaultSize      = "auto"
	defaultQuality   = "2K"
	defaultTimeout   = 60 * time.Second
	maxResponseBytes = 4 << 20
)

var (
	// ErrNotConfigured reports a client without an API key or base URL.
	ErrNotConfigured = errors.New("evolink: not configured")
	// ErrEmptyPrompt reports a generation request without a prompt.
	ErrEmptyPrompt = errors.New("evolink: prompt is required")
	// ErrInvalidTaskID reports an empty or malformed task id.
	ErrInvalidTaskID = errors.New("evolink: invalid task id")
)

// VendorError is a non-2xx answer from the vendor.
type VendorError struct {
	Status  int
	Message string
	Body    json.RawMessage
}

func (err *VendorError) Error() string {
	return fmt.Sprintf("evolink: status %d: %s", err.Status, err.Message)
}

// Config describes how to reach the vendor.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GenerateRequest is the image generation input. Empty fields take vendor defaults.
type GenerateRequest struct {
	Prompt    string   `json:"prompt"`
	Size      string   `json:"size,omitempty"`
	Quality   string   `json:"quality,omitempty"`
	ImageURLs []string `json:"image_urls,omitempty"`
	Model     string   `json:"model,omitempty"`
}

// Client calls the Evolink image API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, apiKey: strings.TrimSpace(cfg.APIKey), httpClient: httpClient, logger: logger}, nil
}

// Normalize fills defaults and trims the prompt.
func (request GenerateRequest) Normalize() (GenerateRequest, error) {
	request.Prompt = strings.TrimSpace(request.Prompt)
	if request.Prompt == "" {
		return GenerateRequest{}, ErrEmptyPrompt
	}
	if request.Size == "" {
		request.Size = defaultSize
	}
	if request.Quality == "" {
		request.Quality = defaultQuality
	}
	if request.Model == "" {
		request.Model = defaultModel
	}
	if len(request.ImageURLs) == 0 {
		request.ImageURLs = nil
	}
	return request, nil
}

// Generate submits a generation task and returns the vendor's JSON as is.
func (client *Client) Generate(ctx context.Context, request GenerateRequest) (json.RawMessage, error) {
	normalized, err := request.Normalize()
	if err != nil {
		return nil, err
	}
	client.logger.Info("evolink generate",
		zap.String("model", normalized.Model),
		zap.String("size", normalized.Size),
		zap.String("quality", normalized.Quality),
		zap.Int("image_urls", len(normalized.ImageURLs)))
	return client.do(ctx, http.MethodPost, pathGenerations, normalized)
}

// Task returns the vendor's JSON for one task.
func (client *Client) Task(ctx context.Context, taskID string) (json.RawMessage, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" || strings.ContainsAny(taskID, "/?#") {
		return nil, ErrInvalidTaskID
	}
	return client.do(ctx, http.MethodGet, pathTasks+url.PathEscape(taskID), nil)
}

func (client *Client) do(ctx context.Context, method string, path string, payload any) (json.RawMessage, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("evolink: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("evolink: build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.apiKey)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("evolink: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("evolink: read response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		vendorErr := &VendorError{Status: response.StatusCode, Message: http.StatusText(response.StatusCode)}
		if gjson.ValidBytes(body) {
			parsed := gjson.ParseBytes(body)
			if detail := parsed.Get("error"); detail.Exists() {
				vendorErr.Body = json.RawMessage(detail.Raw)
			}
			if message := parsed.Get("error.message").String(); message != "" {
				vendorErr.Message = message
			}
		}
		client.logger.Warn("evolink request failed",
			zap.String("path", path),
			zap.Int("status", response.StatusCode),
			zap.String("message", vendorErr.Message))
		return nil, vendorErr
	}
	if !gjson.ValidBytes(body) {
		return nil, &VendorError{Status: response.StatusCode, Message: "response is not json"}
	}
	return json.RawMessage(body), nil
}
