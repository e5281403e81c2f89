package aihub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/authevents"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	pathUserInfo       = "/app/user/info"
	pathSTSCredential  = "/api/sts/get-credential"
	headerAppKey       = "appkey"
	headerLanguage     = "language"
	headerAuth         = "Authorization"
	successCodeUser    = 1000
	successCodeSTS     = 0
	maxResponseBytes   = 1 << 20
	defaultTimeout     = 10 * time.Second
	stsActionType      = "default"
	backendLocaleZH    = "zh-cn"
	frontendLocaleZH   = "zh"
	truncatedBodyLimit = 512
)

var (
	// ErrNotConfigured reports a client without a hub base URL.
	ErrNotConfigured = errors.New("aihub: base url not configured")
	// ErrLoginExpired reports a hub token that is no longer accepted.
	ErrLoginExpired = errors.New("aihub: login expired")
	// ErrMissingUser reports a successful response without a user id.
	ErrMissingUser = errors.New("aihub: response has no user id")
)

// ExpiredError carries the auth event raised by an expired hub token.
type ExpiredError struct {
	Event authevents.Event
}

func (err *ExpiredError) Error() string {
	if err.Event.Message == "" {
		return fmt.Sprintf("%s (%s)", ErrLoginExpired.Error(), err.Event.Type)
	}
	return fmt.Sprintf("%s (%s): %s", ErrLoginExpired.Error(), err.Event.Type, err.Event.Message)
}

func (err *ExpiredError) Unwrap() error {
	return ErrLoginExpired
}

// UpstreamError reports a hub response that was neither success nor expiry.
type UpstreamError struct {
	Status  int
	Code    int64
	Message string
}

func (err *UpstreamError) Error() string {
	return fmt.Sprintf("aihub: status %d code %d: %s", err.Status, err.Code, err.Message)
}

// Config describes how to reach the hub.
type Config struct {
	BaseURL string
	AppKey  string
	Timeout time.Duration
}

// UserInfo is the subset of the hub profile the bridge relies on.
type UserInfo struct {
	ID       string
	Email    string
	Nickname string
	Avatar   string
	Phone    string
}

// STSCredentials are temporary object-storage keys issued by the hub.
type STSCredentials struct {
	SecretID     string
	SecretKey    string
	SessionToken string
	StartTime    int64
	ExpiredTime  int64
	Bucket       string
	Region       string
}

// Client talks to the legacy AI Hub backend.
type Client struct {
	baseURL    string
	appKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates cfg and builds a Client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
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
	return &Client{baseURL: baseURL, appKey: cfg.AppKey, httpClient: httpClient, logger: logger}, nil
}

// UserInfo resolves a hub token to the hub user.
func (client *Client) UserInfo(ctx context.Context, token string, locale string) (UserInfo, error) {
	body, err := client.do(ctx, http.MethodGet, pathUserInfo, token, locale, nil)
	if err != nil {
		return UserInfo{}, err
	}
	result := gjson.ParseBytes(body)
	if code := result.Get("code").Int(); code != successCodeUser {
		return UserInfo{}, &UpstreamError{Status: http.StatusOK, Code: code, Message: responseMessage(result)}
	}
	user := result.Get("data.user")
	id := user.Get("id").String()
	if id == "" {
		id = user.Get("uuid").String()
	}
	if id == "" {
		return UserInfo{}, ErrMissingUser
	}
	return UserInfo{
		ID:       id,
		Email:    user.Get("email").String(),
		Nickname: firstNonEmpty(user.Get("nickName").String(), user.Get("nickname").String()),
		Avatar:   firstNonEmpty(user.Get("avatarUrl").String(), user.Get("avatar").String()),
		Phone:    user.Get("phone").String(),
	}, nil
}

// FetchCredentials requests temporary storage credentials for bucket/region.
func (client *Client) FetchCredentials(ctx context.Context, bucket string, region string) (STSCredentials, error) {
	payload := map[string]string{
		"bucket":     bucket,
		"region":     region,
		"actionType": stsActionType,
	}
	body, err := client.do(ctx, http.MethodPost, pathSTSCredential, "", "", payload)
	if err != nil {
		return STSCredentials{}, err
	}
	result := gjson.ParseBytes(body)
	data := result.Get("data")
	if code := result.Get("code").Int(); code != successCodeSTS || !data.Exists() {
		return STSCredentials{}, &UpstreamError{Status: http.StatusOK, Code: code, Message: responseMessage(result)}
	}
	return STSCredentials{
		SecretID:     data.Get("secretId").String(),
		SecretKey:    data.Get("secretKey").String(),
		SessionToken: data.Get("sessionToken").String(),
		StartTime:    data.Get("startTime").Int(),
		ExpiredTime:  data.Get("expiredTime").Int(),
		Bucket:       firstNonEmpty(data.Get("bucket").String(), bucket),
		Region:       firstNonEmpty(data.Get("region").String(), region),
	}, nil
}

func (client *Client) do(ctx context.Context, method string, path string, token string, locale string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("aihub: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("aihub: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if client.appKey != "" {
		request.Header.Set(headerAppKey, client.appKey)
	}
	if token != "" {
		request.Header.Set(headerAuth, token)
	}
	if locale != "" {
		request.Header.Set(headerLanguage, BackendLocale(locale))
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("aihub: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()
	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("aihub: read response: %w", err)
	}

	message := responseMessage(gjson.ParseBytes(body))
	if event, expired := authevents.Classify(response.StatusCode, message); expired {
		client.logger.Info("aihub credential rejected",
			zap.String("path", path),
			zap.String("event", string(event.Type)))
		return nil, &ExpiredError{Event: event}
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		if message == "" {
			message = truncate(string(body))
		}
		return nil, &UpstreamError{Status: response.StatusCode, Message: message}
	}
	return body, nil
}

// BackendLocale maps UI locales to the hub's language header values.
func BackendLocale(locale string) string {
	if strings.EqualFold(locale, frontendLocaleZH) {
		return backendLocaleZH
	}
	return locale
}

func responseMessage(result gjson.Result) string {
	for _, path := range []string{"message", "msg", "data.message"} {
		if value := result.Get(path); value.Type == gjson.String && value.String() != "" {
			return value.String()
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func truncate(value string) string {
	if len(value) <= truncatedBodyLimit {
		return value
	}
	return value[:truncatedBodyLimit] + "..."
}
