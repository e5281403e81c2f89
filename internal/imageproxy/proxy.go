package imageproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	imageAccept      = "image/webp,image/apng,image/*,*/*;q=0.8"
	defaultMaxBytes  = 20 << 20
	defaultTimeout   = 30 * time.Second
)

var (
	// ErrMissingURL reports an empty image URL.
	ErrMissingURL = errors.New("imageproxy: image url is required")
	// ErrInvalidURL reports a URL that is malformed or not http(s).
	ErrInvalidURL = errors.New("imageproxy: invalid url")
	// ErrTooLarge reports a body above the size cap.
	ErrTooLarge = errors.New("imageproxy: image too large")
)

// UpstreamError is a non-2xx answer from the image host.
type UpstreamError struct {
	Status     int
	StatusText string
}

func (err *UpstreamError) Error() string {
	return fmt.Sprintf("imageproxy: upstream status %d %s", err.Status, err.StatusText)
}

// Image is a fetched image body and its content type.
type Image struct {
	Body        []byte
	ContentType string
}

// Fetcher downloads remote images with a browser-like request.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(fetcher *Fetcher) {
		if client != nil {
			fetcher.httpClient = client
		}
	}
}

// WithMaxBytes caps the accepted body size.
func WithMaxBytes(limit int64) Option {
	return func(fetcher *Fetcher) {
		if limit > 0 {
			fetcher.maxBytes = limit
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(fetcher *Fetcher) {
		if logger != nil {
			fetcher.logger = logger
		}
	}
}

// NewFetcher builds a Fetcher.
func NewFetcher(options ...Option) *Fetcher {
	fetcher := &Fetcher{
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxBytes:   defaultMaxBytes,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(fetcher)
	}
	return fetcher
}

// ParseURL accepts only absolute http and https URLs.
func ParseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrMissingURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return parsed, nil
}

// Fetch downloads rawURL. The content type is empty when the host sends none.
func (fetcher *Fetcher) Fetch(ctx context.Context, rawURL string) (Image, error) {
	target, err := ParseURL(rawURL)
	if err != nil {
		return Image{}, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Image{}, fmt.Errorf("imageproxy: build request: %w", err)
	}
	request.Header.Set("User-Agent", browserUserAgent)
	request.Header.Set("Accept", imageAccept)

	response, err := fetcher.httpClient.Do(request)
	if err != nil {
		return Image{}, fmt.Errorf("imageproxy: fetch %s: %w", target.Host, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		fetcher.logger.Info("image fetch rejected",
			zap.String("host", target.Host),
			zap.Int("status", response.StatusCode))
		return Image{}, &UpstreamError{Status: response.StatusCode, StatusText: http.StatusText(response.StatusCode)}
	}
	if response.ContentLength > fetcher.maxBytes {
		return Image{}, ErrTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, fetcher.maxBytes+1))
	if err != nil {
		return Image{}, fmt.Errorf("imageproxy: read body: %w", err)
	}
	if int64(len(body)) > fetcher.maxBytes {
		return Image{}, ErrTooLarge
	}
	return Image{Body: body, ContentType: response.Header.Get("Content-Type")}, nil
}
