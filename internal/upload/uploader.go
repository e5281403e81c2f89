package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
	defaultExtension  = "bin"
	dateLayout        = "2006-01-02"
	randomSuffixSpan  = 1000000
)

var (
	// ErrInvalidUploadType reports an upload type outside the allowed set.
	ErrInvalidUploadType = errors.New("upload: invalid upload type")
	// ErrEmptyFile reports a file without content.
	ErrEmptyFile = errors.New("upload: empty file")
	// ErrInvalidConfig reports unusable uploader settings.
	ErrInvalidConfig = errors.New("upload: invalid configuration")
)

// Type selects the folder an upload lands in.
type Type string

const (
	TypeAvatarImage         Type = "avatar-training/image"
	TypeAvatarVideo         Type = "avatar-training/video"
	TypeAvatarGenerateImage Type = "avatar-training/generate/image"
	TypeAvatarGenerateVideo Type = "avatar-training/generate/video"
	TypeVoiceClone          Type = "voice-clone"
	TypeVideoAudio          Type = "video-generation/audio"
	TypeImageToPrompt       Type = "image-to-prompt"
)

// ParseType validates a raw upload type.
func ParseType(raw string) (Type, error) {
	uploadType := Type(strings.Trim(strings.TrimSpace(raw), "/"))
	switch uploadType {
	case TypeAvatarImage, TypeAvatarVideo, TypeAvatarGenerateImage, TypeAvatarGenerateVideo, TypeVoiceClone, TypeVideoAudio, TypeImageToPrompt:
		return uploadType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUploadType, raw)
	}
}

// File is one object to upload; Body is kept in memory so retries can resend it.
type File struct {
	Name        string
	ContentType string
	Body        []byte
}

// Result locates an uploaded object.
type Result struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// ProgressFunc receives an integer percentage.
type ProgressFunc func(percent int)

// ObjectPutter is the subset of the S3 client the uploader uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Invalidator drops cached credentials after a credential failure.
type Invalidator interface {
	Invalidate()
}

// Config describes the target bucket.
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	KeyPrefix     string
	MaxRetries    int
	BaseDelay     time.Duration
}

// Uploader writes files to S3-compatible storage with credential-aware retries.
type Uploader struct {
	cfg          Config
	client       ObjectPutter
	invalidators []Invalidator
	now          func() time.Time
	randomSuffix func() int
	sleep        func(ctx context.Context, delay time.Duration) error
	logger       *zap.Logger
}

// Option customizes an Uploader.
type Option func(*Uploader)

// WithInvalidators registers caches dropped on credential errors.
func WithInvalidators(invalidators ...Invalidator) Option {
	return func(uploader *Uploader) {
		uploader.invalidators = append(uploader.invalidators, invalidators...)
	}
}

// WithClock overrides the key timestamp source.
func WithClock(now func() time.Time) Option {
	return func(uploader *Uploader) {
		if now != nil {
			uploader.now = now
		}
	}
}

// WithSleeper overrides the retry wait.
func WithSleeper(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(uploader *Uploader) {
		if sleep != nil {
			uploader.sleep = sleep
		}
	}
}

// WithRandomSuffix overrides the six digit key suffix source.
func WithRandomSuffix(random func() int) Option {
	return func(uploader *Uploader) {
		if random != nil {
			uploader.randomSuffix = random
		}
	}
}

// WithLogger sets the uploader logger.
func WithLogger(logger *zap.Logger) Option {
	return func(uploader *Uploader) {
		if logger != nil {
			uploader.logger = logger
		}
	}
}

// NewUploader validates cfg and builds an Uploader over client.
func NewUploader(cfg Config, client ObjectPutter, options ...Option) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: storage client is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Bucket) == "" || strings.TrimSpace(cfg.Region) == "" {
		return nil, fmt.Errorf("%w: bucket and region are required", ErrInvalidConfig)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	uploader := &Uploader{
		cfg:          cfg,
		client:       client,
		now:          time.Now,
		randomSuffix: func() int { return rand.IntN(randomSuffixSpan) },
		sleep:        sleepContext,
		logger:       zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(uploader)
		}
	}
	return uploader, nil
}

// NewS3Client builds an S3 client for a COS-style endpoint.
// provider is wrapped in an aws.CredentialsCache which is returned so it can be invalidated too.
func NewS3Client(cfg Config, provider aws.CredentialsProvider) (*s3.Client, *aws.CredentialsCache) {
	sdkCache := aws.NewCredentialsCache(provider)
	options := s3.Options{
		Region:      cfg.Region,
		Credentials: sdkCache,
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://cos.%s.myqcloud.com", cfg.Region)
	}
	options.BaseEndpoint = aws.String(endpoint)
	return s3.New(options), sdkCache
}

// StaticProvider returns a provider for long-lived keys.
func StaticProvider(accessKeyID string, secretAccessKey string) aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
}

// Upload stores one file and returns its key and public URL.
func (uploader *Uploader) Upload(ctx context.Context, file File, uploadType Type, progress ProgressFunc) (Result, error) {
	if len(file.Body) == 0 {
		return Result{}, ErrEmptyFile
	}
	key := uploader.generateKey(file, uploadType)
	report(progress, 0)
	input := &s3.PutObjectInput{
		Bucket: aws.String(uploader.cfg.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(file.Body),
	}
	if file.ContentType != "" {
		input.ContentType = aws.String(file.ContentType)
	}
	if _, err := uploader.client.PutObject(ctx, input); err != nil {
		return Result{}, fmt.Errorf("put object %s: %w", key, err)
	}
	report(progress, 100)
	return Result{Key: key, URL: uploader.PublicURL(key)}, nil
}

// UploadWithRetry retries Upload up to MaxRetries times, waiting BaseDelay*attempt between tries.
// Credential errors drop every registered credential cache before the next try.
func (uploader *Uploader) UploadWithRetry(ctx context.Context, file File, uploadType Type, progress ProgressFunc) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= uploader.cfg.MaxRetries; attempt++ {
		result, err := uploader.Upload(ctx, file, uploadType, progress)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrEmptyFile) {
			return Result{}, err
		}
		if IsCredentialError(err) {
			uploader.invalidateCredentials()
		}
		uploader.logger.Warn("upload attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", uploader.cfg.MaxRetries),
			zap.Error(err))
		if attempt == uploader.cfg.MaxRetries {
			break
		}
		if err := uploader.sleep(ctx, uploader.cfg.BaseDelay*time.Duration(attempt)); err != nil {
			return Result{}, err
		}
	}
	return Result{}, fmt.Errorf("upload failed after %d attempts: %w", uploader.cfg.MaxRetries, lastErr)
}

// UploadFiles uploads sequentially and reports aggregated progress.
func (uploader *Uploader) UploadFiles(ctx context.Context, files []File, uploadType Type, progress ProgressFunc) ([]Result, error) {
	results := make([]Result, 0, len(files))
	total := len(files)
	for index, file := range files {
		position := index
		result, err := uploader.UploadWithRetry(ctx, file, uploadType, func(percent int) {
			report(progress, AggregateProgress(position, percent, total))
		})
		if err != nil {
			return results, fmt.Errorf("file %d (%s): %w", index+1, file.Name, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// AggregateProgress combines per-file progress into batch progress.
func AggregateProgress(index int, percent int, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(index*100+percent) / float64(total)))
}

// PublicURL builds the object URL from the public base or the COS default host.
func (uploader *Uploader) PublicURL(key string) string {
	if base := strings.TrimRight(strings.TrimSpace(uploader.cfg.PublicBaseURL), "/"); base != "" {
		return base + "/" + key
	}
	return fmt.Sprintf("https://%s.cos.%s.myqcloud.com/%s", uploader.cfg.Bucket, uploader.cfg.Region, key)
}

func (uploader *Uploader) generateKey(file File, uploadType Type) string {
	now := uploader.now()
	filename := fmt.Sprintf("%d_%06d.%s", now.UnixMilli(), uploader.randomSuffix()%randomSuffixSpan, fileExtension(file))
	return path.Join(strings.Trim(uploader.cfg.KeyPrefix, "/"), string(uploadType), now.Format(dateLayout), filename)
}

func (uploader *Uploader) invalidateCredentials() {
	for _, invalidator := range uploader.invalidators {
		invalidator.Invalidate()
	}
}

func fileExtension(file File) string {
	if ext := strings.TrimPrefix(path.Ext(file.Name), "."); ext != "" {
		return strings.ToLower(ext)
	}
	return extensionFromContentType(file.ContentType)
}

func extensionFromContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "video/mp4":
		return "mp4"
	case "audio/mpeg":
		return "mp3"
	case "audio/wav", "audio/x-wav":
		return "wav"
	default:
		return defaultExtension
	}
}

var credentialErrorMarkers = []string{
	"credentials",
	"expired",
	"InvalidAccessKeyId",
	"SignatureDoesNotMatch",
	"AccessDenied",
	"SecurityTokenExpired",
}

var credentialErrorCodes = map[string]struct{}{
	"InvalidAccessKeyId":    {},
	"SignatureDoesNotMatch": {},
	"AccessDenied":          {},
	"SecurityTokenExpired":  {},
	"ExpiredToken":          {},
	"InvalidToken":          {},
}

// IsCredentialError reports failures that fresh credentials may fix.
func IsCredentialError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCredentialFetch) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := credentialErrorCodes[apiErr.ErrorCode()]; ok {
			return true
		}
	}
	message := err.Error()
	for _, marker := range credentialErrorMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func report(progress ProgressFunc, percent int) {
	if progress != nil {
		progress(percent)
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
