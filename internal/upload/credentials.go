package upload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"golang.org/x/sync/singleflight"
)

const (
	credentialSource         = "PixmindSTS"
	defaultRefreshMargin     = 5 * time.Minute
	defaultCredentialTTL     = time.Hour
	singleflightKeyTemporary = "sts"
)

// ErrCredentialFetch wraps failures to obtain temporary credentials.
var ErrCredentialFetch = errors.New("upload: fetch temporary credentials")

// Credentials are short-lived object storage keys.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expires         time.Time
}

// CredentialFetcher obtains a fresh set of temporary credentials.
type CredentialFetcher interface {
	Fetch(ctx context.Context) (Credentials, error)
}

// FetcherFunc adapts a function to CredentialFetcher.
type FetcherFunc func(ctx context.Context) (Credentials, error)

func (fn FetcherFunc) Fetch(ctx context.Context) (Credentials, error) {
	return fn(ctx)
}

// CredentialStatus describes the cached credentials.
type CredentialStatus struct {
	Valid   bool      `json:"valid"`
	Expires time.Time `json:"expires,omitempty"`
}

// CredentialCache keeps temporary credentials until shortly before they expire.
// Concurrent callers share one in-flight fetch.
type CredentialCache struct {
	fetcher CredentialFetcher
	now     func() time.Time
	margin  time.Duration

	mu     sync.Mutex
	cached *Credentials
	group  singleflight.Group
}

// NewCredentialCache builds a cache over fetcher. A nil clock uses time.Now.
func NewCredentialCache(fetcher CredentialFetcher, now func() time.Time) (*CredentialCache, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("upload: credential fetcher is required")
	}
	if now == nil {
		now = time.Now
	}
	return &CredentialCache{fetcher: fetcher, now: now, margin: defaultRefreshMargin}, nil
}

// Get returns cached credentials or fetches new ones.
func (cache *CredentialCache) Get(ctx context.Context) (Credentials, error) {
	if cached, ok := cache.fresh(); ok {
		return cached, nil
	}
	resultCh := cache.group.DoChan(singleflightKeyTemporary, func() (any, error) {
		if cached, ok := cache.fresh(); ok {
			return cached, nil
		}
		fetched, err := cache.fetcher.Fetch(context.WithoutCancel(ctx))
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: %v", ErrCredentialFetch, err)
		}
		if fetched.Expires.IsZero() {
			fetched.Expires = cache.now().Add(defaultCredentialTTL)
		}
		cache.mu.Lock()
		cache.cached = &fetched
		cache.mu.Unlock()
		return fetched, nil
	})
	select {
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	case result := <-resultCh:
		if result.Err != nil {
			return Credentials{}, result.Err
		}
		return result.Val.(Credentials), nil
	}
}

// Retrieve implements aws.CredentialsProvider.
func (cache *CredentialCache) Retrieve(ctx context.Context) (aws.Credentials, error) {
	creds, err := cache.Get(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}
	return aws.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Source:          credentialSource,
		CanExpire:       true,
		Expires:         creds.Expires.Add(-cache.margin),
	}, nil
}

// Invalidate drops the cached credentials.
func (cache *CredentialCache) Invalidate() {
	cache.mu.Lock()
	cache.cached = nil
	cache.mu.Unlock()
}

// Refresh discards the cache and fetches immediately.
func (cache *CredentialCache) Refresh(ctx context.Context) error {
	cache.Invalidate()
	_, err := cache.Get(ctx)
	return err
}

// Status reports whether usable credentials are cached.
func (cache *CredentialCache) Status() CredentialStatus {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.cached == nil {
		return CredentialStatus{}
	}
	return CredentialStatus{
		Valid:   cache.cached.Expires.After(cache.now()),
		Expires: cache.cached.Expires,
	}
}

func (cache *CredentialCache) fresh() (Credentials, bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.cached == nil {
		return Credentials{}, false
	}
	if !cache.cached.Expires.After(cache.now().Add(cache.margin)) {
		return Credentials{}, false
	}
	return *cache.cached, true
}
