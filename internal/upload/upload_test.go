package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (clock *fakeClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *fakeClock) Advance(delta time.Duration) {
	clock.mu.Lock()
	clock.now = clock.now.Add(delta)
	clock.mu.Unlock()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
}

type countingFetcher struct {
	calls   atomic.Int32
	expires time.Time
	err     error
	release chan struct{}
}

func (fetcher *countingFetcher) Fetch(ctx context.Context) (Credentials, error) {
	call := fetcher.calls.Add(1)
	if fetcher.release != nil {
		<-fetcher.release
	}
	if fetcher.err != nil {
		return Credentials{}, fetcher.err
	}
	return Credentials{
		AccessKeyID:     fmt.Sprintf("id-%d", call),
		SecretAccessKey: "secret",
		SessionToken:    "token",
		Expires:         fetcher.expires,
	}, nil
}

func mustCache(test *testing.T, fetcher CredentialFetcher, clock *fakeClock) *CredentialCache {
	test.Helper()
	cache, err := NewCredentialCache(fetcher, clock.Now)
	if err != nil {
		test.Fatalf("new cache: %v", err)
	}
	return cache
}

func TestCredentialCacheHonorsRefreshMargin(test *testing.T) {
	test.Parallel()
	clock := newFakeClock()
	fetcher := &countingFetcher{expires: clock.Now().Add(10 * time.Minute)}
	cache := mustCache(test, fetcher, clock)
	ctx := context.Background()

	first, err := cache.Get(ctx)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	second, _ := cache.Get(ctx)
	if first.AccessKeyID != second.AccessKeyID || fetcher.calls.Load() != 1 {
		test.Fatalf("expected cached credentials, got %d fetches", fetcher.calls.Load())
	}

	clock.Advance(5*time.Minute + time.Second)
	third, _ := cache.Get(ctx)
	if third.AccessKeyID == first.AccessKeyID || fetcher.calls.Load() != 2 {
		test.Fatalf("expected refetch inside the 5 minute margin, got %d fetches", fetcher.calls.Load())
	}
}

func TestCredentialCacheSharesInFlightFetch(test *testing.T) {
	test.Parallel()
	clock := newFakeClock()
	fetcher := &countingFetcher{expires: clock.Now().Add(time.Hour), release: make(chan struct{})}
	cache := mustCache(test, fetcher, clock)

	var group sync.WaitGroup
	errs := make(chan error, 8)
	for index := 0; index < 8; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			_, err := cache.Get(context.Background())
			errs <- err
		}()
	}
	for fetcher.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(fetcher.release)
	group.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			test.Fatalf("get: %v", err)
		}
	}
	if fetcher.calls.Load() != 1 {
		test.Fatalf("expected a single fetch, got %d", fetcher.calls.Load())
	}
}

func TestCredentialCacheDefaultsExpiryAndInvalidates(test *testing.T) {
	test.Parallel()
	clock := newFakeClock()
	fetcher := &countingFetcher{}
	cache := mustCache(test, fetcher, clock)

	creds, err := cache.Retrieve(context.Background())
	if err != nil {
		test.Fatalf("retrieve: %v", err)
	}
	if !creds.CanExpire || !creds.Expires.Equal(clock.Now().Add(55*time.Minute)) {
		test.Fatalf("expected expiry one hour out minus margin, got %v", creds.Expires)
	}
	if status := cache.Status(); !status.Valid {
		test.Fatalf("expected valid status")
	}
	cache.Invalidate()
	if status := cache.Status(); status.Valid {
		test.Fatalf("expected invalid status after invalidate")
	}
	if err := cache.Refresh(context.Background()); err != nil || fetcher.calls.Load() != 2 {
		test.Fatalf("expected refresh to refetch, got %d (%v)", fetcher.calls.Load(), err)
	}
}

func TestCredentialCacheFetchError(test *testing.T) {
	test.Parallel()
	cache := mustCache(test, &countingFetcher{err: errors.New("hub down")}, newFakeClock())
	_, err := cache.Get(context.Background())
	if !errors.Is(err, ErrCredentialFetch) || !IsCredentialError(err) {
		test.Fatalf("expected credential fetch error, got %v", err)
	}
}

type scriptedPutter struct {
	mu       sync.Mutex
	failures []error
	keys     []string
	bodies   [][]byte
}

func (putter *scriptedPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	putter.mu.Lock()
	defer putter.mu.Unlock()
	body, _ := io.ReadAll(params.Body)
	putter.keys = append(putter.keys, *params.Key)
	putter.bodies = append(putter.bodies, body)
	if len(putter.failures) > 0 {
		err := putter.failures[0]
		putter.failures = putter.failures[1:]
		return nil, err
	}
	return &s3.PutObjectOutput{}, nil
}

type countingInvalidator struct {
	calls int
}

func (invalidator *countingInvalidator) Invalidate() {
	invalidator.calls++
}

type recordedSleeps struct {
	delays []time.Duration
}

func (sleeps *recordedSleeps) Sleep(ctx context.Context, delay time.Duration) error {
	sleeps.delays = append(sleeps.delays, delay)
	return nil
}

func mustUploader(test *testing.T, putter ObjectPutter, options ...Option) *Uploader {
	test.Helper()
	clock := newFakeClock()
	base := []Option{WithClock(clock.Now), WithRandomSuffix(func() int { return 42 })}
	uploader, err := NewUploader(Config{Bucket: "media-1", Region: "ap-shanghai", KeyPrefix: "pixmind/"}, putter, append(base, options...)...)
	if err != nil {
		test.Fatalf("new uploader: %v", err)
	}
	return uploader
}

func TestUploadKeyAndURL(test *testing.T) {
	test.Parallel()
	putter := &scriptedPutter{}
	uploader := mustUploader(test, putter)
	result, err := uploader.Upload(context.Background(), File{Name: "Photo.PNG", Body: []byte("img")}, TypeImageToPrompt, nil)
	if err != nil {
		test.Fatalf("upload: %v", err)
	}
	expectedKey := "pixmind/image-to-prompt/2026-03-04/1772618400000_000042.png"
	if result.Key != expectedKey {
		test.Fatalf("expected key %s, got %s", expectedKey, result.Key)
	}
	if result.URL != "https://media-1.cos.ap-shanghai.myqcloud.com/"+expectedKey {
		test.Fatalf("unexpected url %s", result.URL)
	}
	if _, err := uploader.Upload(context.Background(), File{Name: "x.png"}, TypeImageToPrompt, nil); !errors.Is(err, ErrEmptyFile) {
		test.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestUploadWithRetryInvalidatesOnCredentialErrors(test *testing.T) {
	test.Parallel()
	putter := &scriptedPutter{failures: []error{
		&smithy.GenericAPIError{Code: "SecurityTokenExpired", Message: "token"},
		errors.New("connection reset"),
	}}
	invalidator := &countingInvalidator{}
	sleeps := &recordedSleeps{}
	uploader := mustUploader(test, putter, WithInvalidators(invalidator), WithSleeper(sleeps.Sleep))

	result, err := uploader.UploadWithRetry(context.Background(), File{Name: "a.jpg", Body: []byte("payload")}, TypeAvatarImage, nil)
	if err != nil {
		test.Fatalf("upload with retry: %v", err)
	}
	if result.Key == "" || len(putter.keys) != 3 {
		test.Fatalf("expected 3 attempts, got %d", len(putter.keys))
	}
	for _, body := range putter.bodies {
		if string(body) != "payload" {
			test.Fatalf("every attempt must resend the full body, got %q", body)
		}
	}
	if invalidator.calls != 1 {
		test.Fatalf("expected 1 invalidation, got %d", invalidator.calls)
	}
	if len(sleeps.delays) != 2 || sleeps.delays[0] != time.Second || sleeps.delays[1] != 2*time.Second {
		test.Fatalf("expected linear delays, got %v", sleeps.delays)
	}
}

func TestUploadWithRetryReportsAttemptCount(test *testing.T) {
	test.Parallel()
	failure := errors.New("AccessDenied: nope")
	putter := &scriptedPutter{failures: []error{failure, failure, failure}}
	invalidator := &countingInvalidator{}
	sleeps := &recordedSleeps{}
	uploader := mustUploader(test, putter, WithInvalidators(invalidator), WithSleeper(sleeps.Sleep))

	_, err := uploader.UploadWithRetry(context.Background(), File{Name: "a.jpg", Body: []byte("x")}, TypeAvatarImage, nil)
	if err == nil || !errors.Is(err, failure) {
		test.Fatalf("expected wrapped failure, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "upload failed after 3 attempts") {
		test.Fatalf("unexpected message %q", err.Error())
	}
	if invalidator.calls != 3 || len(sleeps.delays) != 2 {
		test.Fatalf("expected 3 invalidations and 2 waits, got %d and %d", invalidator.calls, len(sleeps.delays))
	}
}

func TestUploadFilesAggregatesProgress(test *testing.T) {
	test.Parallel()
	uploader := mustUploader(test, &scriptedPutter{})
	var reported []int
	files := []File{{Name: "a.png", Body: []byte("a")}, {Name: "b.png", Body: []byte("b")}}
	results, err := uploader.UploadFiles(context.Background(), files, TypeAvatarImage, func(percent int) {
		reported = append(reported, percent)
	})
	if err != nil || len(results) != 2 {
		test.Fatalf("upload files: %v (%d results)", err, len(results))
	}
	expected := []int{0, 50, 50, 100}
	if fmt.Sprint(reported) != fmt.Sprint(expected) {
		test.Fatalf("expected progress %v, got %v", expected, reported)
	}
}

func TestIsCredentialError(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil},
		{name: "network", err: errors.New("dial tcp: timeout")},
		{name: "expired marker", err: errors.New("request has expired"), expected: true},
		{name: "signature marker", err: errors.New("SignatureDoesNotMatch"), expected: true},
		{name: "smithy code", err: fmt.Errorf("put: %w", &smithy.GenericAPIError{Code: "InvalidAccessKeyId"}), expected: true},
		{name: "smithy other code", err: &smithy.GenericAPIError{Code: "NoSuchBucket"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := IsCredentialError(testCase.err); got != testCase.expected {
				test.Fatalf("expected %v, got %v", testCase.expected, got)
			}
		})
	}
}

func TestParseType(test *testing.T) {
	test.Parallel()
	if uploadType, err := ParseType("/voice-clone/"); err != nil || uploadType != TypeVoiceClone {
		test.Fatalf("expected voice-clone, got %q (%v)", uploadType, err)
	}
	if _, err := ParseType("../etc"); !errors.Is(err, ErrInvalidUploadType) {
		test.Fatalf("expected ErrInvalidUploadType, got %v", err)
	}
}
