package prompthistory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func mustHistory(test *testing.T, storage Storage) *History {
	test.Helper()
	current := time.UnixMilli(1700000000000)
	history, err := NewHistory(storage, func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}, nil)
	if err != nil {
		test.Fatalf("new history: %v", err)
	}
	return history
}

func TestSaveKeepsNewestTwenty(test *testing.T) {
	test.Parallel()
	history := mustHistory(test, NewMemoryStorage())
	ctx := context.Background()
	for index := 0; index < MaxItems+5; index++ {
		if _, err := history.Save(ctx, "user-1", fmt.Sprintf("prompt %d", index), "gemini", ""); err != nil {
			test.Fatalf("save: %v", err)
		}
	}
	items, err := history.List(ctx, "user-1")
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(items) != MaxItems {
		test.Fatalf("expected %d items, got %d", MaxItems, len(items))
	}
	if items[0].Prompt != "prompt 24" || items[MaxItems-1].Prompt != "prompt 5" {
		test.Fatalf("expected newest first, got %s ... %s", items[0].Prompt, items[MaxItems-1].Prompt)
	}
	others, _ := history.List(ctx, "user-2")
	if len(others) != 0 {
		test.Fatalf("expected isolated users, got %d items", len(others))
	}
}

func TestDeleteAndClear(test *testing.T) {
	test.Parallel()
	history := mustHistory(test, NewMemoryStorage())
	ctx := context.Background()
	first, _ := history.Save(ctx, "user-1", "first", "", "")
	second, _ := history.Save(ctx, "user-1", "second", "", "data:image/png;base64,AA")

	if err := history.Delete(ctx, "user-1", first.ID); err != nil {
		test.Fatalf("delete: %v", err)
	}
	items, _ := history.List(ctx, "user-1")
	if len(items) != 1 || items[0].ID != second.ID || items[0].ImagePreview == "" {
		test.Fatalf("unexpected items after delete %+v", items)
	}
	if err := history.Delete(ctx, "user-1", "missing"); err != nil {
		test.Fatalf("delete unknown: %v", err)
	}
	if err := history.Clear(ctx, "user-1"); err != nil {
		test.Fatalf("clear: %v", err)
	}
	if items, _ := history.List(ctx, "user-1"); len(items) != 0 {
		test.Fatalf("expected empty history, got %d", len(items))
	}
}

func TestCorruptDataReadsAsEmpty(test *testing.T) {
	test.Parallel()
	storage := NewMemoryStorage()
	storage.Set(context.Background(), Key("user-1"), []byte("{not json"))
	history := mustHistory(test, storage)

	items, err := history.List(context.Background(), "user-1")
	if err != nil || len(items) != 0 {
		test.Fatalf("expected empty list, got %v (%v)", items, err)
	}
	if _, err := history.Save(context.Background(), "user-1", "fresh", "", ""); err != nil {
		test.Fatalf("save over corrupt data: %v", err)
	}
	if items, _ := history.List(context.Background(), "user-1"); len(items) != 1 {
		test.Fatalf("expected one item, got %d", len(items))
	}
}

type failingStorage struct{}

func (failingStorage) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStorage) Set(ctx context.Context, key string, value []byte) error {
	return errors.New("connection refused")
}

func (failingStorage) Delete(ctx context.Context, key string) error {
	return errors.New("connection refused")
}

func TestValidationAndStorageErrors(test *testing.T) {
	test.Parallel()
	history := mustHistory(test, failingStorage{})
	ctx := context.Background()
	if _, err := history.Save(ctx, "", "prompt", "", ""); !errors.Is(err, ErrMissingUser) {
		test.Fatalf("expected ErrMissingUser, got %v", err)
	}
	if _, err := history.Save(ctx, "user-1", "  ", "", ""); !errors.Is(err, ErrEmptyPrompt) {
		test.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
	if _, err := history.List(ctx, "user-1"); err == nil {
		test.Fatalf("expected storage error")
	}
	if _, err := NewRedisStorage(nil); err == nil {
		test.Fatalf("expected error for nil redis client")
	}
}
