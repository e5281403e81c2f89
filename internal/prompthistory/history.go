package prompthistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	keyPrefix = "image-to-prompt-history:"
	// MaxItems is how many entries a user keeps.
	MaxItems       = 20
	idSuffixLength = 9
)

var (
	// ErrEmptyPrompt reports a save without a prompt.
	ErrEmptyPrompt = errors.New("prompthistory: prompt is required")
	// ErrMissingUser reports an empty user uuid.
	ErrMissingUser = errors.New("prompthistory: user is required")
)

// Item is one saved prompt.
type Item struct {
	ID           string `json:"id"`
	Prompt       string `json:"prompt"`
	Timestamp    int64  `json:"timestamp"`
	Model        string `json:"model,omitempty"`
	ImagePreview string `json:"imagePreview,omitempty"`
}

// Storage persists one opaque value per key.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// History keeps the newest prompts per user.
type History struct {
	storage Storage
	now     func() time.Time
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewHistory builds a History. A nil clock uses time.Now.
func NewHistory(storage Storage, now func() time.Time, logger *zap.Logger) (*History, error) {
	if storage == nil {
		return nil, fmt.Errorf("prompthistory: storage is required")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{storage: storage, now: now, logger: logger}, nil
}

// Key is the storage key for a user.
func Key(userUUID string) string {
	return keyPrefix + userUUID
}

// List returns the user's prompts, newest first. Unreadable data lists as empty.
func (history *History) List(ctx context.Context, userUUID string) ([]Item, error) {
	if strings.TrimSpace(userUUID) == "" {
		return nil, ErrMissingUser
	}
	return history.load(ctx, userUUID)
}

// Save prepends a prompt and trims the list to MaxItems.
func (history *History) Save(ctx context.Context, userUUID string, prompt string, model string, preview string) (Item, error) {
	if strings.TrimSpace(userUUID) == "" {
		return Item{}, ErrMissingUser
	}
	if strings.TrimSpace(prompt) == "" {
		return Item{}, ErrEmptyPrompt
	}
	history.mu.Lock()
	defer history.mu.Unlock()

	items, err := history.load(ctx, userUUID)
	if err != nil {
		return Item{}, err
	}
	nowMillis := history.now().UnixMilli()
	item := Item{
		ID:           newItemID(nowMillis),
		Prompt:       prompt,
		Timestamp:    nowMillis,
		Model:        model,
		ImagePreview: preview,
	}
	items = append([]Item{item}, items...)
	if len(items) > MaxItems {
		items = items[:MaxItems]
	}
	if err := history.store(ctx, userUUID, items); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Delete removes one prompt. Unknown ids are ignored.
func (history *History) Delete(ctx context.Context, userUUID string, itemID string) error {
	if strings.TrimSpace(userUUID) == "" {
		return ErrMissingUser
	}
	history.mu.Lock()
	defer history.mu.Unlock()

	items, err := history.load(ctx, userUUID)
	if err != nil {
		return err
	}
	kept := items[:0]
	for _, item := range items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	return history.store(ctx, userUUID, kept)
}

// Clear drops every prompt of the user.
func (history *History) Clear(ctx context.Context, userUUID string) error {
	if strings.TrimSpace(userUUID) == "" {
		return ErrMissingUser
	}
	history.mu.Lock()
	defer history.mu.Unlock()
	if err := history.storage.Delete(ctx, Key(userUUID)); err != nil {
		return fmt.Errorf("prompthistory: clear: %w", err)
	}
	return nil
}

func (history *History) load(ctx context.Context, userUUID string) ([]Item, error) {
	raw, found, err := history.storage.Get(ctx, Key(userUUID))
	if err != nil {
		return nil, fmt.Errorf("prompthistory: load: %w", err)
	}
	if !found || len(raw) == 0 {
		return []Item{}, nil
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		history.logger.Warn("discarding unreadable prompt history", zap.String("user_uuid", userUUID), zap.Error(err))
		return []Item{}, nil
	}
	if len(items) > MaxItems {
		items = items[:MaxItems]
	}
	return items, nil
}

func (history *History) store(ctx context.Context, userUUID string, items []Item) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("prompthistory: encode: %w", err)
	}
	if err := history.storage.Set(ctx, Key(userUUID), encoded); err != nil {
		return fmt.Errorf("prompthistory: store: %w", err)
	}
	return nil
}

func newItemID(nowMillis int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:idSuffixLength]
	return strconv.FormatInt(nowMillis, 10) + "-" + suffix
}
