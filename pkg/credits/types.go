package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Points is a non-negative credit quantity.
type Points int64

// PositivePoints is a strictly positive credit quantity.
type PositivePoints int64

// PointsDelta is a signed, non-zero change applied to a balance.
type PointsDelta int64

// UserUUID identifies the owner of a credit account.
type UserUUID struct {
	value string
}

// BusinessNo is the per-user idempotency key of an entry.
type BusinessNo struct {
	value string
}

// MetadataJSON stores arbitrary entry metadata.
type MetadataJSON struct {
	value string
}

// BusinessType tags the reason an entry was written.
type BusinessType string

const (
	BusinessNewUser          BusinessType = "new_user"
	BusinessPurchase         BusinessType = "purchase"
	BusinessSubscriptionGift BusinessType = "subscription_gift"
	BusinessConsume          BusinessType = "consume"
	BusinessRefund           BusinessType = "refund"
	BusinessAdminAdjust      BusinessType = "admin_adjust"
	BusinessInviteReward     BusinessType = "invite_reward"
)

// NewUserUUID validates and normalizes a user uuid.
func NewUserUUID(raw string) (UserUUID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserUUID{}, fmt.Errorf("%w: empty value", ErrInvalidUserUUID)
	}
	return UserUUID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserUUID) String() string {
	return id.value
}

// NewBusinessNo validates and normalizes a business number.
func NewBusinessNo(raw string) (BusinessNo, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BusinessNo{}, fmt.Errorf("%w: empty value", ErrInvalidBusinessNo)
	}
	return BusinessNo{value: trimmed}, nil
}

// String returns the normalized business number.
func (businessNo BusinessNo) String() string {
	return businessNo.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewPoints validates a balance value.
func NewPoints(raw int64) (Points, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidPoints)
	}
	return Points(raw), nil
}

// Int64 exposes the raw value.
func (points Points) Int64() int64 {
	return int64(points)
}

// NewPositivePoints validates an amount and ensures it is strictly positive.
func NewPositivePoints(raw int64) (PositivePoints, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPoints)
	}
	return PositivePoints(raw), nil
}

// Int64 exposes the raw value.
func (points PositivePoints) Int64() int64 {
	return int64(points)
}

// ToDelta converts the amount into a credit delta.
func (points PositivePoints) ToDelta() PointsDelta {
	return PointsDelta(points)
}

// NewPointsDelta validates a signed delta.
func NewPointsDelta(raw int64) (PointsDelta, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must not be zero", ErrInvalidPointsDelta)
	}
	return PointsDelta(raw), nil
}

// Int64 exposes the raw value.
func (delta PointsDelta) Int64() int64 {
	return int64(delta)
}

// Negated flips the sign.
func (delta PointsDelta) Negated() PointsDelta {
	return -delta
}

// ParseBusinessType validates a stored business type.
func ParseBusinessType(raw string) (BusinessType, error) {
	businessType := BusinessType(strings.TrimSpace(raw))
	switch businessType {
	case BusinessNewUser, BusinessPurchase, BusinessSubscriptionGift, BusinessConsume, BusinessRefund, BusinessAdminAdjust, BusinessInviteReward:
		return businessType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBusinessType, raw)
	}
}

// String returns the stored representation.
func (businessType BusinessType) String() string {
	return string(businessType)
}

// Entry is a single immutable line in a user's credit history.
type Entry struct {
	ID             int64
	UserUUID       UserUUID
	Delta          PointsDelta
	BalanceAfter   Points
	BusinessType   BusinessType
	BusinessNo     BusinessNo
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// Account is the current balance of a user.
type Account struct {
	UserUUID UserUUID
	Balance  Points
}

// HistoryPage is one page of entries, newest first.
type HistoryPage struct {
	Entries  []Entry
	Total    int64
	Page     int
	PageSize int
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// GetOrCreateAccount locks the account row when called inside WithTx.
	GetOrCreateAccount(ctx context.Context, userUUID UserUUID) (Account, error)
	// UpdateBalance is a compare-and-set; ErrConcurrentUpdate when the stored balance differs from from.
	UpdateBalance(ctx context.Context, userUUID UserUUID, from Points, to Points) error
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	FindEntry(ctx context.Context, userUUID UserUUID, businessNo BusinessNo) (Entry, error)
	ListEntries(ctx context.Context, userUUID UserUUID, offset int, limit int) ([]Entry, error)
	CountEntries(ctx context.Context, userUUID UserUUID) (int64, error)
}
