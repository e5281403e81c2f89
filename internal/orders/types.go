package orders

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderExists          = errors.New("order already exists")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrConcurrentTransition = errors.New("order status changed concurrently")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrInvalidServiceConfig = errors.New("invalid orders service config")
	ErrUnknownPlan          = errors.New("unknown plan")
	ErrPaymentMismatch      = errors.New("payment does not match order")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Type separates membership purchases from point top-ups.
type Type string

const (
	TypeSubscription Type = "subscription"
	TypePoints       Type = "points"
)

var allowedTransitions = map[Status][]Status{
	StatusCreated: {StatusPending, StatusPaid, StatusCancelled, StatusFailed},
	StatusPending: {StatusPaid, StatusCancelled, StatusFailed},
}

// CanTransition reports whether from may move to to.
func CanTransition(from Status, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a stored status.
func ParseStatus(raw string) (Status, error) {
	switch status := Status(raw); status {
	case StatusCreated, StatusPending, StatusPaid, StatusCancelled, StatusFailed:
		return status, nil
	}
	return "", ErrInvalidOrder
}

// ParseType validates an order type; empty input is allowed and means "any".
func ParseType(raw string) (Type, error) {
	switch orderType := Type(raw); orderType {
	case "", TypeSubscription, TypePoints:
		return orderType, nil
	}
	return "", ErrInvalidOrder
}

// Order is a purchase record.
type Order struct {
	OrderNo     string     `json:"orderNo"`
	UserUUID    string     `json:"userUuid"`
	AmountCents int64      `json:"amount"`
	Currency    string     `json:"currency"`
	Status      Status     `json:"status"`
	Type        Type       `json:"orderType"`
	PayType     string     `json:"payType"`
	PayTradeNo  string     `json:"payTradeNo"`
	PlanCode    string     `json:"planCode"`
	GiftPoints  int64      `json:"giftPoints"`
	Days        int        `json:"days"`
	Description string     `json:"orderDescription"`
	PaidAt      *time.Time `json:"payTime,omitempty"`
	CreatedAt   time.Time  `json:"createTime"`
	UpdatedAt   time.Time  `json:"updateTime"`
}

// Payment is what the payment provider reports for a settled order.
type Payment struct {
	TradeNo     string
	AmountCents int64
	Currency    string
}

// StatusChange carries the fields written alongside a status transition.
type StatusChange struct {
	PayTradeNo string
	PaidAt     *time.Time
	UpdatedAt  time.Time
}

// Store persists orders.
type Store interface {
	Insert(ctx context.Context, order Order) error
	Get(ctx context.Context, orderNo string) (Order, error)
	List(ctx context.Context, userUUID string, orderType Type, offset int, limit int) ([]Order, int64, error)
	// UpdateStatus moves from -> to; ErrConcurrentTransition when the row is no longer in from.
	UpdateStatus(ctx context.Context, orderNo string, from Status, to Status, change StatusChange) error
	ListByStatusBefore(ctx context.Context, status Status, before time.Time, limit int) ([]Order, error)
}
