package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/google/uuid"
)

const (
	orderBusinessPrefix = "order:"
	orderNoTimeLayout   = "20060102150405"
	defaultPageSize     = 10
	maxPageSize         = 100
	staleBatchSize      = 100
	defaultCurrency     = "USD"
)

// CreditGranter is the part of the credit service used when an order settles.
type CreditGranter interface {
	Grant(ctx context.Context, userUUID credits.UserUUID, amount credits.PositivePoints, businessType credits.BusinessType, businessNo credits.BusinessNo, metadata credits.MetadataJSON) (credits.Entry, error)
}

// CreateRequest describes a new order.
type CreateRequest struct {
	UserUUID    string
	AmountCents int64
	Currency    string
	Type        Type
	PayType     string
	PlanCode    string
	GiftPoints  int64
	Days        int
	Description string
}

// Page is one page of orders.
type Page struct {
	Orders   []Order `json:"list"`
	Total    int64   `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}

// Service manages the order lifecycle.
type Service struct {
	store   Store
	granter CreditGranter
	nowFn   func() time.Time
	newID   func() string
	plans   Plans
}

// Option customizes a Service.
type Option func(*Service)

// WithPlans sets the catalog CreateForPlan prices from.
func WithPlans(plans Plans) Option {
	return func(service *Service) {
		if plans != nil {
			service.plans = plans
		}
	}
}

// NewService wires a Service.
func NewService(store Store, granter CreditGranter, now func() time.Time, options ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if granter == nil {
		return nil, fmt.Errorf("%w: credit granter dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, granter: granter, nowFn: now, newID: uuid.NewString, plans: Plans{}}
	for _, option := range options {
		option(service)
	}
	return service, nil
}

// Plans returns the purchasable plans.
func (service *Service) Plans() []Plan {
	return service.plans.Sorted()
}

// CreateForPlan records an order priced from the plan table. Price, grants and duration never come from the caller.
func (service *Service) CreateForPlan(ctx context.Context, userUUID string, planCode string, payType string) (Order, error) {
	plan, err := service.plans.Lookup(planCode)
	if err != nil {
		return Order{}, err
	}
	return service.Create(ctx, CreateRequest{
		UserUUID:    userUUID,
		AmountCents: plan.AmountCents,
		Currency:    plan.Currency,
		Type:        plan.Type,
		PayType:     payType,
		PlanCode:    plan.Code,
		GiftPoints:  plan.GiftPoints,
		Days:        plan.Days,
		Description: plan.Name,
	})
}

// Create records a new order in the created state.
func (service *Service) Create(ctx context.Context, request CreateRequest) (Order, error) {
	if strings.TrimSpace(request.UserUUID) == "" {
		return Order{}, fmt.Errorf("%w: user uuid is required", ErrInvalidOrder)
	}
	if request.AmountCents <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if request.GiftPoints < 0 || request.Days < 0 {
		return Order{}, fmt.Errorf("%w: gift points and days must not be negative", ErrInvalidOrder)
	}
	if request.Type != TypeSubscription && request.Type != TypePoints {
		return Order{}, fmt.Errorf("%w: unknown order type %q", ErrInvalidOrder, request.Type)
	}
	currency := strings.ToUpper(strings.TrimSpace(request.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	now := service.nowFn()
	order := Order{
		OrderNo:     service.nextOrderNo(now),
		UserUUID:    strings.TrimSpace(request.UserUUID),
		AmountCents: request.AmountCents,
		Currency:    currency,
		Status:      StatusCreated,
		Type:        request.Type,
		PayType:     strings.TrimSpace(request.PayType),
		PlanCode:    strings.TrimSpace(request.PlanCode),
		GiftPoints:  request.GiftPoints,
		Days:        request.Days,
		Description: strings.TrimSpace(request.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := service.store.Insert(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Get returns an order by number.
func (service *Service) Get(ctx context.Context, orderNo string) (Order, error) {
	return service.store.Get(ctx, strings.TrimSpace(orderNo))
}

// List pages through a user's orders, newest first. An empty orderType lists all.
func (service *Service) List(ctx context.Context, userUUID string, orderType Type, page int, pageSize int) (Page, error) {
	if page < 1 {
		return Page{}, fmt.Errorf("%w: page must be >= 1", ErrInvalidOrder)
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	orders, total, err := service.store.List(ctx, userUUID, orderType, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, err
	}
	return Page{Orders: orders, Total: total, Page: page, PageSize: pageSize}, nil
}

// MarkPending records that checkout started.
func (service *Service) MarkPending(ctx context.Context, orderNo string) (Order, error) {
	return service.transition(ctx, orderNo, StatusPending)
}

// Cancel closes an unpaid order.
func (service *Service) Cancel(ctx context.Context, orderNo string) (Order, error) {
	return service.transition(ctx, orderNo, StatusCancelled)
}

// Fail closes an order whose payment failed.
func (service *Service) Fail(ctx context.Context, orderNo string) (Order, error) {
	return service.transition(ctx, orderNo, StatusFailed)
}

// MarkPaid settles an order and grants its gift points. The payment must match the order's price.
// The status changes before the grant. A repeated notification re-runs the grant, which is idempotent.
func (service *Service) MarkPaid(ctx context.Context, orderNo string, payment Payment) (Order, error) {
	order, err := service.store.Get(ctx, strings.TrimSpace(orderNo))
	if err != nil {
		return Order{}, err
	}
	if err := checkPayment(order, payment); err != nil {
		return Order{}, err
	}
	if order.Status != StatusPaid {
		if !CanTransition(order.Status, StatusPaid) {
			return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, StatusPaid)
		}
		now := service.nowFn()
		change := StatusChange{PayTradeNo: strings.TrimSpace(payment.TradeNo), PaidAt: &now, UpdatedAt: now}
		err := service.store.UpdateStatus(ctx, order.OrderNo, order.Status, StatusPaid, change)
		switch {
		case errors.Is(err, ErrConcurrentTransition):
			if order, err = service.settledOrError(ctx, order.OrderNo, err); err != nil {
				return Order{}, err
			}
		case err != nil:
			return Order{}, err
		default:
			order.Status = StatusPaid
			order.PayTradeNo = change.PayTradeNo
			order.PaidAt = change.PaidAt
			order.UpdatedAt = now
		}
	}
	if err := service.grantGiftPoints(ctx, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func checkPayment(order Order, payment Payment) error {
	if payment.AmountCents != order.AmountCents {
		return fmt.Errorf("%w: paid %d, order %s costs %d", ErrPaymentMismatch, payment.AmountCents, order.OrderNo, order.AmountCents)
	}
	currency := strings.ToUpper(strings.TrimSpace(payment.Currency))
	if currency != "" && currency != order.Currency {
		return fmt.Errorf("%w: paid in %s, order %s is in %s", ErrPaymentMismatch, currency, order.OrderNo, order.Currency)
	}
	return nil
}

// ExpireStale cancels orders still in created state after maxAge. It returns how many were cancelled.
func (service *Service) ExpireStale(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := service.nowFn().Add(-maxAge)
	stale, err := service.store.ListByStatusBefore(ctx, StatusCreated, cutoff, staleBatchSize)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, order := range stale {
		change := StatusChange{UpdatedAt: service.nowFn()}
		err := service.store.UpdateStatus(ctx, order.OrderNo, StatusCreated, StatusCancelled, change)
		if errors.Is(err, ErrConcurrentTransition) {
			continue
		}
		if err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

func (service *Service) transition(ctx context.Context, orderNo string, to Status) (Order, error) {
	order, err := service.store.Get(ctx, strings.TrimSpace(orderNo))
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(order.Status, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
	}
	now := service.nowFn()
	if err := service.store.UpdateStatus(ctx, order.OrderNo, order.Status, to, StatusChange{UpdatedAt: now}); err != nil {
		return Order{}, err
	}
	order.Status = to
	order.UpdatedAt = now
	return order, nil
}

func (service *Service) grantGiftPoints(ctx context.Context, order Order) error {
	if order.GiftPoints <= 0 {
		return nil
	}
	userUUID, err := credits.NewUserUUID(order.UserUUID)
	if err != nil {
		return err
	}
	amount, err := credits.NewPositivePoints(order.GiftPoints)
	if err != nil {
		return err
	}
	businessNo, err := credits.NewBusinessNo(orderBusinessPrefix + order.OrderNo)
	if err != nil {
		return err
	}
	metadata, err := credits.NewMetadataJSON(fmt.Sprintf(`{"orderNo":%q,"planCode":%q}`, order.OrderNo, order.PlanCode))
	if err != nil {
		return err
	}
	businessType := credits.BusinessPurchase
	if order.Type == TypeSubscription {
		businessType = credits.BusinessSubscriptionGift
	}
	_, err = service.granter.Grant(ctx, userUUID, amount, businessType, businessNo, metadata)
	if err != nil && !credits.IsDuplicate(err) {
		return err
	}
	return nil
}

func (service *Service) settledOrError(ctx context.Context, orderNo string, cause error) (Order, error) {
	current, err := service.store.Get(ctx, orderNo)
	if err != nil {
		return Order{}, err
	}
	if current.Status == StatusPaid {
		return current, nil
	}
	return Order{}, cause
}

func (service *Service) nextOrderNo(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(service.newID(), "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return now.UTC().Format(orderNoTimeLayout) + suffix
}
