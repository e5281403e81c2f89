package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/orders"
	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"gorm.io/gorm"
)

const errorSubjectOrder = "order"

// OrderStore implements orders.Store.
type OrderStore struct {
	db *gorm.DB
}

// NewOrderStore returns an OrderStore backed by gorm.DB.
func NewOrderStore(db *gorm.DB) *OrderStore {
	return &OrderStore{db: db}
}

func (store *OrderStore) Insert(ctx context.Context, order orders.Order) error {
	row := OrderRecord{
		OrderNo:     order.OrderNo,
		UserUUID:    order.UserUUID,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
		Status:      string(order.Status),
		OrderType:   string(order.Type),
		PayType:     order.PayType,
		PayTradeNo:  order.PayTradeNo,
		PlanCode:    order.PlanCode,
		GiftPoints:  order.GiftPoints,
		Days:        order.Days,
		Description: order.Description,
		PaidAt:      order.PaidAt,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, "") {
		return credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeDuplicate, orders.ErrOrderExists)
	}
	if err != nil {
		return credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeInsert, err)
	}
	return nil
}

func (store *OrderStore) Get(ctx context.Context, orderNo string) (orders.Order, error) {
	var row OrderRecord
	err := store.db.WithContext(ctx).Where("order_no = ?", orderNo).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return orders.Order{}, credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeGet, orders.ErrOrderNotFound)
		}
		return orders.Order{}, credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeGet, err)
	}
	return mapOrder(row)
}

func (store *OrderStore) List(ctx context.Context, userUUID string, orderType orders.Type, offset int, limit int) ([]orders.Order, int64, error) {
	scoped := func() *gorm.DB {
		query := store.db.WithContext(ctx).Model(&OrderRecord{}).Where("user_uuid = ?", userUUID)
		if orderType != "" {
			query = query.Where("order_type = ?", string(orderType))
		}
		return query
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeCount, err)
	}
	var rows []OrderRecord
	if err := scoped().Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeList, err)
	}
	result, err := mapOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

func (store *OrderStore) UpdateStatus(ctx context.Context, orderNo string, from orders.Status, to orders.Status, change orders.StatusChange) error {
	updates := map[string]any{"status": string(to), "updated_at": change.UpdatedAt}
	if change.PayTradeNo != "" {
		updates["pay_trade_no"] = change.PayTradeNo
	}
	if change.PaidAt != nil {
		updates["paid_at"] = *change.PaidAt
	}
	result := store.db.WithContext(ctx).
		Model(&OrderRecord{}).
		Where("order_no = ? AND status = ?", orderNo, string(from)).
		Updates(updates)
	if result.Error != nil {
		return credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeUpdate, orders.ErrConcurrentTransition)
	}
	return nil
}

func (store *OrderStore) ListByStatusBefore(ctx context.Context, status orders.Status, before time.Time, limit int) ([]orders.Order, error) {
	var rows []OrderRecord
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(status), before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeList, err)
	}
	return mapOrders(rows)
}

func mapOrders(rows []OrderRecord) ([]orders.Order, error) {
	result := make([]orders.Order, 0, len(rows))
	for _, row := range rows {
		order, err := mapOrder(row)
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	return result, nil
}

func mapOrder(row OrderRecord) (orders.Order, error) {
	status, err := orders.ParseStatus(row.Status)
	if err != nil {
		return orders.Order{}, credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeInvalid, err)
	}
	orderType, err := orders.ParseType(row.OrderType)
	if err != nil {
		return orders.Order{}, credits.WrapError(errorOperationStore, errorSubjectOrder, errorCodeInvalid, err)
	}
	return orders.Order{
		OrderNo:     row.OrderNo,
		UserUUID:    row.UserUUID,
		AmountCents: row.AmountCents,
		Currency:    row.Currency,
		Status:      status,
		Type:        orderType,
		PayType:     row.PayType,
		PayTradeNo:  row.PayTradeNo,
		PlanCode:    row.PlanCode,
		GiftPoints:  row.GiftPoints,
		Days:        row.Days,
		Description: row.Description,
		PaidAt:      row.PaidAt,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}
