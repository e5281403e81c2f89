package credits

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the credit ledger logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the current balance, creating an empty account on first access.
func (service *Service) Balance(ctx context.Context, userUUID UserUUID) (Points, error) {
	account, err := service.store.GetOrCreateAccount(ctx, userUUID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Grant appends a positive entry.
func (service *Service) Grant(ctx context.Context, userUUID UserUUID, amount PositivePoints, businessType BusinessType, businessNo BusinessNo, metadata MetadataJSON) (Entry, error) {
	entry, operationError := service.apply(ctx, userUUID, amount.ToDelta(), businessType, businessNo, metadata)
	service.logOperation(ctx, OperationLog{
		Operation:    operationGrant,
		UserUUID:     userUUID,
		Delta:        amount.ToDelta(),
		BusinessType: businessType,
		BusinessNo:   businessNo,
		Metadata:     metadata,
		Error:        operationError,
	})
	return entry, operationError
}

// Spend debits the balance immediately; ErrInsufficientCredits when the balance is too low.
func (service *Service) Spend(ctx context.Context, userUUID UserUUID, amount PositivePoints, businessType BusinessType, businessNo BusinessNo, metadata MetadataJSON) (Entry, error) {
	delta := amount.ToDelta().Negated()
	entry, operationError := service.apply(ctx, userUUID, delta, businessType, businessNo, metadata)
	service.logOperation(ctx, OperationLog{
		Operation:    operationSpend,
		UserUUID:     userUUID,
		Delta:        delta,
		BusinessType: businessType,
		BusinessNo:   businessNo,
		Metadata:     metadata,
		Error:        operationError,
	})
	return entry, operationError
}

// Refund credits back a previous debit. The refund entry uses "<businessNo>:refund",
// so a second refund of the same debit fails with ErrDuplicateBusinessNo.
func (service *Service) Refund(ctx context.Context, userUUID UserUUID, spendBusinessNo BusinessNo, metadata MetadataJSON) (Entry, error) {
	var (
		refunded    Entry
		refundDelta PointsDelta
		refundNo    BusinessNo
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		original, err := transactionStore.FindEntry(ctx, userUUID, spendBusinessNo)
		if err != nil {
			return err
		}
		if original.Delta >= 0 {
			return fmt.Errorf("%w: %s", ErrNotRefundable, spendBusinessNo.String())
		}
		refundNo, err = deriveBusinessNo(spendBusinessNo, businessNoSuffixRefund)
		if err != nil {
			return err
		}
		refundDelta = original.Delta.Negated()
		refunded, err = applyWithinTx(ctx, transactionStore, userUUID, refundDelta, BusinessRefund, refundNo, metadata, service.nowFn())
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationRefund,
		UserUUID:     userUUID,
		Delta:        refundDelta,
		BusinessType: BusinessRefund,
		BusinessNo:   refundNo,
		Metadata:     metadata,
		Error:        operationError,
	})
	return refunded, operationError
}

// Adjust applies an operator correction of either sign. The balance never drops below zero.
func (service *Service) Adjust(ctx context.Context, userUUID UserUUID, delta PointsDelta, businessNo BusinessNo, metadata MetadataJSON) (Entry, error) {
	entry, operationError := service.apply(ctx, userUUID, delta, BusinessAdminAdjust, businessNo, metadata)
	service.logOperation(ctx, OperationLog{
		Operation:    operationAdjust,
		UserUUID:     userUUID,
		Delta:        delta,
		BusinessType: BusinessAdminAdjust,
		BusinessNo:   businessNo,
		Metadata:     metadata,
		Error:        operationError,
	})
	return entry, operationError
}

// History returns one page of entries, newest first. Page numbering starts at 1;
// a zero page size selects the default and large sizes are clamped.
func (service *Service) History(ctx context.Context, userUUID UserUUID, page int, pageSize int) (HistoryPage, error) {
	if page < 1 {
		return HistoryPage{}, fmt.Errorf("%w: page must be >= 1", ErrInvalidPage)
	}
	if pageSize < 0 {
		return HistoryPage{}, fmt.Errorf("%w: page size must not be negative", ErrInvalidPage)
	}
	if pageSize == 0 {
		pageSize = defaultHistoryPageSize
	}
	if pageSize > maxHistoryPageSize {
		pageSize = maxHistoryPageSize
	}
	total, err := service.store.CountEntries(ctx, userUUID)
	if err != nil {
		return HistoryPage{}, err
	}
	entries, err := service.store.ListEntries(ctx, userUUID, (page-1)*pageSize, pageSize)
	if err != nil {
		return HistoryPage{}, err
	}
	return HistoryPage{
		Entries:  entries,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// IsDuplicate reports whether err means the business number was already applied.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateBusinessNo)
}

func (service *Service) apply(ctx context.Context, userUUID UserUUID, delta PointsDelta, businessType BusinessType, businessNo BusinessNo, metadata MetadataJSON) (Entry, error) {
	var applied Entry
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		entry, err := applyWithinTx(ctx, transactionStore, userUUID, delta, businessType, businessNo, metadata, service.nowFn())
		if err != nil {
			return err
		}
		applied = entry
		return nil
	})
	return applied, err
}

func applyWithinTx(ctx context.Context, transactionStore Store, userUUID UserUUID, delta PointsDelta, businessType BusinessType, businessNo BusinessNo, metadata MetadataJSON, nowUnixUTC int64) (Entry, error) {
	if delta == 0 {
		return Entry{}, fmt.Errorf("%w: must not be zero", ErrInvalidPointsDelta)
	}
	if _, err := ParseBusinessType(businessType.String()); err != nil {
		return Entry{}, err
	}
	if businessNo.String() == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidBusinessNo)
	}
	account, err := transactionStore.GetOrCreateAccount(ctx, userUUID)
	if err != nil {
		return Entry{}, err
	}
	next, err := nextBalance(account.Balance, delta)
	if err != nil {
		return Entry{}, err
	}
	entry, err := transactionStore.InsertEntry(ctx, Entry{
		UserUUID:       userUUID,
		Delta:          delta,
		BalanceAfter:   next,
		BusinessType:   businessType,
		BusinessNo:     businessNo,
		Metadata:       metadata,
		CreatedUnixUTC: nowUnixUTC,
	})
	if err != nil {
		return Entry{}, err
	}
	if err := transactionStore.UpdateBalance(ctx, userUUID, account.Balance, next); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func nextBalance(current Points, delta PointsDelta) (Points, error) {
	raw := current.Int64() + delta.Int64()
	if raw < 0 {
		if delta < 0 {
			return 0, ErrInsufficientCredits
		}
		return 0, WrapError("service", "balance", "negative", ErrInvalidBalance)
	}
	return Points(raw), nil
}

func deriveBusinessNo(base BusinessNo, suffix string) (BusinessNo, error) {
	return NewBusinessNo(base.String() + businessNoDelimiter + suffix)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
