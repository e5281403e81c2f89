package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintUserBusinessNo    = "credit_history_user_business_no_key"
	constraintUserEmailProvider = "users_email_provider_key"
	constraintUserInviteCode    = "users_invite_code_key"
	defaultMetadataJSON         = "{}"
	dialectPostgres             = "postgres"
	pgUniqueViolationCode       = "23505"
	sqliteConstraintUnique      = 2067
	sqliteConstraintPrimaryKey  = 1555
	errorOperationStore      = "store"
	errorSubjectAccount      = "account"
	errorSubjectBalance      = "balance"
	errorSubjectEntry        = "entry"
	errorCodeCount           = "count"
	errorCodeCreate          = "create"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLookup          = "lookup"
	errorCodeUpdate          = "update"
)

// Store implements credits.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetOrCreateAccount inserts an empty account when missing, then reads it (FOR UPDATE on postgres).
func (store *Store) GetOrCreateAccount(ctx context.Context, userUUID credits.UserUUID) (credits.Account, error) {
	now := time.Now().UTC()
	seed := CreditAccount{UserUUID: userUUID.String(), CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_uuid"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}

	var account CreditAccount
	query := store.db.WithContext(ctx)
	if store.supportsRowLocks() {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.Where("user_uuid = ?", userUUID.String()).Take(&account).Error; err != nil {
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	balance, err := credits.NewPoints(account.Balance)
	if err != nil {
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return credits.Account{UserUUID: userUUID, Balance: balance}, nil
}

func (store *Store) UpdateBalance(ctx context.Context, userUUID credits.UserUUID, from credits.Points, to credits.Points) error {
	result := store.db.WithContext(ctx).
		Model(&CreditAccount{}).
		Where("user_uuid = ? AND balance = ?", userUUID.String(), from.Int64()).
		Updates(map[string]any{"balance": to.Int64(), "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, credits.ErrConcurrentUpdate)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry credits.Entry) (credits.Entry, error) {
	row := CreditEntry{
		UserUUID:     entry.UserUUID.String(),
		Delta:        entry.Delta.Int64(),
		BalanceAfter: entry.BalanceAfter.Int64(),
		BusinessType: entry.BusinessType.String(),
		BusinessNo:   entry.BusinessNo.String(),
		Metadata:     datatypesJSON(entry.Metadata.String()),
		CreatedAt:    time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if entry.CreatedUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintUserBusinessNo) {
		return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, credits.ErrDuplicateBusinessNo)
	}
	if err != nil {
		return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entry.ID = row.ID
	entry.CreatedUnixUTC = row.CreatedAt.Unix()
	return entry, nil
}

func (store *Store) FindEntry(ctx context.Context, userUUID credits.UserUUID, businessNo credits.BusinessNo) (credits.Entry, error) {
	var row CreditEntry
	err := store.db.WithContext(ctx).
		Where("user_uuid = ? AND business_no = ?", userUUID.String(), businessNo.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, credits.ErrUnknownEntry)
		}
		return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapCreditEntry(row)
	if err != nil {
		return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *Store) ListEntries(ctx context.Context, userUUID credits.UserUUID, offset int, limit int) ([]credits.Entry, error) {
	var rows []CreditEntry
	err := store.db.WithContext(ctx).
		Where("user_uuid = ?", userUUID.String()).
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]credits.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapCreditEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) CountEntries(ctx context.Context, userUUID credits.UserUUID) (int64, error) {
	var total int64
	err := store.db.WithContext(ctx).
		Model(&CreditEntry{}).
		Where("user_uuid = ?", userUUID.String()).
		Count(&total).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeCount, err)
	}
	return total, nil
}

func (store *Store) supportsRowLocks() bool {
	return store.db.Dialector != nil && store.db.Dialector.Name() == dialectPostgres
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func mapCreditEntry(row CreditEntry) (credits.Entry, error) {
	userUUID, err := credits.NewUserUUID(row.UserUUID)
	if err != nil {
		return credits.Entry{}, err
	}
	delta, err := credits.NewPointsDelta(row.Delta)
	if err != nil {
		return credits.Entry{}, err
	}
	balanceAfter, err := credits.NewPoints(row.BalanceAfter)
	if err != nil {
		return credits.Entry{}, err
	}
	businessType, err := credits.ParseBusinessType(row.BusinessType)
	if err != nil {
		return credits.Entry{}, err
	}
	businessNo, err := credits.NewBusinessNo(row.BusinessNo)
	if err != nil {
		return credits.Entry{}, err
	}
	metadata, err := credits.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return credits.Entry{}, err
	}
	return credits.Entry{
		ID:             row.ID,
		UserUUID:       userUUID,
		Delta:          delta,
		BalanceAfter:   balanceAfter,
		BusinessType:   businessType,
		BusinessNo:     businessNo,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// sqliteConstraintColumns maps constraint names to the column list SQLite reports instead.
var sqliteConstraintColumns = map[string]string{
	constraintUserBusinessNo:    "credit_history.user_uuid, credit_history.business_no",
	constraintUserEmailProvider: "users.email, users.signin_provider",
	constraintUserInviteCode:    "users.invite_code",
}

// isUniqueViolation matches duplicate-key errors from every supported driver.
// An empty constraint matches any unique or primary key constraint.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		return constraint == "" || pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		if code := sqliteErr.Code(); code != sqliteConstraintUnique && code != sqliteConstraintPrimaryKey {
			return false
		}
		if constraint == "" {
			return true
		}
		columns, ok := sqliteConstraintColumns[constraint]
		return ok && strings.Contains(sqliteErr.Error(), "constraint failed: "+columns+" (")
	}
	return false
}
