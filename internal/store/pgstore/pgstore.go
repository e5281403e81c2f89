package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintUserBusinessNo = "credit_history_user_business_no_key"
	pgUniqueViolationCode    = "23505"
	errorOperationStore      = "store"
	errorSubjectAccount      = "account"
	errorSubjectBalance      = "balance"
	errorSubjectEntry        = "entry"
	errorSubjectTransaction  = "transaction"
	errorCodeBegin           = "begin"
	errorCodeCommit          = "commit"
	errorCodeCount           = "count"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLookup          = "lookup"
	errorCodeUpdate          = "update"

	sqlEnsureAccount = `
		insert into credit_accounts(user_uuid, balance, created_at, updated_at)
		values($1, 0, now(), now())
		on conflict (user_uuid) do nothing
	`

	sqlSelectAccount = `select balance from credit_accounts where user_uuid = $1`

	sqlSelectAccountForUpdate = sqlSelectAccount + ` for update`

	sqlUpdateBalance = `
		update credit_accounts
		set balance = $3, updated_at = now()
		where user_uuid = $1 and balance = $2
	`

	sqlInsertEntry = `
		insert into credit_history(user_uuid, delta, balance_after, business_type, business_no, metadata, created_at)
		values($1, $2, $3, $4, $5, coalesce(nullif($6,''),'{}')::jsonb, to_timestamp($7))
		returning id
	`

	sqlEntryColumns = `
		select id, user_uuid, delta, balance_after, business_type, business_no,
			coalesce(metadata::text,'{}'), extract(epoch from created_at)::bigint
		from credit_history
	`

	sqlSelectEntry = sqlEntryColumns + ` where user_uuid = $1 and business_no = $2`

	sqlListEntries = sqlEntryColumns + ` where user_uuid = $1 order by id desc offset $2 limit $3`

	sqlCountEntries = `select count(*) from credit_history where user_uuid = $1`
)

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements credits.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
	statements
}

// TxStore implements credits.Store for an active transaction.
type TxStore struct {
	statements
}

// statements holds the queries shared by Store and TxStore.
type statements struct {
	db         queryer
	lockOnRead bool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, statements: statements{db: pool}}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{statements: statements{db: tx, lockOnRead: true}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx runs fn in the already-open transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credits.Store) error) error {
	return fn(ctx, store)
}

func (queries statements) GetOrCreateAccount(ctx context.Context, userUUID credits.UserUUID) (credits.Account, error) {
	if _, err := queries.db.Exec(ctx, sqlEnsureAccount, userUUID.String()); err != nil {
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	statement := sqlSelectAccount
	if queries.lockOnRead {
		statement = sqlSelectAccountForUpdate
	}
	var balanceValue int64
	if err := queries.db.QueryRow(ctx, statement, userUUID.String()).Scan(&balanceValue); err != nil {
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	balance, err := credits.NewPoints(balanceValue)
	if err != nil {
		return credits.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return credits.Account{UserUUID: userUUID, Balance: balance}, nil
}

func (queries statements) UpdateBalance(ctx context.Context, userUUID credits.UserUUID, from credits.Points, to credits.Points) error {
	tag, err := queries.db.Exec(ctx, sqlUpdateBalance, userUUID.String(), from.Int64(), to.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, credits.ErrConcurrentUpdate)
	}
	return nil
}

func (queries statements) InsertEntry(ctx context.Context, entry credits.Entry) (credits.Entry, error) {
	var id int64
	err := queries.db.QueryRow(ctx, sqlInsertEntry,
		entry.UserUUID.String(),
		entry.Delta.Int64(),
		entry.BalanceAfter.Int64(),
		entry.BusinessType.String(),
		entry.BusinessNo.String(),
		entry.Metadata.String(),
		entry.CreatedUnixUTC,
	).Scan(&id)
	if isDuplicateBusinessNo(err) {
		return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, credits.ErrDuplicateBusinessNo)
	}
	if err != nil {
		return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	entry.ID = id
	return entry, nil
}

func (queries statements) FindEntry(ctx context.Context, userUUID credits.UserUUID, businessNo credits.BusinessNo) (credits.Entry, error) {
	rows, err := queries.db.Query(ctx, sqlSelectEntry, userUUID.String(), businessNo.String())
	if err != nil {
		return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	if len(entries) == 0 {
		return credits.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, credits.ErrUnknownEntry)
	}
	return entries[0], nil
}

func (queries statements) ListEntries(ctx context.Context, userUUID credits.UserUUID, offset int, limit int) ([]credits.Entry, error) {
	rows, err := queries.db.Query(ctx, sqlListEntries, userUUID.String(), offset, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func (queries statements) CountEntries(ctx context.Context, userUUID credits.UserUUID) (int64, error) {
	var total int64
	if err := queries.db.QueryRow(ctx, sqlCountEntries, userUUID.String()).Scan(&total); err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeCount, err)
	}
	return total, nil
}

func scanEntries(rows pgx.Rows) ([]credits.Entry, error) {
	entries := make([]credits.Entry, 0, 16)
	for rows.Next() {
		var (
			idValue           int64
			userValue         string
			deltaValue        int64
			balanceAfterValue int64
			businessTypeValue string
			businessNoValue   string
			metadataValue     string
			createdUnixUTC    int64
		)
		if err := rows.Scan(
			&idValue,
			&userValue,
			&deltaValue,
			&balanceAfterValue,
			&businessTypeValue,
			&businessNoValue,
			&metadataValue,
			&createdUnixUTC,
		); err != nil {
			return nil, err
		}
		entry, err := buildEntry(idValue, userValue, deltaValue, balanceAfterValue, businessTypeValue, businessNoValue, metadataValue, createdUnixUTC)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func buildEntry(id int64, userValue string, deltaValue int64, balanceAfterValue int64, businessTypeValue string, businessNoValue string, metadataValue string, createdUnixUTC int64) (credits.Entry, error) {
	userUUID, err := credits.NewUserUUID(userValue)
	if err != nil {
		return credits.Entry{}, err
	}
	delta, err := credits.NewPointsDelta(deltaValue)
	if err != nil {
		return credits.Entry{}, err
	}
	balanceAfter, err := credits.NewPoints(balanceAfterValue)
	if err != nil {
		return credits.Entry{}, err
	}
	businessType, err := credits.ParseBusinessType(businessTypeValue)
	if err != nil {
		return credits.Entry{}, err
	}
	businessNo, err := credits.NewBusinessNo(businessNoValue)
	if err != nil {
		return credits.Entry{}, err
	}
	metadata, err := credits.NewMetadataJSON(metadataValue)
	if err != nil {
		return credits.Entry{}, err
	}
	return credits.Entry{
		ID:             id,
		UserUUID:       userUUID,
		Delta:          delta,
		BalanceAfter:   balanceAfter,
		BusinessType:   businessType,
		BusinessNo:     businessNo,
		Metadata:       metadata,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credits.WrapError(errorOperationStore, subject, code, err)
}

func isDuplicateBusinessNo(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUserBusinessNo
	}
	return false
}
