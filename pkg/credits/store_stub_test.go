package credits

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
)

type stubStore struct {
	balances map[string]Points
	entries  []Entry
	nextID   int64
	failWith error
}

func newStubStore(test *testing.T, initial map[string]Points) *stubStore {
	test.Helper()
	balances := make(map[string]Points, len(initial))
	for user, balance := range initial {
		balances[user] = balance
	}
	return &stubStore{balances: balances}
}

// WithTx snapshots state and restores it when fn fails.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.failWith != nil {
		return store.failWith
	}
	balancesSnapshot := make(map[string]Points, len(store.balances))
	for user, balance := range store.balances {
		balancesSnapshot[user] = balance
	}
	entriesSnapshot := append([]Entry(nil), store.entries...)
	nextIDSnapshot := store.nextID
	if err := fn(ctx, store); err != nil {
		store.balances = balancesSnapshot
		store.entries = entriesSnapshot
		store.nextID = nextIDSnapshot
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccount(_ context.Context, userUUID UserUUID) (Account, error) {
	if store.failWith != nil {
		return Account{}, store.failWith
	}
	balance, ok := store.balances[userUUID.String()]
	if !ok {
		store.balances[userUUID.String()] = 0
	}
	return Account{UserUUID: userUUID, Balance: balance}, nil
}

func (store *stubStore) UpdateBalance(_ context.Context, userUUID UserUUID, from Points, to Points) error {
	if store.balances[userUUID.String()] != from {
		return ErrConcurrentUpdate
	}
	store.balances[userUUID.String()] = to
	return nil
}

func (store *stubStore) InsertEntry(_ context.Context, entry Entry) (Entry, error) {
	for _, existing := range store.entries {
		if existing.UserUUID == entry.UserUUID && existing.BusinessNo == entry.BusinessNo {
			return Entry{}, WrapError("store", "entry", "duplicate", ErrDuplicateBusinessNo)
		}
	}
	store.nextID++
	entry.ID = store.nextID
	store.entries = append(store.entries, entry)
	return entry, nil
}

func (store *stubStore) FindEntry(_ context.Context, userUUID UserUUID, businessNo BusinessNo) (Entry, error) {
	for _, entry := range store.entries {
		if entry.UserUUID == userUUID && entry.BusinessNo == businessNo {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrUnknownEntry, businessNo.String())
}

func (store *stubStore) ListEntries(_ context.Context, userUUID UserUUID, offset int, limit int) ([]Entry, error) {
	userEntries := store.entriesFor(userUUID)
	sort.SliceStable(userEntries, func(left, right int) bool {
		return userEntries[left].ID > userEntries[right].ID
	})
	if offset >= len(userEntries) {
		return []Entry{}, nil
	}
	end := offset + limit
	if end > len(userEntries) {
		end = len(userEntries)
	}
	return userEntries[offset:end], nil
}

func (store *stubStore) CountEntries(_ context.Context, userUUID UserUUID) (int64, error) {
	return int64(len(store.entriesFor(userUUID))), nil
}

func (store *stubStore) entriesFor(userUUID UserUUID) []Entry {
	result := make([]Entry, 0)
	for _, entry := range store.entries {
		if entry.UserUUID == userUUID {
			result = append(result, entry)
		}
	}
	return result
}

var errStubFailure = errors.New("stub failure")

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserUUID(test *testing.T, raw string) UserUUID {
	test.Helper()
	userUUID, err := NewUserUUID(raw)
	if err != nil {
		test.Fatalf("user uuid: %v", err)
	}
	return userUUID
}

func mustBusinessNo(test *testing.T, raw string) BusinessNo {
	test.Helper()
	businessNo, err := NewBusinessNo(raw)
	if err != nil {
		test.Fatalf("business no: %v", err)
	}
	return businessNo
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func mustPositivePoints(test *testing.T, raw int64) PositivePoints {
	test.Helper()
	points, err := NewPositivePoints(raw)
	if err != nil {
		test.Fatalf("points: %v", err)
	}
	return points
}
