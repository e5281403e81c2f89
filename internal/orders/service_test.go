package orders

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
)

type memoryStore struct {
	orders map[string]Order
}

func newMemoryStore() *memoryStore {
	return &memoryStore{orders: map[string]Order{}}
}

func (store *memoryStore) Insert(_ context.Context, order Order) error {
	if _, exists := store.orders[order.OrderNo]; exists {
		return ErrOrderExists
	}
	store.orders[order.OrderNo] = order
	return nil
}

func (store *memoryStore) Get(_ context.Context, orderNo string) (Order, error) {
	order, ok := store.orders[orderNo]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (store *memoryStore) List(_ context.Context, userUUID string, orderType Type, offset int, limit int) ([]Order, int64, error) {
	matched := make([]Order, 0)
	for _, order := range store.orders {
		if order.UserUUID == userUUID && (orderType == "" || order.Type == orderType) {
			matched = append(matched, order)
		}
	}
	sort.Slice(matched, func(left, right int) bool {
		return matched[left].CreatedAt.After(matched[right].CreatedAt)
	})
	total := int64(len(matched))
	if offset >= len(matched) {
		return []Order{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (store *memoryStore) UpdateStatus(_ context.Context, orderNo string, from Status, to Status, change StatusChange) error {
	order, ok := store.orders[orderNo]
	if !ok {
		return ErrOrderNotFound
	}
	if order.Status != from {
		return ErrConcurrentTransition
	}
	order.Status = to
	if change.PayTradeNo != "" {
		order.PayTradeNo = change.PayTradeNo
	}
	if change.PaidAt != nil {
		order.PaidAt = change.PaidAt
	}
	order.UpdatedAt = change.UpdatedAt
	store.orders[orderNo] = order
	return nil
}

func (store *memoryStore) ListByStatusBefore(_ context.Context, status Status, before time.Time, limit int) ([]Order, error) {
	result := make([]Order, 0)
	for _, order := range store.orders {
		if order.Status == status && order.CreatedAt.Before(before) && len(result) < limit {
			result = append(result, order)
		}
	}
	return result, nil
}

// recordingGranter keeps successful grants and rejects repeated business numbers like the ledger does.
type recordingGranter struct {
	calls    []credits.BusinessNo
	types    []credits.BusinessType
	attempts int
	err      error
}

func (granter *recordingGranter) Grant(_ context.Context, _ credits.UserUUID, _ credits.PositivePoints, businessType credits.BusinessType, businessNo credits.BusinessNo, _ credits.MetadataJSON) (credits.Entry, error) {
	granter.attempts++
	if granter.err != nil {
		return credits.Entry{}, granter.err
	}
	for _, existing := range granter.calls {
		if existing.String() == businessNo.String() {
			return credits.Entry{}, credits.ErrDuplicateBusinessNo
		}
	}
	granter.calls = append(granter.calls, businessNo)
	granter.types = append(granter.types, businessType)
	return credits.Entry{}, nil
}

type fakeClock struct {
	now time.Time
}

func (clock *fakeClock) Now() time.Time {
	return clock.now
}

func newTestService(test *testing.T, store Store, granter CreditGranter, clock *fakeClock) *Service {
	test.Helper()
	service, err := NewService(store, granter, clock.Now)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	counter := 0
	service.newID = func() string {
		counter++
		return []string{"11111111-aaaa", "22222222-bbbb", "33333333-cccc"}[counter-1]
	}
	return service
}

func mustCreate(test *testing.T, service *Service, request CreateRequest) Order {
	test.Helper()
	order, err := service.Create(context.Background(), request)
	if err != nil {
		test.Fatalf("create: %v", err)
	}
	return order
}

func TestCreateAssignsOrderNumberAndDefaults(test *testing.T) {
	test.Parallel()
	clock := &fakeClock{now: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)}
	service := newTestService(test, newMemoryStore(), &recordingGranter{}, clock)

	order := mustCreate(test, service, CreateRequest{UserUUID: "user-1", AmountCents: 990, Type: TypePoints, GiftPoints: 100})
	if order.OrderNo != "2026030405060711111111" {
		test.Fatalf("unexpected order no %q", order.OrderNo)
	}
	if order.Status != StatusCreated || order.Currency != "USD" {
		test.Fatalf("unexpected order: %+v", order)
	}
}

func TestCreateValidation(test *testing.T) {
	test.Parallel()
	service := newTestService(test, newMemoryStore(), &recordingGranter{}, &fakeClock{now: time.Now()})
	testCases := []struct {
		name    string
		request CreateRequest
	}{
		{name: "missing user", request: CreateRequest{AmountCents: 1, Type: TypePoints}},
		{name: "zero amount", request: CreateRequest{UserUUID: "u", Type: TypePoints}},
		{name: "unknown type", request: CreateRequest{UserUUID: "u", AmountCents: 1, Type: "gift"}},
		{name: "negative gift", request: CreateRequest{UserUUID: "u", AmountCents: 1, Type: TypePoints, GiftPoints: -1}},
	}
	for _, testCase := range testCases {
		if _, err := service.Create(context.Background(), testCase.request); !errors.Is(err, ErrInvalidOrder) {
			test.Fatalf("%s: expected ErrInvalidOrder, got %v", testCase.name, err)
		}
	}
}

func TestMarkPaidGrantsGiftPointsOnce(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	granter := &recordingGranter{}
	service := newTestService(test, store, granter, &fakeClock{now: time.Unix(1700000000, 0).UTC()})
	order := mustCreate(test, service, CreateRequest{UserUUID: "user-1", AmountCents: 1990, Type: TypeSubscription, GiftPoints: 500, PlanCode: "pro_month"})

	paid, err := service.MarkPaid(context.Background(), order.OrderNo, Payment{TradeNo: "trade-1", AmountCents: 1990})
	if err != nil {
		test.Fatalf("mark paid: %v", err)
	}
	if paid.Status != StatusPaid || paid.PayTradeNo != "trade-1" || paid.PaidAt == nil {
		test.Fatalf("unexpected paid order: %+v", paid)
	}
	again, err := service.MarkPaid(context.Background(), order.OrderNo, Payment{TradeNo: "trade-1", AmountCents: 1990})
	if err != nil || again.Status != StatusPaid {
		test.Fatalf("expected idempotent mark paid, got %+v (%v)", again, err)
	}
	if len(granter.calls) != 1 || granter.calls[0].String() != "order:"+order.OrderNo {
		test.Fatalf("unexpected grants: %v", granter.calls)
	}
	if granter.types[0] != credits.BusinessSubscriptionGift {
		test.Fatalf("expected subscription gift, got %s", granter.types[0])
	}
}

func TestMarkPaidRejectsClosedOrders(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	granter := &recordingGranter{}
	service := newTestService(test, store, granter, &fakeClock{now: time.Now()})
	order := mustCreate(test, service, CreateRequest{UserUUID: "user-1", AmountCents: 100, Type: TypePoints, GiftPoints: 10})

	if _, err := service.Cancel(context.Background(), order.OrderNo); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if _, err := service.MarkPaid(context.Background(), order.OrderNo, Payment{TradeNo: "t", AmountCents: 100}); !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(granter.calls) != 0 {
		test.Fatalf("expected no grants for a cancelled order")
	}
}

func TestMarkPaidReplayRepairsFailedGrant(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	granter := &recordingGranter{err: errors.New("ledger down")}
	service := newTestService(test, store, granter, &fakeClock{now: time.Now()})
	order := mustCreate(test, service, CreateRequest{UserUUID: "user-1", AmountCents: 100, Type: TypePoints, GiftPoints: 10})
	payment := Payment{TradeNo: "t", AmountCents: 100}

	if _, err := service.MarkPaid(context.Background(), order.OrderNo, payment); err == nil {
		test.Fatalf("expected grant failure")
	}
	stored, _ := store.Get(context.Background(), order.OrderNo)
	if stored.Status != StatusPaid {
		test.Fatalf("expected order paid before the grant, got %s", stored.Status)
	}
	if _, err := service.ExpireStale(context.Background(), -time.Hour); err != nil {
		test.Fatalf("expire: %v", err)
	}
	if stored, _ := store.Get(context.Background(), order.OrderNo); stored.Status != StatusPaid {
		test.Fatalf("expected paid order to survive expiry, got %s", stored.Status)
	}

	granter.err = nil
	if _, err := service.MarkPaid(context.Background(), order.OrderNo, payment); err != nil {
		test.Fatalf("replay: %v", err)
	}
	if granter.attempts != 2 || len(granter.calls) != 1 || granter.calls[0].String() != "order:"+order.OrderNo {
		test.Fatalf("expected the replay to retry the grant, got %d attempts %v", granter.attempts, granter.calls)
	}
}

func TestMarkPaidAfterExpiryGrantsNothing(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	granter := &recordingGranter{}
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	service := newTestService(test, store, granter, clock)
	order := mustCreate(test, service, CreateRequest{UserUUID: "user-1", AmountCents: 100, Type: TypePoints, GiftPoints: 10})

	clock.now = clock.now.Add(48 * time.Hour)
	if cancelled, err := service.ExpireStale(context.Background(), 24*time.Hour); err != nil || cancelled != 1 {
		test.Fatalf("expire: %d %v", cancelled, err)
	}
	if _, err := service.MarkPaid(context.Background(), order.OrderNo, Payment{TradeNo: "t", AmountCents: 100}); !errors.Is(err, ErrInvalidTransition) {
		test.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if len(granter.calls) != 0 {
		test.Fatalf("expected no grant on an expired order, got %v", granter.calls)
	}
}

func TestMarkPaidRejectsPaymentMismatch(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	granter := &recordingGranter{}
	service := newTestService(test, store, granter, &fakeClock{now: time.Now()})
	order := mustCreate(test, service, CreateRequest{UserUUID: "user-1", AmountCents: 990, Currency: "usd", Type: TypePoints, GiftPoints: 200})

	testCases := []struct {
		name    string
		payment Payment
	}{
		{name: "missing amount", payment: Payment{TradeNo: "t"}},
		{name: "underpaid", payment: Payment{TradeNo: "t", AmountCents: 1}},
		{name: "overpaid", payment: Payment{TradeNo: "t", AmountCents: 99000}},
		{name: "wrong currency", payment: Payment{TradeNo: "t", AmountCents: 990, Currency: "EUR"}},
	}
	for _, testCase := range testCases {
		if _, err := service.MarkPaid(context.Background(), order.OrderNo, testCase.payment); !errors.Is(err, ErrPaymentMismatch) {
			test.Fatalf("%s: expected ErrPaymentMismatch, got %v", testCase.name, err)
		}
	}
	if stored, _ := store.Get(context.Background(), order.OrderNo); stored.Status != StatusCreated || len(granter.calls) != 0 {
		test.Fatalf("expected untouched order and no grant, got %s %v", stored.Status, granter.calls)
	}
	if _, err := service.MarkPaid(context.Background(), order.OrderNo, Payment{TradeNo: "t", AmountCents: 990, Currency: "usd"}); err != nil {
		test.Fatalf("matching payment: %v", err)
	}
}

func TestCreateForPlanIgnoresCallerPricing(test *testing.T) {
	test.Parallel()
	plans, err := LoadPlans(strings.NewReader("points_small:\n  name: 200 credits\n  orderType: points\n  amount: 990\n  giftPoints: 200\n"))
	if err != nil {
		test.Fatalf("load plans: %v", err)
	}
	service := newTestService(test, newMemoryStore(), &recordingGranter{}, &fakeClock{now: time.Now()})
	WithPlans(plans)(service)

	order, err := service.CreateForPlan(context.Background(), "user-1", "points_small", "stripe")
	if err != nil {
		test.Fatalf("create for plan: %v", err)
	}
	if order.AmountCents != 990 || order.GiftPoints != 200 || order.Currency != "USD" || order.PlanCode != "points_small" || order.Type != TypePoints {
		test.Fatalf("unexpected order %+v", order)
	}
	if _, err := service.CreateForPlan(context.Background(), "user-1", "free_billion", ""); !errors.Is(err, ErrUnknownPlan) {
		test.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
	if listed := service.Plans(); len(listed) != 1 || listed[0].Code != "points_small" {
		test.Fatalf("unexpected plans %+v", listed)
	}
}

func TestLoadPlansValidates(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		document string
	}{
		{name: "unknown type", document: "p:\n  orderType: lifetime\n  amount: 100\n"},
		{name: "zero amount", document: "p:\n  orderType: points\n  giftPoints: 10\n"},
		{name: "negative points", document: "p:\n  orderType: points\n  amount: 100\n  giftPoints: -1\n"},
		{name: "not yaml", document: "p: [\n"},
	}
	for _, testCase := range testCases {
		if _, err := LoadPlans(strings.NewReader(testCase.document)); err == nil {
			test.Fatalf("%s: expected error", testCase.name)
		}
	}
	empty, err := LoadPlans(strings.NewReader(""))
	if err != nil || len(empty) != 0 {
		test.Fatalf("expected empty plans, got %v %v", empty, err)
	}
}

func TestTransitions(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		from Status
		to   Status
		want bool
	}{
		{from: StatusCreated, to: StatusPending, want: true},
		{from: StatusCreated, to: StatusPaid, want: true},
		{from: StatusPending, to: StatusFailed, want: true},
		{from: StatusPending, to: StatusCreated, want: false},
		{from: StatusPaid, to: StatusCancelled, want: false},
		{from: StatusCancelled, to: StatusPaid, want: false},
		{from: StatusFailed, to: StatusPending, want: false},
	}
	for _, testCase := range testCases {
		if got := CanTransition(testCase.from, testCase.to); got != testCase.want {
			test.Fatalf("%s -> %s: expected %v, got %v", testCase.from, testCase.to, testCase.want, got)
		}
	}
}

func TestExpireStaleCancelsOldCreatedOrders(test *testing.T) {
	test.Parallel()
	store := newMemoryStore()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	service := newTestService(test, store, &recordingGranter{}, clock)
	old := mustCreate(test, service, CreateRequest{UserUUID: "u", AmountCents: 1, Type: TypePoints})
	pending := mustCreate(test, service, CreateRequest{UserUUID: "u", AmountCents: 1, Type: TypePoints})
	if _, err := service.MarkPending(context.Background(), pending.OrderNo); err != nil {
		test.Fatalf("mark pending: %v", err)
	}
	clock.now = clock.now.Add(48 * time.Hour)
	fresh := mustCreate(test, service, CreateRequest{UserUUID: "u", AmountCents: 1, Type: TypePoints})

	cancelled, err := service.ExpireStale(context.Background(), 24*time.Hour)
	if err != nil {
		test.Fatalf("expire: %v", err)
	}
	if cancelled != 1 {
		test.Fatalf("expected one cancelled order, got %d", cancelled)
	}
	if got, _ := store.Get(context.Background(), old.OrderNo); got.Status != StatusCancelled {
		test.Fatalf("expected old order cancelled, got %s", got.Status)
	}
	if got, _ := store.Get(context.Background(), fresh.OrderNo); got.Status != StatusCreated {
		test.Fatalf("expected fresh order untouched, got %s", got.Status)
	}
	if got, _ := store.Get(context.Background(), pending.OrderNo); got.Status != StatusPending {
		test.Fatalf("expected pending order untouched, got %s", got.Status)
	}
}

func TestListFiltersByType(test *testing.T) {
	test.Parallel()
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	service := newTestService(test, newMemoryStore(), &recordingGranter{}, clock)
	mustCreate(test, service, CreateRequest{UserUUID: "u", AmountCents: 1, Type: TypePoints})
	clock.now = clock.now.Add(time.Minute)
	mustCreate(test, service, CreateRequest{UserUUID: "u", AmountCents: 2, Type: TypeSubscription})

	page, err := service.List(context.Background(), "u", TypeSubscription, 1, 0)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if page.Total != 1 || len(page.Orders) != 1 || page.Orders[0].Type != TypeSubscription || page.PageSize != defaultPageSize {
		test.Fatalf("unexpected page: %+v", page)
	}
	if _, err := service.List(context.Background(), "u", "", 0, 10); !errors.Is(err, ErrInvalidOrder) {
		test.Fatalf("expected ErrInvalidOrder for page 0, got %v", err)
	}
}
