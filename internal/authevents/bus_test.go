package authevents

import (
	"sync"
	"testing"
)

func TestBusFansOutToEveryListener(test *testing.T) {
	test.Parallel()
	bus := NewBus(nil)
	var received []string
	bus.Subscribe(func(event Event) { received = append(received, "first:"+string(event.Type)) })
	bus.Subscribe(func(Event) { panic("listener failure") })
	bus.Subscribe(func(event Event) { received = append(received, "third:"+event.Message) })

	bus.Emit(Event{Type: EventLoginExpired, Message: "登录失效"})

	if len(received) != 2 || received[0] != "first:login-expired" || received[1] != "third:登录失效" {
		test.Fatalf("unexpected deliveries: %v", received)
	}
}

func TestBusUnsubscribeAndClear(test *testing.T) {
	test.Parallel()
	bus := NewBus(nil)
	calls := 0
	unsubscribe := bus.Subscribe(func(Event) { calls++ })
	bus.Subscribe(func(Event) {})
	if bus.Len() != 2 {
		test.Fatalf("expected 2 listeners, got %d", bus.Len())
	}
	unsubscribe()
	unsubscribe()
	if bus.Len() != 1 {
		test.Fatalf("expected 1 listener, got %d", bus.Len())
	}
	bus.Emit(Event{Type: EventUnauthorized})
	if calls != 0 {
		test.Fatalf("unsubscribed listener was called")
	}
	bus.Clear()
	if bus.Len() != 0 {
		test.Fatalf("expected no listeners after clear")
	}
}

func TestBusConcurrentEmit(test *testing.T) {
	test.Parallel()
	bus := NewBus(nil)
	var mu sync.Mutex
	total := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		total++
		mu.Unlock()
	})
	var group sync.WaitGroup
	for index := 0; index < 16; index++ {
		group.Add(1)
		go func() {
			defer group.Done()
			bus.Emit(Event{Type: EventUnauthorized})
		}()
	}
	group.Wait()
	if total != 16 {
		test.Fatalf("expected 16 deliveries, got %d", total)
	}
}

func TestClassify(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		status   int
		message  string
		expected EventType
		expired  bool
	}{
		{name: "http 401", status: 401, expected: EventUnauthorized, expired: true},
		{name: "chinese expiry", status: 200, message: "登录失效，请重新登录", expected: EventLoginExpired, expired: true},
		{name: "english expiry", status: 200, message: "Token Expired", expected: EventLoginExpired, expired: true},
		{name: "success", status: 200, message: "ok"},
		{name: "server error", status: 500, message: "internal"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			event, expired := Classify(testCase.status, testCase.message)
			if expired != testCase.expired || event.Type != testCase.expected {
				test.Fatalf("expected %v/%s, got %v/%s", testCase.expired, testCase.expected, expired, event.Type)
			}
			if IsLoginExpired(testCase.status, testCase.message) != testCase.expired {
				test.Fatalf("IsLoginExpired disagrees with Classify")
			}
		})
	}
}
