package authevents

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// EventType classifies why a credential stopped being accepted.
type EventType string

const (
	EventLoginExpired EventType = "login-expired"
	EventUnauthorized EventType = "unauthorized"
)

// Event is broadcast to every subscriber when credentials are wiped.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
}

// Listener reacts to an auth event.
type Listener func(Event)

// Bus fans events out to all current subscribers.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[uint64]Listener
	logger    *zap.Logger
}

// NewBus constructs an empty bus. A nil logger discards listener failures.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{listeners: make(map[uint64]Listener), logger: logger}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (bus *Bus) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	bus.mu.Lock()
	bus.nextID++
	id := bus.nextID
	bus.listeners[id] = listener
	bus.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			bus.mu.Lock()
			delete(bus.listeners, id)
			bus.mu.Unlock()
		})
	}
}

// Emit delivers the event to every listener in subscription order.
// A panicking listener is logged and does not stop delivery.
func (bus *Bus) Emit(event Event) {
	bus.mu.RLock()
	ids := make([]uint64, 0, len(bus.listeners))
	for id := range bus.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	snapshot := make([]Listener, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, bus.listeners[id])
	}
	bus.mu.RUnlock()

	for _, listener := range snapshot {
		bus.deliver(listener, event)
	}
}

func (bus *Bus) deliver(listener Listener, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			bus.logger.Error("auth event listener panicked",
				zap.String("event", string(event.Type)),
				zap.Any("panic", recovered))
		}
	}()
	listener(event)
}

// Clear removes every listener.
func (bus *Bus) Clear() {
	bus.mu.Lock()
	bus.listeners = make(map[uint64]Listener)
	bus.mu.Unlock()
}

// Len reports the number of subscribers.
func (bus *Bus) Len() int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.listeners)
}

var expiredKeywords = []string{
	"登录失效",
	"未登录",
	"login expired",
	"not logged in",
	"unauthorized",
	"token expired",
	"token invalid",
}

// IsLoginExpired reports whether a status/message pair means the credential is no longer valid.
func IsLoginExpired(status int, message string) bool {
	_, expired := Classify(status, message)
	return expired
}

// Classify maps an upstream response to the event it should raise.
func Classify(status int, message string) (Event, bool) {
	if status == http.StatusUnauthorized {
		return Event{Type: EventUnauthorized, Message: message}, true
	}
	normalized := strings.ToLower(message)
	for _, keyword := range expiredKeywords {
		if strings.Contains(normalized, keyword) {
			return Event{Type: EventLoginExpired, Message: message}, true
		}
	}
	return Event{}, false
}
