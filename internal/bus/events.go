package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event types. "*" passed to On matches all of them.
const (
	EventChatMigrated  = "chat.migrated"
	EventFilterAdded   = "filter.added"
	EventFilterRemoved = "filter.removed"
	EventFilterMatched = "filter.matched"
)

// Payload is the data carried by an event. Its type decides the event type.
type Payload interface {
	EventType() string
}

// ChatMigrated is emitted when a group is upgraded and moves to a new id.
type ChatMigrated struct {
	From int64
	To   int64
}

func (ChatMigrated) EventType() string { return EventChatMigrated }

type FilterAdded struct {
	ChatID  int64
	Keyword string
	Kind    string
}

func (FilterAdded) EventType() string { return EventFilterAdded }

// FilterRemoved covers both /stop (Count 1) and /stopall.
type FilterRemoved struct {
	ChatID int64
	Count  int
}

func (FilterRemoved) EventType() string { return EventFilterRemoved }

type FilterMatched struct {
	ChatID  int64
	Keyword string
	Outcome string
}

func (FilterMatched) EventType() string { return EventFilterMatched }

// Event is one emitted payload.
type Event struct {
	Type      string
	Source    string // originating component
	Payload   Payload
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus delivers module hooks synchronously. A nil *EventBus drops
// everything it is given.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

type subscription struct {
	id        uint64
	eventType string
	handler   EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

// On registers handler for eventType and returns an id for Off.
func (eb *EventBus) On(eventType string, handler EventHandler) uint64 {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.subs = append(eb.subs, subscription{id: eb.nextID, eventType: eventType, handler: handler})
	return eb.nextID
}

// Off removes the handler registered under id. Unknown ids are ignored.
func (eb *EventBus) Off(id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subs {
		if s.id == id {
			eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
			return
		}
	}
}

// Emit runs every matching handler in registration order. A panicking
// handler is logged and the rest still run.
func (eb *EventBus) Emit(source string, payload Payload) {
	if eb == nil || payload == nil {
		return
	}
	ev := Event{
		Type:      payload.EventType(),
		Source:    source,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	eb.mu.RLock()
	var matched []subscription
	for _, s := range eb.subs {
		if s.eventType == ev.Type || s.eventType == "*" {
			matched = append(matched, s)
		}
	}
	eb.mu.RUnlock()

	for _, s := range matched {
		eb.call(s, ev)
	}
}

func (eb *EventBus) call(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", ev.Type, "handler", s.id, "panic", r)
		}
	}()
	s.handler(ev)
}
