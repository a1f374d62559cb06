package events

import (
	"sync"
	"time"

	"github.com/pulseguard/backend/internal/utils"
	"go.uber.org/zap"
)

// EventType identifies the kind of state transition an event carries
type EventType string

const (
	EventReadingAdded      EventType = "reading_added"
	EventAlertCreated      EventType = "alert_created"
	EventAlertUpdated      EventType = "alert_updated"
	EventAlertResolved     EventType = "alert_resolved"
	EventAlertEscalated    EventType = "alert_escalated"
	EventMilestoneAchieved EventType = "milestone_achieved"
	// EventNotification frames direct push deliveries from the dispatcher,
	// as opposed to bus events forwarded by the feed.
	EventNotification EventType = "notification"
)

// Event is a committed state transition published on the bus. Only
// successfully persisted changes are published, so subscribers never see
// state that later rolled back.
type Event struct {
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler processes a single event. Handlers must not block; slow work
// belongs in the subscriber's own goroutine.
type Handler func(event Event)

// Bus is an in-process publish/subscribe fan-out. Components receive it by
// injection; nothing in the engine holds module-level mutable state.
type Bus struct {
	logger   *utils.Logger
	mu       sync.RWMutex
	handlers []Handler
	byType   map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus(logger *utils.Logger) *Bus {
	return &Bus{
		logger: logger.Named("event_bus"),
		byType: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for every event type
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// SubscribeType registers a handler for one event type
func (b *Bus) SubscribeType(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[eventType] = append(b.byType[eventType], handler)
}

// Publish delivers the event to all matching handlers
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	all := b.handlers
	typed := b.byType[event.Type]
	b.mu.RUnlock()

	b.logger.Debug("Publishing event",
		zap.String("type", string(event.Type)),
		zap.String("user_id", event.UserID))

	for _, handler := range all {
		handler(event)
	}
	for _, handler := range typed {
		handler(event)
	}
}
