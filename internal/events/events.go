package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventRunSucceeded  = "task_run_succeeded"
	EventRunFailed     = "task_run_failed"
	EventTaskFailed    = "task_failed"
	EventTaskCompleted = "task_completed"
	EventBulkApplied   = "bulk_applied"
)

// TaskEventPayload describes the minimal task snapshot for event consumers.
type TaskEventPayload struct {
	TaskID       int64         `json:"task_id"`
	TaskName     string        `json:"task_name"`
	ClientID     string        `json:"client_id"`
	UserbotPhone string        `json:"userbot_phone,omitempty"`
	Status       string        `json:"status"`
	Attempts     int           `json:"attempts,omitempty"`
	Latency      time.Duration `json:"latency,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	// Notify mirrors the task's notify_on_failure knob so consumers can
	// tell loggable failures from operator-facing ones.
	Notify bool `json:"notify,omitempty"`
}

// BulkEventPayload describes one applied bulk operation.
type BulkEventPayload struct {
	Action   string `json:"action"`
	AdminID  int64  `json:"admin_id"`
	Affected int64  `json:"affected"`
	Skipped  int64  `json:"skipped"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
