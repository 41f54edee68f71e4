package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventTaskCreated          EventType = "task.created"
	EventTaskUpdated          EventType = "task.updated"
	EventAssignmentCreated    EventType = "assignment.created"
	EventAssignmentUpdated    EventType = "assignment.updated"
	EventNotificationCreated  EventType = "notification.created"
	EventNotificationConsumed EventType = "notification.consumed"
	EventNotificationRead     EventType = "notification.read"
)

// Event is a change-feed entry. ResourceID is the id of the changed record;
// Metadata carries routing keys such as task_id and recipient_id.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	ResourceID string            `json:"resource_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	// Origin identifies the bus that first published the event.
	Origin string `json:"origin,omitempty"`
}

type Bus struct {
	id          string
	mu          sync.RWMutex
	subscribers map[string]chan *Event
	hooks       []func(*Event)
}

func New() *Bus {
	return &Bus{
		id:          ulid.Make().String(),
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) ID() string {
	return b.id
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// OnPublish registers fn to observe every locally originated event.
func (b *Bus) OnPublish(fn func(*Event)) {
	b.mu.Lock()
	b.hooks = append(b.hooks, fn)
	b.mu.Unlock()
}

// Publish never blocks; a subscriber whose buffer is full misses the event.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	if event.Origin != b.id {
		return
	}
	for _, fn := range b.hooks {
		fn(event)
	}
}

func (b *Bus) PublishNew(eventType EventType, resourceID string, metadata map[string]string) {
	b.Publish(&Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
		Origin:     b.id,
	})
}
