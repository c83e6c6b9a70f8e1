package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventTypeTaskCreated       EventType = "TASK_CREATED"
	EventTypeTaskStatusChanged EventType = "TASK_STATUS_CHANGED"
	EventTypeWorkGenerated     EventType = "WORK_GENERATED"
	EventTypeWorkClaimed       EventType = "WORK_CLAIMED"
	EventTypeWorkReleased      EventType = "WORK_RELEASED"
	EventTypeWorkCompleted     EventType = "WORK_COMPLETED"
)

// Event is a fire-and-forget notification about a task or work item. The
// resource ID refers to the task for task events and the work item for work
// events; metadata carries the rest.
type Event struct {
	ID         string
	Type       EventType
	ResourceID string
	Metadata   map[string]string
	CreatedAt  time.Time
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
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

func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, resourceID string, metadata map[string]string) {
	b.Publish(&Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	})
}
