package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := New()
	_, ch1 := bus.Subscribe(4)
	_, ch2 := bus.Subscribe(4)

	bus.PublishNew(EventTypeTaskCreated, "task-1", map[string]string{"delegator_id": "d1"})

	for _, ch := range []<-chan *Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventTypeTaskCreated, ev.Type)
			assert.Equal(t, "task-1", ev.ResourceID)
			assert.Equal(t, "d1", ev.Metadata["delegator_id"])
			assert.NotEmpty(t, ev.ID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.PublishNew(EventTypeWorkGenerated, "1", nil)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := New()
	_, ch := bus.Subscribe(1)

	bus.PublishNew(EventTypeWorkClaimed, "1", nil)
	bus.PublishNew(EventTypeWorkClaimed, "2", nil)

	ev := <-ch
	require.Equal(t, "1", ev.ResourceID)
	select {
	case ev := <-ch:
		t.Fatalf("expected second event to be dropped, got %v", ev.ResourceID)
	default:
	}
}
