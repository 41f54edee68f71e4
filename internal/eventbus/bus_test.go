package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishNew(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(4)
	defer bus.Unsubscribe(id)

	bus.PublishNew(EventTaskUpdated, "task-1", map[string]string{"task_id": "task-1"})

	select {
	case e := <-ch:
		assert.Equal(t, EventTaskUpdated, e.Type)
		assert.Equal(t, "task-1", e.ResourceID)
		assert.Equal(t, bus.ID(), e.Origin)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	bus := New()
	id, _ := bus.Subscribe(1)
	defer bus.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		for range 10 {
			bus.PublishNew(EventTaskCreated, "t", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBus_HooksSeeOnlyLocalEvents(t *testing.T) {
	bus := New()
	var seen []string
	bus.OnPublish(func(e *Event) { seen = append(seen, e.ResourceID) })

	bus.PublishNew(EventTaskCreated, "local", nil)
	bus.Publish(&Event{ID: "x", Type: EventTaskCreated, ResourceID: "remote", Origin: "other-replica"})

	assert.Equal(t, []string{"local"}, seen)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)
	bus.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestDecodeRemoteEvent(t *testing.T) {
	data, err := json.Marshal(&Event{ID: "e1", Type: EventNotificationCreated, ResourceID: "n1", Origin: "replica-a"})
	require.NoError(t, err)

	e, err := decodeRemoteEvent(string(data), "replica-b")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, EventNotificationCreated, e.Type)

	e, err = decodeRemoteEvent(string(data), "replica-a")
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = decodeRemoteEvent("{", "replica-b")
	assert.Error(t, err)
}
