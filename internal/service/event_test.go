package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("event not received within timeout")
		return Event{}
	}
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	counted := bus.Subscribe(EventTypeVehicleCounted)
	location := bus.Subscribe(EventTypeLocationChanged)

	bus.Publish(Event{
		Type:   EventTypeVehicleCounted,
		Source: "pipeline",
		Data:   map[string]interface{}{"vehicle_type": "truck", "vehicle_id": 7},
	})

	ev := receive(t, counted)
	assert.Equal(t, "pipeline", ev.Source)
	assert.Equal(t, "truck", ev.Data["vehicle_type"])
	assert.False(t, ev.Timestamp.IsZero())

	select {
	case ev := <-location:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestEventBus_KeepsPublishTimestamp(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTypeCameraStateChanged)
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: EventTypeCameraStateChanged, Timestamp: at})

	assert.Equal(t, at, receive(t, ch).Timestamp)
}

func TestEventBus_SubscribeAll(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	all := bus.SubscribeAll()
	bus.Publish(Event{Type: EventTypeCameraConnected, Source: "pipeline"})
	bus.Publish(Event{Type: EventTypeVehicleCounted, Source: "pipeline"})
	bus.Publish(Event{Type: EventTypePipelineFinished, Source: "pipeline"})

	assert.Equal(t, EventTypeCameraConnected, receive(t, all).Type)
	assert.Equal(t, EventTypeVehicleCounted, receive(t, all).Type)
	assert.Equal(t, EventTypePipelineFinished, receive(t, all).Type)

	bus.UnsubscribeAll(all)
	_, ok := <-all
	assert.False(t, ok)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Close()

	ch := bus.Subscribe(EventTypeSinkFault)
	other := bus.Subscribe(EventTypeSinkFault)
	bus.Unsubscribe(EventTypeSinkFault, ch)

	_, ok := <-ch
	assert.False(t, ok)

	bus.Publish(Event{Type: EventTypeSinkFault})
	assert.Equal(t, EventTypeSinkFault, receive(t, other).Type)

	// Unsubscribe also finds wildcard subscriptions
	all := bus.SubscribeAll()
	bus.Unsubscribe(EventTypeSinkFault, all)
	_, ok = <-all
	assert.False(t, ok)
}

func TestEventBus_PublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	ch := bus.Subscribe(EventTypeVehicleCounted)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: EventTypeVehicleCounted, Data: map[string]interface{}{"vehicle_id": i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	// Only the first event fit the buffer
	assert.Equal(t, 0, receive(t, ch).Data["vehicle_id"])
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeLocationChanged)
	all := bus.SubscribeAll()

	bus.Close()
	bus.Close()
	bus.Publish(Event{Type: EventTypeLocationChanged})

	_, ok := <-ch
	assert.False(t, ok)
	_, ok = <-all
	assert.False(t, ok)

	late := bus.Subscribe(EventTypeLocationChanged)
	_, ok = <-late
	assert.False(t, ok, "subscribing to a closed bus returns a closed channel")

	// No-ops after close
	bus.Unsubscribe(EventTypeLocationChanged, late)
	bus.UnsubscribeAll(late)
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := NewEventBus(1000)
	ch := bus.SubscribeAll()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(Event{Type: EventTypeVehicleCounted})
			}
		}()
	}
	wg.Wait()
	bus.Close()

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, 200, n)
}

func TestNewEventBus_DefaultBuffer(t *testing.T) {
	bus := NewEventBus(0)
	defer bus.Close()
	assert.Equal(t, 100, bus.bufferSize)
}
