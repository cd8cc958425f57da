package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startedBus(t *testing.T) EventBus {
	t.Helper()
	bus := NewEventBus()
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop(context.Background()) })
	return bus
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case event := <-sub.Events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := startedBus(t)
	sub := bus.Subscribe(EventJobStarted)
	defer bus.Unsubscribe(sub)

	require.NoError(t, bus.PublishAsync(NewJobEvent(EventJobStarted, "job-1", "transcode running", nil)))

	event := receive(t, sub)
	assert.Equal(t, EventJobStarted, event.Type)
	assert.Equal(t, "job-1", event.Data["job_id"])
}

func TestSubscriberFiltersByType(t *testing.T) {
	bus := startedBus(t)
	sub := bus.Subscribe(EventJobCompleted)
	defer bus.Unsubscribe(sub)

	require.NoError(t, bus.PublishAsync(NewJobEvent(EventJobStarted, "job-1", "", nil)))
	require.NoError(t, bus.PublishAsync(NewJobEvent(EventJobCompleted, "job-2", "", nil)))

	event := receive(t, sub)
	assert.Equal(t, EventJobCompleted, event.Type)
	assert.Equal(t, "job-2", event.Data["job_id"])
}

func TestSubscribeWithoutTypesReceivesEverything(t *testing.T) {
	bus := startedBus(t)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	require.NoError(t, bus.PublishAsync(NewSystemEvent(EventSystemStarted, "Started", "up")))
	assert.Equal(t, EventSystemStarted, receive(t, sub).Type)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := startedBus(t)
	sub := bus.Subscribe(EventJobFailed)
	bus.Unsubscribe(sub)

	_, open := <-sub.Events
	assert.False(t, open)

	// double unsubscribe must not panic
	bus.Unsubscribe(sub)
}

func TestStopClosesSubscribers(t *testing.T) {
	bus := NewEventBus()
	require.NoError(t, bus.Start(context.Background()))
	sub := bus.Subscribe(EventJobProgress)

	require.NoError(t, bus.Stop(context.Background()))

	_, open := <-sub.Events
	assert.False(t, open)
}
