package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphbridge/domain/events"
)

func changeEvent(tenantID string, action events.Action) events.ChangeEvent {
	return events.NewChangeEvent("knowledge_graph", tenantID, events.Change{
		Action:    action,
		Timestamp: time.Now(),
	})
}

func TestBusDeliversOnlyToTopicSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	a := bus.Subscribe(events.Topic("knowledge_graph", "a"), 4)
	b := bus.Subscribe(events.Topic("knowledge_graph", "b"), 4)

	event := changeEvent("a", events.ActionNodeAdded)
	require.NoError(t, bus.Publish(context.Background(), event.Topic(), event))

	select {
	case got := <-a.C:
		assert.Equal(t, event.ID, got.ID)
	default:
		t.Fatal("subscriber of a received nothing")
	}
	assert.Empty(t, b.C)
}

func TestBusFansOutToEverySubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	topic := events.Topic("knowledge_graph", "a")
	first := bus.Subscribe(topic, 1)
	second := bus.Subscribe(topic, 1)
	assert.Equal(t, 2, bus.Subscribers(topic))

	event := changeEvent("a", events.ActionEdgeAdded)
	require.NoError(t, bus.Publish(context.Background(), topic, event))

	assert.Equal(t, event.ID, (<-first.C).ID)
	assert.Equal(t, event.ID, (<-second.C).ID)
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	topic := events.Topic("knowledge_graph", "a")
	sub := bus.Subscribe(topic, 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), topic, changeEvent("a", events.ActionNodeUpdated)))
	}
	assert.Len(t, sub.C, 1)
	assert.Equal(t, uint64(2), sub.Missed())
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	topic := events.Topic("knowledge_graph", "a")
	sub := bus.Subscribe(topic, 1)
	sub.Cancel()
	sub.Cancel()

	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers(topic))

	// publishing to a topic without subscribers is not an error
	assert.NoError(t, bus.Publish(context.Background(), topic, changeEvent("a", events.ActionNodeRemoved)))
}

func TestBusClose(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sub := bus.Subscribe("m:t", 1)
	bus.Close()
	bus.Close()

	_, ok := <-sub.C
	assert.False(t, ok)
	sub.Cancel()

	late := bus.Subscribe("m:t", 1)
	_, ok = <-late.C
	assert.False(t, ok)
}
