package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

func collect(t *testing.T, s *Subscription) []models.ExecutionEvent {
	t.Helper()
	var out []models.ExecutionEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("subscription was not closed")
		}
	}
}

func TestBroker_OrderedDeliveryAndClose(t *testing.T) {
	b := NewBroker(0)
	b.Open("r1")
	sub, err := b.Subscribe("r1")
	require.NoError(t, err)

	// unbuffered channel and nobody reading yet: publishing must not block
	for i := 0; i < 100; i++ {
		b.Publish(models.ExecutionEvent{Type: models.EventNodeCompleted, RuntimeUUID: "r1", NodeUUID: "n"})
	}
	b.Publish(models.ExecutionEvent{Type: models.EventInstanceCompleted, RuntimeUUID: "r1"})

	events := collect(t, sub)
	require.Len(t, events, 101)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.False(t, ev.Timestamp.IsZero())
	}
	assert.Equal(t, models.EventInstanceCompleted, events[100].Type)
	assert.False(t, b.Live("r1"))
}

func TestBroker_SubscribeRequiresOpenTopic(t *testing.T) {
	b := NewBroker(4)
	_, err := b.Subscribe("missing")
	assert.ErrorIs(t, err, ErrNotLive)

	b.Open("r1")
	b.Publish(models.ExecutionEvent{Type: models.EventInstanceSuspended, RuntimeUUID: "r1"})
	_, err = b.Subscribe("r1")
	assert.ErrorIs(t, err, ErrNotLive, "suspension ends the leg")
}

func TestBroker_ClosedSubscriberDoesNotAffectOthers(t *testing.T) {
	b := NewBroker(1)
	b.Open("r1")
	gone, err := b.Subscribe("r1")
	require.NoError(t, err)
	stay, err := b.Subscribe("r1")
	require.NoError(t, err)

	b.Publish(models.ExecutionEvent{Type: models.EventNodeStarted, RuntimeUUID: "r1"})
	gone.Close()
	b.Publish(models.ExecutionEvent{Type: models.EventNodeCompleted, RuntimeUUID: "r1"})
	b.Publish(models.ExecutionEvent{Type: models.EventInstanceFailed, RuntimeUUID: "r1"})

	events := collect(t, stay)
	require.Len(t, events, 3)
	assert.Equal(t, models.EventInstanceFailed, events[2].Type)

	// the closed subscription's channel is closed too
	collect(t, gone)
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker(0)
	b.Open("a")
	sub, err := b.Subscribe("a")
	require.NoError(t, err)
	b.Close()
	assert.Empty(t, collect(t, sub))
}
