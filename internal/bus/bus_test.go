package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndPublish(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, events := b.Subscribe(4)
	require.NoError(t, b.Publish(Event{Type: EventTickStart, TreeID: "Main"}))

	evt := <-events
	assert.Equal(t, EventTickStart, evt.Type)
	assert.Equal(t, "Main", evt.TreeID)
	assert.Equal(t, uint64(1), evt.Seq)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, events := b.Subscribe(8)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(Event{Type: EventTickEnd}))
	}

	var last uint64
	for i := 0; i < 5; i++ {
		evt := <-events
		assert.Greater(t, evt.Seq, last)
		last = evt.Seq
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	id, events := b.Subscribe(1)
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(id)
	assert.Equal(t, 0, b.SubscriberCount())
	_, open := <-events
	assert.False(t, open)

	// Repeating is a no-op.
	b.Unsubscribe(id)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBus()
	defer b.Close()

	_, events := b.Subscribe(1)
	require.NoError(t, b.Publish(Event{Type: EventTickStart}))
	require.NoError(t, b.Publish(Event{Type: EventTickEnd})) // buffer full, dropped

	evt := <-events
	assert.Equal(t, EventTickStart, evt.Type)
	select {
	case evt := <-events:
		t.Fatalf("expected the second event to be dropped, got %v", evt.Type)
	default:
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := NewBus()
	_, events := b.Subscribe(1)
	require.NoError(t, b.Close())

	_, open := <-events
	assert.False(t, open)
	assert.Error(t, b.Publish(Event{Type: EventTickStart}))

	// Closing twice is fine; subscribing after close yields a closed channel.
	require.NoError(t, b.Close())
	id, ch := b.Subscribe(1)
	assert.Equal(t, -1, id)
	_, open = <-ch
	assert.False(t, open)
}

func TestConcurrentPublishers(t *testing.T) {
	b := NewBus()
	defer b.Close()

	const publishers, perPublisher = 4, 25
	_, events := b.Subscribe(publishers * perPublisher)

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				b.Publish(Event{Type: EventNodeStateChange})
			}
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for i := 0; i < publishers*perPublisher; i++ {
		evt := <-events
		assert.False(t, seen[evt.Seq], "duplicate seq %d", evt.Seq)
		seen[evt.Seq] = true
	}
}
