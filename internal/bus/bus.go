package bus

import (
	"sync"
	"time"

	"github.com/normanking/canopy/pkg/bterr"
)

// DefaultSubscriberBuffer is the channel buffer a Subscribe call gets when
// the caller passes 0.
const DefaultSubscriberBuffer = 64

// Bus fans tick events out from the tree's goroutine to any number of
// subscribers. Publish never blocks: a subscriber whose buffer is full
// misses events rather than stalling the tick loop, which is acceptable
// for a monitoring feed where only the latest state matters.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	seq    uint64
	closed bool
}

// NewBus creates an empty bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber and returns its id (for Unsubscribe)
// and receive channel. buffer <= 0 selects DefaultSubscriberBuffer. The
// channel is closed when the subscriber is removed or the bus shuts down.
func (b *Bus) Subscribe(buffer int) (int, <-chan Event) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return -1, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids are
// a no-op, so racing an Unsubscribe against Close is safe.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish stamps evt with a sequence number and timestamp and delivers it
// to every subscriber that has buffer room. Publishing on a closed bus
// fails with a Halted-kind error.
func (b *Bus) Publish(evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bterr.New(bterr.Halted, "event bus is closed")
	}

	b.seq++
	evt.Seq = b.seq
	evt.Timestamp = time.Now().UTC()

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default: // subscriber is behind; drop rather than block the tick
		}
	}
	return nil
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts the bus down, closing every subscriber channel. Further
// Publish calls fail; further Subscribe calls return an already-closed
// channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
