// Package eventbus is a small in-memory fanout for relay lifecycle signals.
//
// Publish never blocks: each subscriber owns a buffered channel and slow
// subscribers lose events instead of stalling the relay loop.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the relay.
const (
	SessionReady   = "session.ready"
	FeedFetched    = "feed.fetched"
	ItemAnnounced  = "item.announced"
	ItemFailed     = "item.failed"
	LivenessFailed = "liveness.failed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// ItemData accompanies ItemAnnounced and ItemFailed.
type ItemData struct {
	ID       string
	BumpedAt string
	Err      string
}

// FetchData accompanies FeedFetched.
type FetchData struct {
	Items int
	Took  time.Duration
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a bus without background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop returns a bus that drops everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Holding the write lock excludes concurrent Publish, so close is safe.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
