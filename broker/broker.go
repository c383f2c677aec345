package broker

import (
	"log/slog"
	"sync"
)

// Bus fans events out to every subscriber. Slow subscribers lose events
// instead of stalling the publisher.
type Bus[T any] struct {
	mu   sync.RWMutex
	name string
	subs map[chan T]struct{}
	size int
}

func NewBus[T any](name string, buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus[T]{name: name, subs: make(map[chan T]struct{}), size: buffer}
}

// Subscribe registers a new subscriber. The returned function removes the
// subscription and closes the channel; it is safe to call more than once.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus[T]) Publish(ev T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		slog.Debug("Dropped event for slow subscribers", "bus", b.name, "subscribers", dropped)
	}
}

// Len returns the current subscriber count.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
