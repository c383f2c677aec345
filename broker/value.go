package broker

import "sync"

// Value is an observable cell with a single writer and any number of readers.
// Subscribers only ever see the most recent value: a reader that falls behind
// skips intermediate values rather than queueing them.
type Value[T any] struct {
	mu   sync.RWMutex
	val  T
	subs map[chan T]struct{}
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{val: initial, subs: make(map[chan T]struct{})}
}

func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val
}

// Set stores x and notifies every subscriber, replacing any value the
// subscriber has not consumed yet.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val = x
	for ch := range v.subs {
		select {
		case ch <- x:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- x:
			default:
			}
		}
	}
}

// Subscribe returns a channel receiving values set after the call. The
// current value is not replayed; use Get for that.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)
	v.mu.Lock()
	v.subs[ch] = struct{}{}
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, ch)
			v.mu.Unlock()
			close(ch)
		})
	}
}
