// Package broadcast provides a minimal coalescing change notifier shared by
// the subscription store and the model registry.
package broadcast

import "sync"

// Broadcaster fans a "something changed" signal out to subscribers. Signals
// are coalesced: a subscriber that has not drained its channel yet will see
// a burst of notifications as one.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan struct{}
	next int
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release it; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]chan struct{})
	}
	id := b.next
	b.next++
	ch := make(chan struct{}, 1)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Notify signals all current subscribers without blocking.
func (b *Broadcaster) Notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
