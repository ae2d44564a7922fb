package authclient

import "sync"

// Broadcaster propagates logout signals between cooperating clients sharing
// one credential scope ("tabs"). Implementations may sit on any pub/sub
// medium; the in-memory one serves same-process tabs and tests.
type Broadcaster interface {
	// PublishLogout signals every subscriber, including the publisher's own
	// subscription; the controller dedupes its own signal by state.
	PublishLogout()

	// SubscribeLogout returns a signal channel and a cancel function that
	// releases the subscription.
	SubscribeLogout() (<-chan struct{}, func())
}

// MemoryBroadcaster is an in-process Broadcaster.
type MemoryBroadcaster struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[chan struct{}]struct{})}
}

func (b *MemoryBroadcaster) PublishLogout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
			// Subscriber already has a pending signal.
		}
	}
}

func (b *MemoryBroadcaster) SubscribeLogout() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}
