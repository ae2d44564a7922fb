package events

import (
	"log/slog"
	"sync"
	"time"
)

// Subscriber represents one connected event feed.
//
// Send is intentionally NOT closed by the hub to keep fan-out safe under
// concurrency; done signals goroutines to stop and Close is idempotent.
type Subscriber struct {
	UserID    string
	SessionID string
	Send      chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// Done returns a channel that is closed when the subscriber is shutting down.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Close signals the subscriber goroutines to stop (idempotent).
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub fans session revocation events out to per-user subscribers.
// It implements session.RevocationNotifier and never blocks: a subscriber
// with a full send queue misses the event and relies on its next refresh
// failing instead.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[*Subscriber]struct{}

	sendQueueSize int
	counter       SubscriberCounter
}

// SubscriberCounter observes feed connect/disconnect, typically a metrics
// gauge.
type SubscriberCounter interface {
	SubscriberConnected()
	SubscriberDisconnected()
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger, sendQueueSize int) *Hub {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Hub{
		log:           log,
		users:         make(map[string]map[*Subscriber]struct{}),
		sendQueueSize: sendQueueSize,
	}
}

// SetCounter attaches a subscriber counter. Call before serving traffic.
func (h *Hub) SetCounter(c SubscriberCounter) { h.counter = c }

// Subscribe registers a feed for the given user/session.
func (h *Hub) Subscribe(userID, sessionID string) *Subscriber {
	sub := &Subscriber{
		UserID:    userID,
		SessionID: sessionID,
		Send:      make(chan Envelope, h.sendQueueSize),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.users[userID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.users[userID] = set
	}
	set[sub] = struct{}{}

	if h.counter != nil {
		h.counter.SubscriberConnected()
	}

	return sub
}

// Unsubscribe removes a feed. It does not close the subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.users[sub.UserID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.users, sub.UserID)
	}

	if h.counter != nil {
		h.counter.SubscriberDisconnected()
	}
}

// SessionRevoked notifies subscribers of the user that one session died.
func (h *Hub) SessionRevoked(userID, sessionID, reason string) {
	env := newEnvelope(TypeSessionRevoked, SessionRevokedPayload{
		SessionID: sessionID,
		Reason:    reason,
	}, time.Now().UTC())
	h.broadcast(userID, env)
}

// AllSessionsRevoked notifies subscribers of the user that every session died.
func (h *Hub) AllSessionsRevoked(userID, reason string) {
	env := newEnvelope(TypeLogoutAll, LogoutAllPayload{Reason: reason}, time.Now().UTC())
	h.broadcast(userID, env)
}

func (h *Hub) broadcast(userID string, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.users[userID] {
		select {
		case <-sub.Done():
		case sub.Send <- env:
		default:
			if h.log != nil {
				h.log.Info("events.drop", "user_id", userID, "session_id", sub.SessionID, "type", env.Type)
			}
		}
	}
}
