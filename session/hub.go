package session

import (
	"sync"

	"github.com/room4-2/roomagent/messages"
)

const subscriberBuffer = 256

// Subscription receives the messages of one room, or of every room when
// Room is empty.
type Subscription struct {
	Room string
	C    <-chan *messages.ServerMessage

	ch     chan *messages.ServerMessage
	hub    *Hub
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

func (s *Subscription) offer(msg *messages.ServerMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		// Queue full, drop message (slow subscriber)
	}
}

// Hub fans job messages out to websocket subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a listener for room ("" for all rooms).
func (h *Hub) Subscribe(room string) *Subscription {
	ch := make(chan *messages.ServerMessage, subscriberBuffer)
	s := &Subscription{Room: room, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish delivers msg to every matching subscriber without blocking.
func (h *Hub) Publish(msg *messages.ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.Room == "" || s.Room == msg.Room {
			s.offer(msg)
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// CloseAll detaches every subscriber.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		s.Close()
	}
}
