package monitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind classifies a live session event.
type Kind string

const (
	KindOpen   Kind = "open"
	KindInput  Kind = "input"
	KindOutput Kind = "output"
	KindClose  Kind = "close"
)

// Event is one observable step of an attacker session.
type Event struct {
	Kind       Kind      `json:"kind"`
	SessionID  string    `json:"sessionId"`
	Username   string    `json:"username,omitempty"`
	RemoteAddr string    `json:"remoteAddr,omitempty"`
	Text       string    `json:"text,omitempty"`
	Tactic     string    `json:"tactic,omitempty"`
	Time       time.Time `json:"time"`
}

// Publisher receives session events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

const defaultBuffer = 64

// Hub fans events out to subscribers. A subscriber that falls behind loses
// events instead of stalling the sessions that produce them.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextID  int
	buffer  int
	dropped atomic.Int64
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Publish delivers ev to every subscriber that has room for it.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a new listener. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports the number of registered listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
