package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is pushed to dashboard subscribers on /ws/events.
type Event struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Hub fans events out to in-process subscribers. Slow subscribers lose
// events instead of blocking publishers.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]chan Event
	register   chan registration
	unregister chan string
	broadcast  chan Event
	shutdown   chan struct{}
	stopOnce   sync.Once
	dropped    atomic.Int64
}

type registration struct {
	id   string
	ch   chan Event
	done chan struct{}
}

// NewHub creates and starts a new Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:    make(map[string]chan Event),
		register:   make(chan registration),
		unregister: make(chan string),
		broadcast:  make(chan Event, 100),
		shutdown:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[reg.id]; ok {
				close(old)
			}
			h.clients[reg.id] = reg.ch
			h.mu.Unlock()
			close(reg.done)
		case id := <-h.unregister:
			h.mu.Lock()
			if ch, ok := h.clients[id]; ok {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			h.mu.RLock()
			for _, ch := range h.clients {
				select {
				case ch <- ev:
				default:
					h.dropped.Add(1)
				}
			}
			h.mu.RUnlock()
		case <-h.shutdown:
			h.mu.Lock()
			for id, ch := range h.clients {
				close(ch)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Register adds a subscriber channel under id. It returns once the hub has
// recorded the subscription. The channel is closed on Unregister or Stop.
func (h *Hub) Register(id string, ch chan Event) {
	done := make(chan struct{})
	select {
	case h.register <- registration{id: id, ch: ch, done: done}:
		<-done
	case <-h.shutdown:
		close(ch)
	}
}

// Unregister removes the subscriber with the given id.
func (h *Hub) Unregister(id string) {
	select {
	case h.unregister <- id:
	case <-h.shutdown:
	}
}

// Publish queues an event for all subscribers. It never blocks.
func (h *Hub) Publish(eventType string, data map[string]interface{}) {
	ev := Event{Type: eventType, Data: data, Timestamp: time.Now()}
	select {
	case h.broadcast <- ev:
	default:
		h.dropped.Add(1)
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Stop shuts down the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.shutdown) })
}
