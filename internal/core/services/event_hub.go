package services

import (
	"sync"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
)

// EventHub fans task events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type EventHub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan domain.TaskEvent
}

func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[uint64]chan domain.TaskEvent)}
}

// Subscribe returns an event channel and the function that closes it.
func (h *EventHub) Subscribe(buffer int) (<-chan domain.TaskEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.TaskEvent, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *EventHub) Publish(event domain.TaskEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
