package observer

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"arenanet/internal/observerproto"
)

const (
	defaultInterval = 500 * time.Millisecond
	minInterval     = 50 * time.Millisecond
	maxInterval     = 10 * time.Second
)

type subscriber struct {
	out      chan []byte
	interval time.Duration
	entities bool
	last     time.Time
}

// Hub fans tick messages out to websocket subscribers. The game loop calls
// Due and Publish; connection handlers join and leave. A subscriber whose
// buffer is full misses the message.
type Hub struct {
	mu   sync.Mutex
	subs map[string]*subscriber

	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[string]*subscriber{}}
}

func normalize(sub observerproto.SubscribeMsg) time.Duration {
	d := time.Duration(sub.IntervalMs) * time.Millisecond
	switch {
	case d <= 0:
		return defaultInterval
	case d < minInterval:
		return minInterval
	case d > maxInterval:
		return maxInterval
	}
	return d
}

func (h *Hub) join(id string, sub observerproto.SubscribeMsg, out chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[id] = &subscriber{out: out, interval: normalize(sub), entities: sub.Entities}
}

func (h *Hub) update(id string, sub observerproto.SubscribeMsg) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		s.interval = normalize(sub)
		s.entities = sub.Entities
	}
}

func (h *Hub) leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Due reports whether any subscriber wants a message at now, and whether any
// of those wants the entity list.
func (h *Hub) Due(now time.Time) (due, entities bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if now.Sub(s.last) >= s.interval {
			due = true
			entities = entities || s.entities
		}
	}
	return due, entities
}

// Publish sends msg to every subscriber whose interval has elapsed.
func (h *Hub) Publish(now time.Time, msg observerproto.TickMsg) {
	msg.Type = "NET_TICK"
	msg.ProtocolVersion = observerproto.Version
	full, err := json.Marshal(msg)
	if err != nil {
		return
	}
	var slim []byte

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if now.Sub(s.last) < s.interval {
			continue
		}
		s.last = now
		b := full
		if !s.entities && len(msg.Entities) > 0 {
			if slim == nil {
				m := msg
				m.Entities = nil
				slim, _ = json.Marshal(m)
			}
			b = slim
		}
		select {
		case s.out <- b:
		default:
			h.dropped.Add(1)
		}
	}
}
