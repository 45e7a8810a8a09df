package notify

import (
	"sync"
	"sync/atomic"

	"github.com/onlab/orderdesk/internal/domain"
)

const (
	defaultSubscriberBuffer = 16
	recentCapacity          = 1024
)

// Hub fans notifications out to live subscribers of each account.
// Publishing never blocks: a subscriber whose buffer is full misses the
// notification and can reload the list from the store.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int

	recentMu sync.Mutex
	recent   map[string]struct{}
	ring     []string
	next     int

	dropped atomic.Int64
}

// NewHub creates a hub whose subscribers buffer up to buffer notifications.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		recent: make(map[string]struct{}, recentCapacity),
		ring:   make([]string, recentCapacity),
	}
}

// Subscription receives notifications for one account until closed.
type Subscription struct {
	hub       *Hub
	accountID string
	ch        chan domain.Notification
	once      sync.Once
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan domain.Notification {
	return s.ch
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()

		if set, ok := s.hub.subs[s.accountID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.accountID)
			}
		}
		close(s.ch)
	})
}

// Subscribe registers a live subscriber for accountID.
func (h *Hub) Subscribe(accountID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		accountID: accountID,
		ch:        make(chan domain.Notification, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[accountID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[accountID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish delivers n to the account's subscribers and returns how many
// received it. A notification id already published recently is ignored,
// so the same row arriving from the emitter and a realtime feed is
// delivered once.
func (h *Hub) Publish(n domain.Notification) int {
	if n.ID != "" && !h.remember(n.ID) {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subs[n.AccountID] {
		select {
		case sub.ch <- n:
			delivered++
		default:
			h.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the number of live subscribers for accountID.
func (h *Hub) Subscribers(accountID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[accountID])
}

// Dropped returns the number of deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// remember records id and reports whether it was new.
func (h *Hub) remember(id string) bool {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()

	if _, ok := h.recent[id]; ok {
		return false
	}
	if evicted := h.ring[h.next]; evicted != "" {
		delete(h.recent, evicted)
	}
	h.ring[h.next] = id
	h.next = (h.next + 1) % len(h.ring)
	h.recent[id] = struct{}{}
	return true
}
