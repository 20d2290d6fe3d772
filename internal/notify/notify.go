package notify

import (
	"context"
	"sync"
	"time"

	"bookstore/internal/metrics"
	"bookstore/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Op names the kind of write that triggered a change event.
type Op string

const (
	OpInsert    Op = "insert"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpDecrement Op = "decrement"
	OpRestock   Op = "restock"
)

// DefaultBuffer is the per-subscription event buffer used when none is configured.
const DefaultBuffer = 16

// ChangeEvent tells observers that data in Scope changed.
type ChangeEvent struct {
	Scope models.Scope `json:"-"`
	Path  string       `json:"scope"`
	Op    Op           `json:"op"`
	ID    int64        `json:"id,omitempty"`
	Rows  int64        `json:"rows"`
	At    time.Time    `json:"at"`
}

// NewEvent builds an event for a committed write.
func NewEvent(scope models.Scope, op Op, id, rows int64) ChangeEvent {
	return ChangeEvent{
		Scope: scope,
		Path:  scope.String(),
		Op:    op,
		ID:    id,
		Rows:  rows,
		At:    time.Now().UTC(),
	}
}

// Publisher delivers change events. Publish must not block the writer and
// has no way to fail it.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev ChangeEvent)

func (f PublisherFunc) Publish(ctx context.Context, ev ChangeEvent) { f(ctx, ev) }

// Fanout publishes every event to each of its publishers in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev ChangeEvent) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

// Hub is the in-process change notification channel.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	buffer  int
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, log *zap.Logger, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs:    make(map[string]*Subscription),
		buffer:  buffer,
		log:     log,
		metrics: m,
	}
}

// Subscription receives the events overlapping its scope until closed.
type Subscription struct {
	ID    string
	Scope models.Scope

	events chan ChangeEvent
	hub    *Hub
	once   sync.Once
}

// Events returns the event stream. It is closed by Close or when the hub closes.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.events
}

// Close stops delivery and closes the event channel. It is idempotent.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Subscribe registers an observer of scope.
func (h *Hub) Subscribe(scope models.Scope) *Subscription {
	sub := &Subscription{
		ID:     uuid.New().String(),
		Scope:  scope,
		events: make(chan ChangeEvent, h.buffer),
		hub:    h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(sub.events) })
		return sub
	}
	h.subs[sub.ID] = sub
	h.metrics.SubscriptionOpened()
	h.log.Debug("subscription opened", zap.String("id", sub.ID), zap.String("scope", scope.String()))
	return sub
}

// Publish delivers ev to every overlapping subscription without blocking.
// A subscriber whose buffer is full already has a refresh pending, so the
// event is folded into it.
func (h *Hub) Publish(_ context.Context, ev ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.metrics.NotificationPublished()
	for _, sub := range h.subs {
		if !ev.Scope.Overlaps(sub.Scope) {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			h.metrics.NotificationCoalesced()
			h.log.Debug("subscriber buffer full, event coalesced",
				zap.String("id", sub.ID), zap.String("scope", ev.Path))
		}
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later subscriptions are born closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		h.metrics.SubscriptionClosed()
		sub.once.Do(func() { close(sub.events) })
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		h.metrics.SubscriptionClosed()
		h.log.Debug("subscription closed", zap.String("id", sub.ID))
	}
	sub.once.Do(func() { close(sub.events) })
}
