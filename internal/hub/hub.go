// Package hub fans outbound events out to every connected viewer and funnels
// inbound viewer messages into one ordered queue.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oremus-labs/ol-chat-relay/internal/events"
	"github.com/oremus-labs/ol-chat-relay/internal/logutil"
	"github.com/oremus-labs/ol-chat-relay/internal/metrics"
)

// Mirror receives a copy of every broadcast event for external observers.
type Mirror interface {
	Publish(evt events.Event)
}

// Options configure the hub.
type Options struct {
	// ConnectedMessage is sent to each new subscriber only.
	ConnectedMessage string
	// Buffer is the per-subscriber backlog; a subscriber that falls this far
	// behind is dropped.
	Buffer int
	// PollInterval bounds how long Next sleeps between queue checks.
	PollInterval time.Duration
	Mirror       Mirror
}

// Subscriber is one registered receiver of broadcast events.
type Subscriber struct {
	ID     string
	events chan events.Event
}

// Events yields broadcast events. It is closed when the subscriber is
// removed, either by Disconnect or because it fell behind.
func (s *Subscriber) Events() <-chan events.Event {
	return s.events
}

// Hub is safe for concurrent use.
type Hub struct {
	connected string
	buffer    int
	poll      time.Duration
	mirror    Mirror

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}

	qmu    sync.Mutex
	queue  []events.Inbound
	notify chan struct{}
}

// New creates a hub.
func New(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.ConnectedMessage == "" {
		opts.ConnectedMessage = "Connected to chat relay"
	}
	return &Hub{
		connected:   opts.ConnectedMessage,
		buffer:      opts.Buffer,
		poll:        opts.PollInterval,
		mirror:      opts.Mirror,
		subscribers: make(map[*Subscriber]struct{}),
		notify:      make(chan struct{}, 1),
	}
}

// Connect registers a subscriber. Its first event is the connected notice.
func (h *Hub) Connect() *Subscriber {
	sub := &Subscriber{
		ID:     uuid.NewString(),
		events: make(chan events.Event, h.buffer+1),
	}
	sub.events <- events.Connected(h.connected)

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	metrics.ViewerConnected()
	logutil.Debug("viewer connected", map[string]interface{}{"viewer": sub.ID})
	return sub
}

// Disconnect removes a subscriber. It is safe to call more than once.
func (h *Hub) Disconnect(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) bool {
	if _, ok := h.subscribers[sub]; !ok {
		return false
	}
	delete(h.subscribers, sub)
	close(sub.events)
	metrics.ViewerDisconnected()
	return true
}

// Broadcast delivers evt to every subscriber without blocking. A subscriber
// whose backlog is full is removed rather than left with a gap.
func (h *Hub) Broadcast(evt events.Event) {
	h.mu.Lock()
	for sub := range h.subscribers {
		select {
		case sub.events <- evt:
		default:
			h.removeLocked(sub)
			metrics.EventDropped()
			logutil.Warn("dropping backlogged viewer", map[string]interface{}{
				"viewer": sub.ID,
				"event":  string(evt.Type),
			})
		}
	}
	h.mu.Unlock()

	if h.mirror != nil {
		h.mirror.Publish(evt)
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Enqueue appends a viewer message to the inbound queue.
func (h *Hub) Enqueue(msg events.Inbound) {
	h.qmu.Lock()
	h.queue = append(h.queue, msg)
	h.qmu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

// Dequeue pops the oldest inbound message without blocking.
func (h *Hub) Dequeue() (events.Inbound, bool) {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	if len(h.queue) == 0 {
		return events.Inbound{}, false
	}
	msg := h.queue[0]
	h.queue[0] = events.Inbound{}
	h.queue = h.queue[1:]
	return msg, true
}

// Pending returns the inbound queue length.
func (h *Hub) Pending() int {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	return len(h.queue)
}

// Next blocks until an inbound message is available or ctx is done.
func (h *Hub) Next(ctx context.Context) (events.Inbound, error) {
	ticker := time.NewTicker(h.poll)
	defer ticker.Stop()
	for {
		if msg, ok := h.Dequeue(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return events.Inbound{}, ctx.Err()
		case <-h.notify:
		case <-ticker.C:
		}
	}
}
