// Package stream distributes engine lifecycle events to in-process
// consumers.
package stream

import (
	"context"
	"sync"
	"time"
)

// EventType identifies a published engine event.
type EventType string

const (
	EventPlanCreated    EventType = "plan_created"
	EventPlanApproved   EventType = "plan_approved"
	EventPlanRejected   EventType = "plan_rejected"
	EventPlanExpired    EventType = "plan_expired"
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventDCARound       EventType = "dca_round"
	EventPartialExit    EventType = "partial_exit"
	EventLockCreated    EventType = "lock_created"
	EventEnginePaused   EventType = "engine_paused"
	EventEngineResumed  EventType = "engine_resumed"
	EventEmergencyStop  EventType = "emergency_stop"
)

// AllEvents subscribes to every event type.
const AllEvents = "*"

// Event is one engine lifecycle occurrence.
type Event struct {
	Type      EventType
	Symbol    string
	Timestamp time.Time
	Data      map[string]interface{}
}

// HubConfig holds configuration for the event hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Hub fans engine events out to subscribers. Publishing never blocks the
// engine loop: a full internal buffer or a slow subscriber drops events
// rather than stalling trading.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	eventChan   chan Event
	done        chan struct{}
	started     bool

	metricsMu       sync.RWMutex
	eventsReceived  uint64
	eventsBroadcast uint64
	eventsDropped   uint64
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan Event
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a new event hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new event hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	return &Hub{
		config:      config,
		subscribers: make(map[string][]*Subscriber),
		eventChan:   make(chan Event, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the hub's distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case event := <-h.eventChan:
			h.metricsMu.Lock()
			h.eventsReceived++
			h.metricsMu.Unlock()

			h.broadcast(event)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}

	close(h.done)
	h.started = false

	for key, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, key)
	}
}

// Subscribe adds a subscriber for an event type and returns its channel.
// Use AllEvents to receive everything.
func (h *Hub) Subscribe(eventType string) <-chan Event {
	return h.SubscribeWithID(eventType, "")
}

// SubscribeWithID adds a subscriber with a specific ID for an event type.
func (h *Hub) SubscribeWithID(eventType, id string) <-chan Event {
	ch := make(chan Event, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[eventType] = append(h.subscribers[eventType], sub)
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber channel for an event type.
func (h *Hub) Unsubscribe(eventType string, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[eventType]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[eventType]) == 0 {
		delete(h.subscribers, eventType)
	}
}

// Publish sends an event to the hub for distribution. Non-blocking: a
// full buffer drops the event.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case h.eventChan <- event:
	default:
		h.metricsMu.Lock()
		h.eventsDropped++
		h.metricsMu.Unlock()
	}
}

// broadcast sends an event to its type's subscribers and the wildcard
// subscribers, skipping slow consumers.
func (h *Hub) broadcast(event Event) {
	h.mu.RLock()
	subs := append([]*Subscriber{}, h.subscribers[string(event.Type)]...)
	subs = append(subs, h.subscribers[AllEvents]...)
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.Channel <- event:
			h.metricsMu.Lock()
			h.eventsBroadcast++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.eventsDropped++
			h.metricsMu.Unlock()
		}
	}
}

// SubscriberCount returns the number of subscribers for an event type.
func (h *Hub) SubscriberCount(eventType string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[eventType])
}

// TotalSubscriberCount returns the total number of subscribers.
func (h *Hub) TotalSubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Metrics contains hub performance counters.
type Metrics struct {
	EventsReceived  uint64
	EventsBroadcast uint64
	EventsDropped   uint64
	Subscribers     int
}

// GetMetrics returns hub metrics.
func (h *Hub) GetMetrics() Metrics {
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()

	return Metrics{
		EventsReceived:  h.eventsReceived,
		EventsBroadcast: h.eventsBroadcast,
		EventsDropped:   h.eventsDropped,
		Subscribers:     h.TotalSubscriberCount(),
	}
}
