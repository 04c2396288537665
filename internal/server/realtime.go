package server

import (
	"context"
	"sync"
	"time"
)

const (
	EventViewChanged = "view-change"
	eventHeartbeat   = "heartbeat"
	eventSource      = "console-api"

	allEntitySets = "*"
)

// ViewEvent announces that a view installed a new snapshot.
type ViewEvent struct {
	EntitySet string    `json:"entitySet"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHub fans view events out to stream subscribers, keyed by entity set.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan ViewEvent
}

func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[string]map[int64]*eventSubscriber),
		bufferSize:  16,
	}
}

// Subscribe returns a stream of events for entitySet, or for every entity set
// when entitySet is empty. The subscription ends when ctx is done or the
// returned cleanup runs.
func (h *EventHub) Subscribe(ctx context.Context, entitySet string) (<-chan ViewEvent, func()) {
	topic := entitySet
	if topic == "" {
		topic = allEntitySets
	}
	subscriber := &eventSubscriber{
		id:     h.nextSequence(),
		stream: make(chan ViewEvent, h.bufferSize),
	}
	h.registerSubscriber(topic, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.unregisterSubscriber(topic, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers event without blocking; slow subscribers miss events.
func (h *EventHub) Publish(event ViewEvent) {
	if event.EntitySet == "" {
		return
	}
	h.mu.RLock()
	copies := make([]*eventSubscriber, 0, len(h.subscribers[event.EntitySet])+len(h.subscribers[allEntitySets]))
	for _, subscriber := range h.subscribers[event.EntitySet] {
		copies = append(copies, subscriber)
	}
	for _, subscriber := range h.subscribers[allEntitySets] {
		copies = append(copies, subscriber)
	}
	h.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the open streams for entitySet ("" for the
// all-sets topic).
func (h *EventHub) SubscriberCount(entitySet string) int {
	topic := entitySet
	if topic == "" {
		topic = allEntitySets
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

func (h *EventHub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *EventHub) registerSubscriber(topic string, subscriber *eventSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[int64]*eventSubscriber)
	}
	h.subscribers[topic][subscriber.id] = subscriber
}

func (h *EventHub) unregisterSubscriber(topic string, subscriberID int64) {
	h.mu.Lock()
	subscribers := h.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(h.subscribers, topic)
		}
	}
	h.mu.Unlock()
}
