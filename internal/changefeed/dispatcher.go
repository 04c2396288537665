package changefeed

import (
	"context"
	"sync"
)

// Dispatcher is the in-process change bus. It fans each published signal out to
// every subscription registered for the signal's entity set.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*Subscription
	nextID      int64
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id         int64
	entitySet  string
	pending    chan Signal
	done       chan struct{}
	closeOnce  sync.Once
	dispatcher *Dispatcher
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*Subscription),
	}
}

// Subscribe invokes onSignal for every signal published for set until the
// subscription is closed or ctx is done. Callbacks for one subscription run
// sequentially; signals arriving while a callback runs collapse into a single
// pending delivery.
func (d *Dispatcher) Subscribe(ctx context.Context, set EntitySet, onSignal func(Signal)) *Subscription {
	subscription := &Subscription{
		entitySet: set.Name,
		pending:   make(chan Signal, 1),
		done:      make(chan struct{}),
	}
	if set.Name == "" || onSignal == nil {
		subscription.Close()
		return subscription
	}
	subscription.id = d.nextSequence()
	subscription.dispatcher = d
	d.registerSubscriber(subscription)
	go subscription.run(ctx, onSignal)
	return subscription
}

// Publish never blocks: a subscription that already holds a pending signal
// keeps it and the new one is coalesced into it.
func (d *Dispatcher) Publish(signal Signal) {
	if signal.EntitySet == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[signal.EntitySet]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*Subscription, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.pending <- signal:
		default:
		}
	}
}

// SubscriberCount reports the live subscriptions for an entity set.
func (d *Dispatcher) SubscriberCount(entitySet string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[entitySet])
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(subscriber *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[subscriber.entitySet]; !ok {
		d.subscribers[subscriber.entitySet] = make(map[int64]*Subscription)
	}
	d.subscribers[subscriber.entitySet][subscriber.id] = subscriber
}

func (d *Dispatcher) unregisterSubscriber(entitySet string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[entitySet]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, entitySet)
		}
	}
	d.mu.Unlock()
}

func (s *Subscription) run(ctx context.Context, onSignal func(Signal)) {
	defer s.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case signal := <-s.pending:
			select {
			case <-s.done:
				return
			default:
			}
			onSignal(signal)
		}
	}
}

// Close stops future callbacks. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.dispatcher != nil {
			s.dispatcher.unregisterSubscriber(s.entitySet, s.id)
		}
		close(s.done)
	})
}

// Done is closed once the subscription stops delivering.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// EntitySet returns the name of the watched set.
func (s *Subscription) EntitySet() string {
	return s.entitySet
}
