package capture

import "sync"

// DefaultDelta is assumed when a tick arrives without a usable delta-time.
const DefaultDelta = 1.0 / 60.0

// Tick is one host-loop frame-update event.
type Tick struct {
	// Delta is the time since the previous tick, in seconds.
	Delta float64
}

// TickHandler receives ticks from a TickSource.
type TickHandler func(Tick)

// Subscription is the token returned by TickSource.Subscribe; callers use it
// to stop receiving ticks.
type Subscription interface {
	Unsubscribe()
}

// TickSource delivers one tick per rendered host frame to its subscribers.
type TickSource interface {
	Subscribe(name string, h TickHandler) Subscription
}

// TickBus is an in-process TickSource fed by the host loop via Publish.
// Handlers run synchronously on the publisher's goroutine, in subscription
// order.
type TickBus struct {
	mu   sync.Mutex
	next int
	subs []*busSubscription
}

type busSubscription struct {
	bus     *TickBus
	id      int
	name    string
	handler TickHandler
}

// NewTickBus creates an empty tick bus.
func NewTickBus() *TickBus {
	return &TickBus{}
}

// Subscribe registers a handler under a diagnostic name.
func (b *TickBus) Subscribe(name string, h TickHandler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &busSubscription{bus: b, id: b.next, name: name, handler: h}
	b.next++
	b.subs = append(b.subs, sub)
	return sub
}

// Publish delivers one tick to every subscriber. A non-positive delta is
// replaced with DefaultDelta.
func (b *TickBus) Publish(delta float64) {
	if delta <= 0 {
		delta = DefaultDelta
	}

	b.mu.Lock()
	subs := make([]*busSubscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	t := Tick{Delta: delta}
	for _, sub := range subs {
		sub.handler(t)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *TickBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Unsubscribe removes the subscription from its bus. Idempotent.
func (s *busSubscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == s.id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}
