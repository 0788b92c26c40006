// Package bus fans store and chat events out to in-process listeners such as
// the /events websocket. Delivery never blocks the publisher: a listener that
// falls behind loses events and the loss is counted.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// subscriptionBuffer is how many undelivered events a listener may hold.
const subscriptionBuffer = 100

// Event is one published message.
type Event struct {
	Topic   string
	Payload any
}

// Subscription receives the events that match its topic prefix and filter.
type Subscription struct {
	prefix  string
	accept  func(Event) bool
	ch      chan Event
	dropped atomic.Int64
}

// Ch returns the delivery channel. It is closed by Unsubscribe.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Dropped reports how many events were lost because the buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) wants(ev Event) bool {
	if !strings.HasPrefix(ev.Topic, s.prefix) {
		return false
	}
	return s.accept == nil || s.accept(ev)
}

// Bus is safe for concurrent use. A nil *Bus drops everything.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Int64
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe listens on every topic starting with prefix; "" matches all.
func (b *Bus) Subscribe(prefix string) *Subscription {
	return b.SubscribeFunc(prefix, nil)
}

// SubscribeFunc narrows Subscribe with accept, which runs on the publisher's
// goroutine and must not block. A nil accept takes everything.
func (b *Bus) SubscribeFunc(prefix string, accept func(Event) bool) *Subscription {
	sub := &Subscription{
		prefix: prefix,
		accept: accept,
		ch:     make(chan Event, subscriptionBuffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// SubscribeOwner delivers only task events that belong to ownerID.
func (b *Bus) SubscribeOwner(ownerID string) *Subscription {
	return b.SubscribeFunc(TopicTaskPrefix, func(ev Event) bool {
		te, ok := ev.Payload.(TaskEvent)
		return ok && te.OwnerID == ownerID
	})
}

// Unsubscribe detaches sub and closes its channel. Repeat calls are no-ops.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers payload under topic to every interested subscriber.
func (b *Bus) Publish(topic string, payload any) {
	if b == nil {
		return
	}
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped is the total number of undelivered events across all subscribers,
// including ones that have since unsubscribed.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
