// Package events fans navigation events out to subscribers and streams them
// over server-sent events.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/navwatch/internal/router"
)

const subscriberBufSize = 256

// Broker fans out watcher events to every subscriber. It implements
// router.Publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan router.Event
	nextID      atomic.Int64
	published   atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan router.Event),
	}
}

// Subscribe registers a new subscriber. The channel is buffered; slow
// consumers have events dropped.
func (b *Broker) Subscribe() (int64, <-chan router.Event) {
	id := b.nextID.Add(1)
	ch := make(chan router.Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks.
func (b *Broker) Publish(evt router.Event) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Published returns how many events have been published.
func (b *Broker) Published() int64 {
	return b.published.Load()
}
