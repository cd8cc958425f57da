package events

import (
	"context"
	"sync"

	"github.com/embermedia/ember/internal/logger"
)

// EventBus distributes events to subscribers without blocking publishers
type EventBus interface {
	PublishAsync(event Event) error
	Subscribe(types ...EventType) *Subscription
	Unsubscribe(sub *Subscription)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Subscription is one subscriber's feed; Events is closed on unsubscribe
type Subscription struct {
	Events chan Event
	types  map[EventType]bool
}

func (s *Subscription) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	return s.types[t]
}

type bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]bool
	queue   chan Event
	done    chan struct{}
	started bool
}

// NewEventBus creates an unstarted bus with a bounded queue
func NewEventBus() EventBus {
	return &bus{
		subs:  make(map[*Subscription]bool),
		queue: make(chan Event, 256),
		done:  make(chan struct{}),
	}
}

func (b *bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	go b.dispatch()
	return nil
}

func (b *bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	close(b.done)
	for sub := range b.subs {
		close(sub.Events)
		delete(b.subs, sub)
	}
	return nil
}

// PublishAsync enqueues the event; a full queue drops it rather than blocking
func (b *bus) PublishAsync(event Event) error {
	select {
	case b.queue <- event:
	default:
		logger.Warn("event bus queue full, dropping event type=%s", event.Type)
	}
	return nil
}

func (b *bus) Subscribe(types ...EventType) *Subscription {
	sub := &Subscription{
		Events: make(chan Event, 64),
		types:  make(map[EventType]bool, len(types)),
	}
	for _, t := range types {
		sub.types[t] = true
	}

	b.mu.Lock()
	b.subs[sub] = true
	b.mu.Unlock()
	return sub
}

func (b *bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.Events)
	}
}

func (b *bus) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case event := <-b.queue:
			b.mu.RLock()
			for sub := range b.subs {
				if !sub.wants(event.Type) {
					continue
				}
				select {
				case sub.Events <- event:
				default:
					// slow subscriber, drop for it rather than stall the bus
				}
			}
			b.mu.RUnlock()
		}
	}
}
