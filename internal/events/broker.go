// Package events fans planning events out to live subscribers, one channel
// per tenant.
package events

import (
	"context"
	"sync"
)

type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker is implemented by the in-memory Broker and by RedisBroker.
// Subscribe returns an error, and registers nothing, when the subscription
// could not be established.
type EventBroker interface {
	Subscribe(ctx context.Context, tenantID string) (chan Event, error)
	Unsubscribe(tenantID string, ch chan Event)
	Publish(tenantID string, evt Event)
}

// Broker is a process-local EventBroker. Slow subscribers miss events rather
// than block publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // tenantId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(_ context.Context, tenantID string) (chan Event, error) {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = map[chan Event]struct{}{}
	}
	b.subs[tenantID][ch] = struct{}{}
	b.mu.Unlock()
	return ch, nil
}

func (b *Broker) Unsubscribe(tenantID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[tenantID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, tenantID)
	}
	close(ch)
}

func (b *Broker) Publish(tenantID string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[tenantID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
