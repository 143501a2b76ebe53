package events

import (
	"context"
	"sync"
)

const memoryRetention = 1000

// MemoryPublisher keeps the most recent published events in memory and hands them to
// in-process subscribers. Used by tests and when the api runs without Redis.
type MemoryPublisher struct {
	mu       sync.Mutex
	events   map[string][]Event
	handlers map[string][]func(Event)
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		events:   make(map[string][]Event),
		handlers: make(map[string][]func(Event)),
	}
}

func (p *MemoryPublisher) Publish(_ context.Context, stream string, event Event) error {
	p.mu.Lock()
	kept := append(p.events[stream], event)
	if len(kept) > memoryRetention {
		kept = kept[len(kept)-memoryRetention:]
	}
	p.events[stream] = kept
	handlers := append(([]func(Event))(nil), p.handlers[stream]...)
	p.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (p *MemoryPublisher) Subscribe(_ context.Context, stream string, handler func(Event)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[stream] = append(p.handlers[stream], handler)
	return nil
}

func (p *MemoryPublisher) Events(stream string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events[stream]...)
}

// Types returns the event types published on stream, in order.
func (p *MemoryPublisher) Types(stream string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events[stream]))
	for _, e := range p.events[stream] {
		out = append(out, e.Type)
	}
	return out
}
