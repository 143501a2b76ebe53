package outbox

import (
	"context"
	"sync"
)

type MemoryQueue struct {
	mu      sync.Mutex
	pending []Effect
	dead    []Effect
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, e Effect) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, e)
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (*Effect, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	e := q.pending[0]
	q.pending = q.pending[1:]
	return &e, nil
}

func (q *MemoryQueue) Bury(_ context.Context, e Effect) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, e)
	return nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) Dead() []Effect {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Effect(nil), q.dead...)
}
