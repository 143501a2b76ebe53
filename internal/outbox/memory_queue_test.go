package outbox

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	first := Effect{ID: uuid.New(), Kind: KindDisburse}
	second := Effect{ID: uuid.New(), Kind: KindBooking}
	_ = q.Push(ctx, first)
	_ = q.Push(ctx, second)

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	got, err := q.Pop(ctx)
	if err != nil || got == nil || got.ID != first.ID {
		t.Fatalf("Pop() = %+v, %v, want first effect", got, err)
	}
	got, _ = q.Pop(ctx)
	if got == nil || got.ID != second.ID {
		t.Fatalf("Pop() = %+v, want second effect", got)
	}
	got, err = q.Pop(ctx)
	if got != nil || err != nil {
		t.Fatalf("Pop() on empty queue = %+v, %v, want nil, nil", got, err)
	}

	_ = q.Bury(ctx, first)
	if dead := q.Dead(); len(dead) != 1 || dead[0].ID != first.ID {
		t.Errorf("Dead() = %+v", dead)
	}
}
