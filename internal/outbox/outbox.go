// Package outbox queues external side effects (gateway disbursements, booking
// materialization) that failed after their state transition committed, so a
// worker can retry them at least once.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rental-marketplace/backend/internal/models"
)

type Kind string

const (
	KindHold     Kind = "hold"
	KindDisburse Kind = "disburse"
	KindRefund   Kind = "refund"
	KindBooking  Kind = "booking"
)

type Effect struct {
	ID        uuid.UUID              `json:"id"`
	Kind      Kind                   `json:"kind"`
	EscrowID  uuid.UUID              `json:"escrow_id"`
	PartyID   uuid.UUID              `json:"party_id"`
	Amount    models.Money           `json:"amount"`
	Booking   *models.BookingRequest `json:"booking,omitempty"`
	Attempts  int                    `json:"attempts"`
	LastError string                 `json:"last_error,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Queue holds effects awaiting retry. Pop returns (nil, nil) when empty.
type Queue interface {
	Push(ctx context.Context, e Effect) error
	Pop(ctx context.Context) (*Effect, error)
	Bury(ctx context.Context, e Effect) error
}
