package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/outbox"
)

const defaultMaxAttempts = 10

// PaymentGateway moves real money. escrowID is the engagement or job id.
type PaymentGateway interface {
	InitiateHold(ctx context.Context, escrowID uuid.UUID, amount models.Money, payerID uuid.UUID) error
	Disburse(ctx context.Context, escrowID uuid.UUID, amount models.Money, payeeID uuid.UUID) error
	Refund(ctx context.Context, escrowID uuid.UUID, amount models.Money, payerID uuid.UUID) error
}

type BookingMaterializer interface {
	Materialize(ctx context.Context, req models.BookingRequest) (string, error)
}

// BookingRecorder stores the booking id acknowledged by the materializer.
type BookingRecorder interface {
	AttachBooking(ctx context.Context, engagementID uuid.UUID, bookingID string) error
}

// EffectDispatcher performs external side effects after the state transition
// that caused them has committed. A failed effect is queued and retried by the
// worker; committed state is never rolled back.
type EffectDispatcher struct {
	gateway     PaymentGateway
	booking     BookingMaterializer
	recorder    BookingRecorder
	queue       outbox.Queue
	publisher   events.Publisher
	maxAttempts int
	log         *zap.Logger
	now         func() time.Time
}

func NewEffectDispatcher(gateway PaymentGateway, booking BookingMaterializer, queue outbox.Queue, publisher events.Publisher, log *zap.Logger) *EffectDispatcher {
	return &EffectDispatcher{
		gateway:     gateway,
		booking:     booking,
		queue:       queue,
		publisher:   publisher,
		maxAttempts: defaultMaxAttempts,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (d *EffectDispatcher) SetBookingRecorder(r BookingRecorder) {
	d.recorder = r
}

func (d *EffectDispatcher) SetMaxAttempts(n int) {
	if n > 0 {
		d.maxAttempts = n
	}
}

// Dispatch tries e once and defers it to the retry queue on failure.
func (d *EffectDispatcher) Dispatch(ctx context.Context, e outbox.Effect) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = d.now()
	}
	err := d.run(ctx, e)
	if err == nil {
		return
	}
	e.Attempts = 1
	e.LastError = err.Error()
	d.log.Warn("side effect failed, deferring",
		zap.String("effect_id", e.ID.String()),
		zap.String("kind", string(e.Kind)),
		zap.String("escrow_id", e.EscrowID.String()),
		zap.Error(err),
	)
	d.deferEffect(ctx, e)
}

// Drain retries up to limit queued effects and returns how many succeeded.
// Effects that fail again are requeued once the pass is over.
func (d *EffectDispatcher) Drain(ctx context.Context, limit int) (int, error) {
	var retry []outbox.Effect
	defer func() {
		for _, e := range retry {
			if err := d.queue.Push(ctx, e); err != nil {
				d.log.Error("failed to requeue effect", zap.String("effect_id", e.ID.String()), zap.Error(err))
			}
		}
	}()

	done := 0
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		e, err := d.queue.Pop(ctx)
		if err != nil {
			return done, fmt.Errorf("pop effect: %w", err)
		}
		if e == nil {
			return done, nil
		}
		if err := d.run(ctx, *e); err != nil {
			e.Attempts++
			e.LastError = err.Error()
			if e.Attempts >= d.maxAttempts {
				d.log.Error("side effect exhausted retries",
					zap.String("effect_id", e.ID.String()),
					zap.String("kind", string(e.Kind)),
					zap.Int("attempts", e.Attempts),
					zap.Error(err),
				)
				if err := d.queue.Bury(ctx, *e); err != nil {
					d.log.Error("failed to bury effect", zap.Error(err))
				}
				continue
			}
			retry = append(retry, *e)
			continue
		}
		done++
	}
	return done, nil
}

func (d *EffectDispatcher) deferEffect(ctx context.Context, e outbox.Effect) {
	if err := d.queue.Push(ctx, e); err != nil {
		d.log.Error("failed to queue side effect",
			zap.String("effect_id", e.ID.String()),
			zap.String("kind", string(e.Kind)),
			zap.Error(err),
		)
		return
	}
	_ = d.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowEffectDeferred,
		Payload: map[string]any{
			"effect_id": e.ID.String(),
			"kind":      string(e.Kind),
			"escrow_id": e.EscrowID.String(),
			"error":     e.LastError,
		},
	})
}

func (d *EffectDispatcher) run(ctx context.Context, e outbox.Effect) error {
	switch e.Kind {
	case outbox.KindHold:
		if d.gateway == nil {
			return nil
		}
		return d.gateway.InitiateHold(ctx, e.EscrowID, e.Amount, e.PartyID)
	case outbox.KindDisburse:
		if d.gateway == nil {
			return nil
		}
		return d.gateway.Disburse(ctx, e.EscrowID, e.Amount, e.PartyID)
	case outbox.KindRefund:
		if d.gateway == nil {
			return nil
		}
		return d.gateway.Refund(ctx, e.EscrowID, e.Amount, e.PartyID)
	case outbox.KindBooking:
		if d.booking == nil || e.Booking == nil {
			return nil
		}
		bookingID, err := d.booking.Materialize(ctx, *e.Booking)
		if err != nil {
			return err
		}
		if bookingID == "" {
			return errors.New("booking service returned empty booking id")
		}
		if d.recorder != nil {
			return d.recorder.AttachBooking(ctx, e.Booking.EngagementID, bookingID)
		}
		return nil
	default:
		return fmt.Errorf("unknown effect kind %q", e.Kind)
	}
}
