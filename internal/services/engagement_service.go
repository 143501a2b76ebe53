package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/lock"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/outbox"
	"github.com/rental-marketplace/backend/internal/repositories"
)

// EngagementService runs the turn-based negotiation of a single viewing.
// Whose turn it is comes only from Engagement.CheckTurn.
type EngagementService struct {
	store   EngagementStore
	ledger  *LedgerService
	effects *EffectDispatcher
	locker  lock.Locker
	rec     recorder
	log     *zap.Logger
	now     func() time.Time
}

func NewEngagementService(
	store EngagementStore,
	ledger *LedgerService,
	effects *EffectDispatcher,
	locker lock.Locker,
	audit AuditStore,
	publisher events.Publisher,
	log *zap.Logger,
) *EngagementService {
	s := &EngagementService{
		store:   store,
		ledger:  ledger,
		effects: effects,
		locker:  locker,
		rec:     recorder{audit: audit, publisher: publisher, log: log},
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
	effects.SetBookingRecorder(s)
	return s
}

type CreateEngagementInput struct {
	PropertyID uuid.UUID
	TenantID   uuid.UUID
	HunterID   uuid.UUID
	Slots      []models.Slot
	Amount     models.Money
}

// Create opens a PENDING engagement and holds the tenant's payment in escrow.
func (s *EngagementService) Create(ctx context.Context, in CreateEngagementInput) (*models.Engagement, error) {
	if err := validateSlots(in.Slots); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	if in.PropertyID == uuid.Nil || in.HunterID == uuid.Nil {
		return nil, fmt.Errorf("%w: property and hunter are required", models.ErrValidation)
	}
	if in.TenantID == in.HunterID {
		return nil, fmt.Errorf("%w: tenant and hunter must differ", models.ErrValidation)
	}

	now := s.now()
	e := &models.Engagement{
		ID:            uuid.New(),
		PropertyID:    in.PropertyID,
		TenantID:      in.TenantID,
		HunterID:      in.HunterID,
		Status:        models.EngagementPending,
		ProposedSlots: append([]models.Slot(nil), in.Slots...),
		PaymentState:  models.PaymentEscrow,
		Amount:        in.Amount,
		LastActorID:   in.TenantID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	hold, err := s.ledger.prepareHold(ctx, e.ID, e.Amount, e.TenantID)
	if err != nil {
		return nil, err
	}
	err = s.ledger.persist(ctx, hold, func(ctx context.Context) error { return s.store.Create(ctx, e) })
	hold.release()
	if err != nil {
		return nil, err
	}
	s.ledger.complete(ctx, hold)

	s.rec.record(ctx, transition{
		actorID:    e.TenantID,
		actorType:  models.ActorTypeUser,
		action:     "engagement_proposed",
		entityType: "engagement",
		entityID:   e.ID,
		stream:     events.StreamEngagement,
		eventType:  events.EventEngagementProposed,
		meta:       map[string]any{"slots": len(e.ProposedSlots), "amount": int64(e.Amount)},
		notify:     []uuid.UUID{e.HunterID},
	})
	return e, nil
}

// Propose replaces the tenant's slots while nobody has countered yet.
func (s *EngagementService) Propose(ctx context.Context, id, actorID uuid.UUID, slots []models.Slot) (*models.Engagement, error) {
	if err := validateSlots(slots); err != nil {
		return nil, err
	}
	e, err := s.mutate(ctx, id, func(e *models.Engagement) error {
		if actorID != e.TenantID {
			return fmt.Errorf("%w: only the tenant proposes slots", models.ErrForbidden)
		}
		if e.Status != models.EngagementPending || e.Counter != nil {
			return fmt.Errorf("%w: slots can only be proposed before any counter", models.ErrInvalidState)
		}
		e.ProposedSlots = append([]models.Slot(nil), slots...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordMove(ctx, e, actorID, "engagement_proposed", events.EventEngagementProposed, nil)
	return e, nil
}

// Counter puts new terms on the table. Only the party who did not act last
// may counter.
func (s *EngagementService) Counter(ctx context.Context, id, actorID uuid.UUID, p models.Proposal) (*models.Engagement, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e, err := s.mutate(ctx, id, func(e *models.Engagement) error {
		if err := e.CheckTurn(actorID); err != nil {
			return err
		}
		if !models.IsValidEngagementTransition(e.Status, models.EngagementCountered) {
			return fmt.Errorf("%w: cannot counter a %s engagement", models.ErrInvalidState, e.Status)
		}
		e.Status = models.EngagementCountered
		e.Counter = s.counterFrom(p, actorID)
		e.LastActorID = actorID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordMove(ctx, e, actorID, "engagement_countered", events.EventEngagementCountered, map[string]any{
		"date": p.Date, "time_slot": p.TimeSlot,
	})
	return e, nil
}

// Edit revises the caller's own proposal before the other party has
// responded. The turn does not pass.
func (s *EngagementService) Edit(ctx context.Context, id, actorID uuid.UUID, p models.Proposal) (*models.Engagement, error) {
	e, err := s.mutate(ctx, id, func(e *models.Engagement) error {
		if !e.IsParty(actorID) {
			return fmt.Errorf("%w: actor is not a party to this engagement", models.ErrForbidden)
		}
		if e.IsTerminal() {
			return fmt.Errorf("%w: engagement is %s", models.ErrInvalidState, e.Status)
		}
		if actorID != e.LastActorID {
			return fmt.Errorf("%w: only the author of the active proposal can edit it", models.ErrNotYourTurn)
		}
		if e.Counter == nil {
			// The tenant's original proposal: a new single slot at the property.
			if err := (models.Slot{Date: p.Date, TimeSlot: p.TimeSlot}).Validate(); err != nil {
				return err
			}
			e.ProposedSlots = []models.Slot{{Date: p.Date, TimeSlot: p.TimeSlot}}
			return nil
		}
		if err := p.Validate(); err != nil {
			return err
		}
		e.Counter = s.counterFrom(p, actorID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recordMove(ctx, e, actorID, "engagement_edited", events.EventEngagementEdited, map[string]any{
		"date": p.Date, "time_slot": p.TimeSlot,
	})
	return e, nil
}

// Accept agrees to the active terms, pays the hunter and books the viewing.
func (s *EngagementService) Accept(ctx context.Context, id, actorID uuid.UUID) (*models.Engagement, error) {
	e, settled, err := s.settle(ctx, id, func(e *models.Engagement) (*pendingLedger, error) {
		if err := e.CheckTurn(actorID); err != nil {
			return nil, err
		}
		if e.PaymentState != models.PaymentEscrow {
			return nil, fmt.Errorf("engagement payment is %s: %w", e.PaymentState, models.ErrNotEscrowed)
		}
		p, err := s.ledger.prepareSettlement(ctx, e.ID, models.EscrowRelease, e.HunterID, nil)
		if err != nil {
			return nil, err
		}
		e.Status = models.EngagementAccepted
		e.PaymentState = models.PaymentReleased
		e.LastActorID = actorID
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	s.ledger.complete(ctx, settled)

	slot, loc := e.ActiveSchedule()
	s.effects.Dispatch(ctx, outbox.Effect{
		Kind:     outbox.KindBooking,
		EscrowID: e.ID,
		Booking: &models.BookingRequest{
			EngagementID:  e.ID,
			PropertyID:    e.PropertyID,
			TenantID:      e.TenantID,
			HunterID:      e.HunterID,
			ScheduledDate: slot.Date,
			ScheduledTime: slot.TimeSlot,
			Location:      loc,
		},
	})

	s.recordMove(ctx, e, actorID, "engagement_accepted", events.EventEngagementAccepted, map[string]any{
		"scheduled_date": slot.Date, "scheduled_time": slot.TimeSlot,
	})
	return e, nil
}

// Reject closes the engagement and refunds the tenant. Either party may reject
// at any non-terminal point, whoever acted last.
func (s *EngagementService) Reject(ctx context.Context, id, actorID uuid.UUID, reason string) (*models.Engagement, error) {
	reason = strings.TrimSpace(reason)
	e, settled, err := s.settle(ctx, id, func(e *models.Engagement) (*pendingLedger, error) {
		if !e.IsParty(actorID) {
			return nil, fmt.Errorf("%w: actor is not a party to this engagement", models.ErrForbidden)
		}
		if !models.IsValidEngagementTransition(e.Status, models.EngagementRejected) {
			return nil, fmt.Errorf("%w: engagement is %s", models.ErrInvalidState, e.Status)
		}
		p, err := s.ledger.prepareSettlement(ctx, e.ID, models.EscrowRefund, e.TenantID, nil)
		if err != nil {
			return nil, err
		}
		e.Status = models.EngagementRejected
		e.PaymentState = models.PaymentRefunded
		if reason != "" {
			e.RejectReason = &reason
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	s.ledger.complete(ctx, settled)
	s.recordMove(ctx, e, actorID, "engagement_rejected", events.EventEngagementRejected, map[string]any{"reason": reason})
	return e, nil
}

func (s *EngagementService) Get(ctx context.Context, id uuid.UUID) (*models.Engagement, error) {
	return s.store.GetByID(ctx, id)
}

func (s *EngagementService) List(ctx context.Context, f repositories.EngagementFilter) ([]models.Engagement, error) {
	return s.store.List(ctx, f)
}

// AttachBooking stores the id acknowledged by the booking materializer.
func (s *EngagementService) AttachBooking(ctx context.Context, engagementID uuid.UUID, bookingID string) error {
	e, err := s.mutate(ctx, engagementID, func(e *models.Engagement) error {
		e.BookingID = &bookingID
		return nil
	})
	if err != nil {
		return err
	}
	s.rec.record(ctx, transition{
		actorType:  models.ActorTypeSystem,
		action:     "engagement_booked",
		entityType: "engagement",
		entityID:   e.ID,
		stream:     events.StreamEngagement,
		eventType:  events.EventEngagementBooked,
		meta:       map[string]any{"booking_id": bookingID},
		notify:     []uuid.UUID{e.TenantID, e.HunterID},
	})
	return nil
}

func (s *EngagementService) mutate(ctx context.Context, id uuid.UUID, fn func(e *models.Engagement) error) (*models.Engagement, error) {
	e, _, err := s.settle(ctx, id, func(e *models.Engagement) (*pendingLedger, error) {
		return nil, fn(e)
	})
	return e, err
}

// settle saves the engagement and the ledger entry fn prepares in one
// transaction. The caller completes the returned entry.
func (s *EngagementService) settle(ctx context.Context, id uuid.UUID, fn func(e *models.Engagement) (*pendingLedger, error)) (*models.Engagement, *pendingLedger, error) {
	unlock, err := s.locker.Lock(ctx, lock.EngagementKey(id))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	p, err := fn(e)
	defer p.release()
	if err != nil {
		return nil, nil, err
	}
	e.UpdatedAt = s.now()
	if err := s.ledger.persist(ctx, p, func(ctx context.Context) error { return s.store.Update(ctx, e) }); err != nil {
		return nil, nil, err
	}
	return e, p, nil
}

func (s *EngagementService) counterFrom(p models.Proposal, actorID uuid.UUID) *models.CounterProposal {
	return &models.CounterProposal{
		Date:       p.Date,
		TimeSlot:   p.TimeSlot,
		Location:   p.Location,
		ProposedBy: actorID,
		Reason:     strings.TrimSpace(p.Reason),
		ProposedAt: s.now(),
	}
}

func (s *EngagementService) recordMove(ctx context.Context, e *models.Engagement, actorID uuid.UUID, action, eventType string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["status"] = string(e.Status)
	other := e.HunterID
	if actorID == e.HunterID {
		other = e.TenantID
	}
	s.rec.record(ctx, transition{
		actorID:    actorID,
		actorType:  models.ActorTypeUser,
		action:     action,
		entityType: "engagement",
		entityID:   e.ID,
		stream:     events.StreamEngagement,
		eventType:  eventType,
		meta:       meta,
		notify:     []uuid.UUID{other},
	})
}

func validateSlots(slots []models.Slot) error {
	if len(slots) == 0 {
		return fmt.Errorf("%w: at least one slot is required", models.ErrValidation)
	}
	for _, slot := range slots {
		if err := slot.Validate(); err != nil {
			return err
		}
	}
	return nil
}
