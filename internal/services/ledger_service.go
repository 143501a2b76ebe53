package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/lock"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/outbox"
)

// LedgerService is the escrow ledger. Every escrow holds exactly one deposit
// and is settled exactly once; the settling call moves the whole remaining
// balance.
type LedgerService struct {
	store     EscrowStore
	tx        TxRunner
	locker    lock.Locker
	effects   *EffectDispatcher
	publisher events.Publisher
	log       *zap.Logger
	now       func() time.Time
}

func NewLedgerService(store EscrowStore, tx TxRunner, locker lock.Locker, effects *EffectDispatcher, publisher events.Publisher, log *zap.Logger) *LedgerService {
	return &LedgerService{
		store:     store,
		tx:        tx,
		locker:    locker,
		effects:   effects,
		publisher: publisher,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// pendingLedger is a validated ledger entry that has not been written yet.
// It holds the escrow lock from prepare until release; persist writes it
// together with the owning entity and complete dispatches its effects.
type pendingLedger struct {
	tx      *models.EscrowTransaction
	event   string
	parties []uuid.UUID
	effects []outbox.Effect
	unlock  func()
}

func (p *pendingLedger) release() {
	if p != nil && p.unlock != nil {
		p.unlock()
		p.unlock = nil
	}
}

func (s *LedgerService) Hold(ctx context.Context, escrowID uuid.UUID, amount models.Money, payerID uuid.UUID) (models.EscrowBalance, error) {
	p, err := s.prepareHold(ctx, escrowID, amount, payerID)
	if err != nil {
		return models.EscrowBalance{}, err
	}
	err = s.persist(ctx, p, nil)
	p.release()
	if err != nil {
		return models.EscrowBalance{}, err
	}
	s.complete(ctx, p)
	return models.SummarizeEscrow(escrowID, []models.EscrowTransaction{*p.tx}), nil
}

// Release pays the whole remaining balance to toID.
func (s *LedgerService) Release(ctx context.Context, escrowID, toID uuid.UUID) (*models.EscrowTransaction, error) {
	return s.settleNow(ctx, escrowID, models.EscrowRelease, toID, nil)
}

// Refund returns the whole remaining balance to toID.
func (s *LedgerService) Refund(ctx context.Context, escrowID, toID uuid.UUID) (*models.EscrowTransaction, error) {
	return s.settleNow(ctx, escrowID, models.EscrowRefund, toID, nil)
}

// Split disburses the balance in two legs whose sum must equal it exactly.
func (s *LedgerService) Split(ctx context.Context, escrowID uuid.UUID, hunter, tenant models.EscrowLeg) (*models.EscrowTransaction, error) {
	return s.settleNow(ctx, escrowID, models.EscrowSplit, uuid.Nil, []models.EscrowLeg{hunter, tenant})
}

func (s *LedgerService) Balance(ctx context.Context, escrowID uuid.UUID) (models.EscrowBalance, error) {
	txs, err := s.store.ListByEscrow(ctx, escrowID)
	if err != nil {
		return models.EscrowBalance{}, err
	}
	return models.SummarizeEscrow(escrowID, txs), nil
}

func (s *LedgerService) Transactions(ctx context.Context, escrowID uuid.UUID) ([]models.EscrowTransaction, error) {
	return s.store.ListByEscrow(ctx, escrowID)
}

func (s *LedgerService) settleNow(ctx context.Context, escrowID uuid.UUID, kind models.EscrowTxKind, toID uuid.UUID, legs []models.EscrowLeg) (*models.EscrowTransaction, error) {
	p, err := s.prepareSettlement(ctx, escrowID, kind, toID, legs)
	if err != nil {
		return nil, err
	}
	err = s.persist(ctx, p, nil)
	p.release()
	if err != nil {
		return nil, err
	}
	s.complete(ctx, p)
	return p.tx, nil
}

// persist appends p and runs write in one transaction, so the entry exists
// exactly when the owning entity's change does. A nil p just runs write.
func (s *LedgerService) persist(ctx context.Context, p *pendingLedger, write func(ctx context.Context) error) error {
	if p == nil {
		if write == nil {
			return nil
		}
		return write(ctx)
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if write != nil {
			if err := write(ctx); err != nil {
				return err
			}
		}
		return s.store.Append(ctx, p.tx)
	})
}

func (s *LedgerService) prepareHold(ctx context.Context, escrowID uuid.UUID, amount models.Money, payerID uuid.UUID) (*pendingLedger, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: hold amount must be positive", models.ErrValidation)
	}

	unlock, err := s.locker.Lock(ctx, lock.EscrowKey(escrowID))
	if err != nil {
		return nil, err
	}

	balance, err := s.Balance(ctx, escrowID)
	if err != nil {
		unlock()
		return nil, err
	}
	if balance.HasHold {
		unlock()
		return nil, fmt.Errorf("escrow %s: %w", escrowID, models.ErrDuplicateHold)
	}
	tx := &models.EscrowTransaction{
		ID:             uuid.New(),
		EscrowID:       escrowID,
		Kind:           models.EscrowHold,
		Amount:         amount,
		CounterpartyID: payerID,
		CreatedAt:      s.now(),
	}
	return &pendingLedger{
		tx:      tx,
		event:   events.EventEscrowHeld,
		parties: []uuid.UUID{payerID},
		effects: []outbox.Effect{{Kind: outbox.KindHold, EscrowID: escrowID, PartyID: payerID, Amount: amount}},
		unlock:  unlock,
	}, nil
}

func (s *LedgerService) prepareSettlement(ctx context.Context, escrowID uuid.UUID, kind models.EscrowTxKind, toID uuid.UUID, legs []models.EscrowLeg) (*pendingLedger, error) {
	for _, leg := range legs {
		if leg.Amount < 0 {
			return nil, fmt.Errorf("%w: split legs must not be negative", models.ErrValidation)
		}
	}

	unlock, err := s.locker.Lock(ctx, lock.EscrowKey(escrowID))
	if err != nil {
		return nil, err
	}
	p, err := s.planSettlement(ctx, escrowID, kind, toID, legs)
	if err != nil {
		unlock()
		return nil, err
	}
	p.unlock = unlock
	return p, nil
}

func (s *LedgerService) planSettlement(ctx context.Context, escrowID uuid.UUID, kind models.EscrowTxKind, toID uuid.UUID, legs []models.EscrowLeg) (*pendingLedger, error) {
	balance, err := s.Balance(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !balance.HasHold {
		return nil, fmt.Errorf("escrow %s has no hold: %w", escrowID, models.ErrNotEscrowed)
	}
	if balance.Settled {
		return nil, fmt.Errorf("escrow %s settled by %s: %w", escrowID, balance.SettledBy, models.ErrAlreadySettled)
	}

	amount := balance.Remaining
	if kind == models.EscrowSplit {
		var sum models.Money
		for _, leg := range legs {
			sum += leg.Amount
		}
		if sum != balance.Remaining {
			return nil, fmt.Errorf("%w: legs sum to %s, balance is %s", models.ErrSplitMismatch, sum, balance.Remaining)
		}
	}

	tx := &models.EscrowTransaction{
		ID:             uuid.New(),
		EscrowID:       escrowID,
		Kind:           kind,
		Amount:         amount,
		CounterpartyID: toID,
		Legs:           legs,
		CreatedAt:      s.now(),
	}

	p := &pendingLedger{tx: tx}
	switch kind {
	case models.EscrowRelease:
		p.event = events.EventEscrowReleased
		p.parties = []uuid.UUID{toID}
		p.effects = []outbox.Effect{{Kind: outbox.KindDisburse, EscrowID: escrowID, PartyID: toID, Amount: amount}}
	case models.EscrowRefund:
		p.event = events.EventEscrowRefunded
		p.parties = []uuid.UUID{toID}
		p.effects = []outbox.Effect{{Kind: outbox.KindRefund, EscrowID: escrowID, PartyID: toID, Amount: amount}}
	case models.EscrowSplit:
		// legs[0] is the hunter's share, legs[1] the tenant's.
		p.event = events.EventEscrowSplit
		p.parties = []uuid.UUID{legs[0].PayeeID, legs[1].PayeeID}
		if legs[0].Amount > 0 {
			p.effects = append(p.effects, outbox.Effect{Kind: outbox.KindDisburse, EscrowID: escrowID, PartyID: legs[0].PayeeID, Amount: legs[0].Amount})
		}
		if legs[1].Amount > 0 {
			p.effects = append(p.effects, outbox.Effect{Kind: outbox.KindRefund, EscrowID: escrowID, PartyID: legs[1].PayeeID, Amount: legs[1].Amount})
		}
	}

	return p, nil
}

// complete dispatches the external effects of a persisted p and announces it.
func (s *LedgerService) complete(ctx context.Context, p *pendingLedger) {
	if p == nil {
		return
	}
	if p.tx.IsDisbursement() {
		s.log.Info("escrow settled",
			zap.String("escrow_id", p.tx.EscrowID.String()),
			zap.String("kind", string(p.tx.Kind)),
			zap.Int64("amount", int64(p.tx.Amount)),
		)
	}
	for _, e := range p.effects {
		s.effects.Dispatch(ctx, e)
	}
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: p.event,
		Payload: map[string]any{
			"escrow_id":      p.tx.EscrowID.String(),
			"transaction_id": p.tx.ID.String(),
			"kind":           string(p.tx.Kind),
			"amount":         int64(p.tx.Amount),
			"recipients":     recipients(p.parties...),
		},
	})
}
