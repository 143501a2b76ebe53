package services

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/models"
)

func TestLedgerHoldAndRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrowID, tenant, hunter := uuid.New(), uuid.New(), uuid.New()

	b, err := env.ledger.Hold(ctx, escrowID, 5000, tenant)
	mustNoErr(t, err)
	if !b.HasHold || b.Remaining != 5000 {
		t.Fatalf("balance after hold = %+v", b)
	}

	_, err = env.ledger.Hold(ctx, escrowID, 5000, tenant)
	wantErr(t, err, models.ErrDuplicateHold)

	tx, err := env.ledger.Release(ctx, escrowID, hunter)
	mustNoErr(t, err)
	if tx.Amount != 5000 || tx.CounterpartyID != hunter {
		t.Errorf("release tx = %+v", tx)
	}

	// Any second settlement fails, whatever its kind.
	_, err = env.ledger.Release(ctx, escrowID, hunter)
	wantErr(t, err, models.ErrAlreadySettled)
	_, err = env.ledger.Refund(ctx, escrowID, tenant)
	wantErr(t, err, models.ErrAlreadySettled)
	_, err = env.ledger.Split(ctx, escrowID, models.EscrowLeg{PayeeID: hunter}, models.EscrowLeg{PayeeID: tenant})
	wantErr(t, err, models.ErrAlreadySettled)

	b = env.balance(t, escrowID)
	if b.Disbursed != b.Held || b.Remaining != 0 || b.SettledBy != models.EscrowRelease {
		t.Errorf("final balance = %+v", b)
	}

	want := []gatewayCall{
		{op: "hold", escrowID: escrowID, amount: 5000, party: tenant},
		{op: "disburse", escrowID: escrowID, amount: 5000, party: hunter},
	}
	if got := env.gateway.ops(escrowID); !reflect.DeepEqual(got, want) {
		t.Errorf("gateway calls = %+v, want %+v", got, want)
	}
	if got := env.pub.Types(events.StreamEscrow); !reflect.DeepEqual(got, []string{events.EventEscrowHeld, events.EventEscrowReleased}) {
		t.Errorf("escrow events = %v", got)
	}
}

func TestLedgerRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrowID, tenant, hunter := uuid.New(), uuid.New(), uuid.New()

	_, err := env.ledger.Hold(ctx, escrowID, 0, tenant)
	wantErr(t, err, models.ErrValidation)

	_, err = env.ledger.Release(ctx, escrowID, hunter)
	wantErr(t, err, models.ErrNotEscrowed)

	_, err = env.ledger.Hold(ctx, escrowID, 1000, tenant)
	mustNoErr(t, err)

	tests := []struct {
		name           string
		hunter, tenant models.Money
		want           error
	}{
		{"short", 400, 500, models.ErrSplitMismatch},
		{"over", 600, 500, models.ErrSplitMismatch},
		{"negative leg", 1100, -100, models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ledger.Split(ctx, escrowID,
				models.EscrowLeg{PayeeID: hunter, Amount: tt.hunter},
				models.EscrowLeg{PayeeID: tenant, Amount: tt.tenant})
			wantErr(t, err, tt.want)
		})
	}

	if b := env.balance(t, escrowID); b.Settled || b.Remaining != 1000 {
		t.Errorf("failed splits changed the balance: %+v", b)
	}
}

func TestLedgerSplitDispatchesBothLegs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrowID, tenant, hunter := uuid.New(), uuid.New(), uuid.New()

	_, err := env.ledger.Hold(ctx, escrowID, 1001, tenant)
	mustNoErr(t, err)
	tx, err := env.ledger.Split(ctx, escrowID,
		models.EscrowLeg{PayeeID: hunter, Amount: 600},
		models.EscrowLeg{PayeeID: tenant, Amount: 401})
	mustNoErr(t, err)
	if tx.Amount != 1001 || len(tx.Legs) != 2 {
		t.Errorf("split tx = %+v", tx)
	}

	calls := env.gateway.ops(escrowID)
	if len(calls) != 3 || calls[1].op != "disburse" || calls[1].amount != 600 || calls[2].op != "refund" || calls[2].amount != 401 {
		t.Errorf("gateway calls = %+v", calls)
	}
}

func TestLedgerSplitZeroLegDispatchesNothingForIt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrowID, tenant, hunter := uuid.New(), uuid.New(), uuid.New()

	_, err := env.ledger.Hold(ctx, escrowID, 1000, tenant)
	mustNoErr(t, err)
	_, err = env.ledger.Split(ctx, escrowID,
		models.EscrowLeg{PayeeID: hunter, Amount: 0},
		models.EscrowLeg{PayeeID: tenant, Amount: 1000})
	mustNoErr(t, err)

	calls := env.gateway.ops(escrowID)
	if len(calls) != 2 || calls[1].op != "refund" {
		t.Errorf("gateway calls = %+v", calls)
	}
}

func TestLedgerConcurrentSettlementSucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	escrowID, tenant, hunter := uuid.New(), uuid.New(), uuid.New()
	_, err := env.ledger.Hold(ctx, escrowID, 5000, tenant)
	mustNoErr(t, err)

	var ok, settled atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			var err error
			if i%2 == 0 {
				_, err = env.ledger.Release(ctx, escrowID, hunter)
			} else {
				_, err = env.ledger.Refund(ctx, escrowID, tenant)
			}
			switch {
			case err == nil:
				ok.Add(1)
			case isAlreadySettled(err):
				settled.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	mustNoErr(t, g.Wait())

	if ok.Load() != 1 || settled.Load() != 15 {
		t.Errorf("successes = %d, already settled = %d", ok.Load(), settled.Load())
	}
	if b := env.balance(t, escrowID); b.Disbursed != 5000 || b.Remaining != 0 {
		t.Errorf("balance = %+v", b)
	}
}

func isAlreadySettled(err error) bool {
	return models.ErrorCode(err) == "already_settled"
}
