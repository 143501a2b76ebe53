package services

import (
	"context"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/models"
)

var testRequirements = models.Requirements{
	Areas:        []string{"Kilimani", "Lavington"},
	BudgetMin:    40000,
	BudgetMax:    60000,
	PropertyType: "2br apartment",
}

// openJob returns a paid job accepting bids.
func (env *testEnv) openJob(t *testing.T, tenant uuid.UUID, tier models.ServiceTier) *models.SearchJob {
	t.Helper()
	ctx := context.Background()
	j, err := env.jobs.Submit(ctx, tenant, testRequirements, tier)
	mustNoErr(t, err)
	_, err = env.jobs.RequestPayment(ctx, j.ID, tenant)
	mustNoErr(t, err)
	j, err = env.jobs.PayDeposit(ctx, j.ID, tenant)
	mustNoErr(t, err)
	return j
}

// claimedJob returns a job claimed by hunter.
func (env *testEnv) claimedJob(t *testing.T, tenant, hunter uuid.UUID) *models.SearchJob {
	t.Helper()
	ctx := context.Background()
	j := env.openJob(t, tenant, models.TierPremium)
	_, bid, err := env.jobs.SubmitBid(ctx, j.ID, hunter, BidInput{Price: 3000, PromisedDeliveryHours: 48})
	mustNoErr(t, err)
	j, err = env.jobs.AcceptBid(ctx, j.ID, tenant, bid.ID)
	mustNoErr(t, err)
	return j
}

func evidence(n int) []EvidenceInput {
	out := make([]EvidenceInput, n)
	for i := range out {
		out[i] = EvidenceInput{Photos: []string{"front.jpg"}, Description: "option", MatchScore: 80}
	}
	return out
}

func TestSearchJobPaymentOpensBidding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := uuid.New()

	j, err := env.jobs.Submit(ctx, tenant, testRequirements, models.TierPremium)
	mustNoErr(t, err)
	if j.Status != models.JobDraft || j.DepositAmount != 10000 || j.NumberOfOptions != 3 {
		t.Fatalf("submitted job = %+v", j)
	}

	_, _, err = env.jobs.SubmitBid(ctx, j.ID, uuid.New(), BidInput{Price: 1, PromisedDeliveryHours: 1})
	wantErr(t, err, models.ErrInvalidState)

	_, err = env.jobs.PayDeposit(ctx, j.ID, uuid.New())
	wantErr(t, err, models.ErrForbidden)

	j, err = env.jobs.RequestPayment(ctx, j.ID, tenant)
	mustNoErr(t, err)
	if j.Status != models.JobPendingPayment {
		t.Fatalf("status = %s", j.Status)
	}
	j, err = env.jobs.PayDeposit(ctx, j.ID, tenant)
	mustNoErr(t, err)
	if j.Status != models.JobPendingBids || !j.DepositPaid || j.DepositPaidAt == nil {
		t.Fatalf("paid job = %+v", j)
	}
	if b := env.balance(t, j.ID); b.Held != 10000 {
		t.Errorf("held = %s", b.Held)
	}

	_, err = env.jobs.PayDeposit(ctx, j.ID, tenant)
	wantErr(t, err, models.ErrInvalidState)
}

func TestSearchJobSubmitValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.jobs.Submit(ctx, uuid.New(), testRequirements, "GOLD")
	wantErr(t, err, models.ErrValidation)

	noArea := testRequirements
	noArea.Areas = nil
	_, err = env.jobs.Submit(ctx, uuid.New(), noArea, models.TierStandard)
	wantErr(t, err, models.ErrValidation)

	inverted := testRequirements
	inverted.BudgetMin, inverted.BudgetMax = 9, 1
	_, err = env.jobs.Submit(ctx, uuid.New(), inverted, models.TierStandard)
	wantErr(t, err, models.ErrValidation)
}

func TestSearchJobAcceptBidClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, first, second := uuid.New(), uuid.New(), uuid.New()
	j := env.openJob(t, tenant, models.TierPremium)

	_, bid1, err := env.jobs.SubmitBid(ctx, j.ID, first, BidInput{Price: 3000, PromisedDeliveryHours: 48})
	mustNoErr(t, err)
	_, bid2, err := env.jobs.SubmitBid(ctx, j.ID, second, BidInput{Price: 2500, PromisedDeliveryHours: 72, BonusOffer: "free move-in check"})
	mustNoErr(t, err)

	_, _, err = env.jobs.SubmitBid(ctx, j.ID, first, BidInput{Price: 2000, PromisedDeliveryHours: 24})
	wantErr(t, err, models.ErrDuplicateBid)
	_, _, err = env.jobs.SubmitBid(ctx, j.ID, tenant, BidInput{Price: 2000, PromisedDeliveryHours: 24})
	wantErr(t, err, models.ErrForbidden)

	claimedAt := env.clock.Now()
	j, err = env.jobs.AcceptBid(ctx, j.ID, tenant, bid2.ID)
	mustNoErr(t, err)

	if j.Status != models.JobInProgress || !j.IsClaimedBy(second) {
		t.Fatalf("claimed job = %+v", j)
	}
	if j.FindBid(bid1.ID).Status != models.BidRejected || j.FindBid(bid2.ID).Status != models.BidAccepted {
		t.Errorf("bids = %+v", j.Bids)
	}
	if want := claimedAt.Add(5 * 24 * time.Hour); !j.Deadline.Equal(want) {
		t.Errorf("deadline = %s, want %s", j.Deadline, want)
	}

	_, err = env.jobs.AcceptBid(ctx, j.ID, tenant, bid1.ID)
	wantErr(t, err, models.ErrAlreadyClaimed)

	claimed := env.pub.Events(events.StreamSearchJob)
	last := claimed[len(claimed)-1]
	if last.Type != events.EventJobClaimed {
		t.Fatalf("last event = %s", last.Type)
	}
	if got := events.Recipients(last); !reflect.DeepEqual(got, []string{second.String(), first.String()}) {
		t.Errorf("claim recipients = %v", got)
	}
}

func TestSearchJobConcurrentAcceptBidClaimsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant := uuid.New()
	j := env.openJob(t, tenant, models.TierStandard)

	const n = 8
	bids := make([]uuid.UUID, n)
	for i := range bids {
		_, bid, err := env.jobs.SubmitBid(ctx, j.ID, uuid.New(), BidInput{Price: models.Money(1000 + i), PromisedDeliveryHours: 24})
		mustNoErr(t, err)
		bids[i] = bid.ID
	}

	var wins atomic.Int32
	var g errgroup.Group
	for _, bidID := range bids {
		g.Go(func() error {
			if _, err := env.jobs.AcceptBid(ctx, j.ID, tenant, bidID); err == nil {
				wins.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if wins.Load() != 1 {
		t.Fatalf("%d AcceptBid calls succeeded, want 1", wins.Load())
	}
	j, err := env.jobs.Get(ctx, j.ID)
	mustNoErr(t, err)
	var accepted, rejected int
	for _, b := range j.Bids {
		switch b.Status {
		case models.BidAccepted:
			accepted++
		case models.BidRejected:
			rejected++
		}
	}
	if accepted != 1 || rejected != n-1 {
		t.Errorf("accepted = %d, rejected = %d", accepted, rejected)
	}
}

func TestSearchJobWithdrawBid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.openJob(t, tenant, models.TierStandard)

	_, bid, err := env.jobs.SubmitBid(ctx, j.ID, hunter, BidInput{Price: 1500, PromisedDeliveryHours: 24})
	mustNoErr(t, err)
	j, err = env.jobs.WithdrawBid(ctx, j.ID, hunter)
	mustNoErr(t, err)
	if j.FindBid(bid.ID).Status != models.BidRejected {
		t.Errorf("withdrawn bid = %+v", j.FindBid(bid.ID))
	}

	_, err = env.jobs.WithdrawBid(ctx, j.ID, hunter)
	wantErr(t, err, models.ErrBidNotFound)
	_, err = env.jobs.AcceptBid(ctx, j.ID, tenant, bid.ID)
	wantErr(t, err, models.ErrBidNotFound)
}

func TestSearchJobEvidenceCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.claimedJob(t, tenant, hunter)

	_, err := env.jobs.SubmitEvidence(ctx, j.ID, uuid.New(), evidence(1))
	wantErr(t, err, models.ErrForbidden)

	// An overflowing batch is refused whole.
	_, err = env.jobs.SubmitEvidence(ctx, j.ID, hunter, evidence(4))
	wantErr(t, err, models.ErrEvidenceCap)

	for i := 1; i <= 3; i++ {
		j, err = env.jobs.SubmitEvidence(ctx, j.ID, hunter, evidence(1))
		mustNoErr(t, err)
		want := models.JobInProgress
		if i == 3 {
			want = models.JobPendingReview
		}
		if j.Status != want || len(j.UploadedEvidence) != i {
			t.Fatalf("after %d submissions: status %s, evidence %d", i, j.Status, len(j.UploadedEvidence))
		}
	}

	_, err = env.jobs.SubmitEvidence(ctx, j.ID, hunter, evidence(1))
	if err == nil {
		t.Fatal("fourth submission succeeded")
	}
	j, _ = env.jobs.Get(ctx, j.ID)
	if len(j.UploadedEvidence) != 3 {
		t.Errorf("evidence = %d, want 3", len(j.UploadedEvidence))
	}
}

func TestSearchJobEvidenceValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.claimedJob(t, tenant, hunter)

	tests := []struct {
		name  string
		items []EvidenceInput
	}{
		{"empty batch", nil},
		{"no content", []EvidenceInput{{MatchScore: 50}}},
		{"score over 100", []EvidenceInput{{Description: "x", MatchScore: 101}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.jobs.SubmitEvidence(ctx, j.ID, hunter, tt.items)
			wantErr(t, err, models.ErrValidation)
		})
	}

	env.clock.Advance(6 * 24 * time.Hour)
	_, err := env.jobs.SubmitEvidence(ctx, j.ID, hunter, evidence(1))
	wantErr(t, err, models.ErrDeadlinePassed)
}

func TestSearchJobConfirmPaysHunter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.claimedJob(t, tenant, hunter)

	_, err := env.jobs.ConfirmSatisfied(ctx, j.ID, tenant)
	wantErr(t, err, models.ErrInvalidState)

	_, err = env.jobs.SubmitEvidence(ctx, j.ID, hunter, evidence(3))
	mustNoErr(t, err)
	j, err = env.jobs.ConfirmSatisfied(ctx, j.ID, tenant)
	mustNoErr(t, err)
	if j.Status != models.JobCompleted {
		t.Fatalf("status = %s", j.Status)
	}

	txs, _ := env.ledger.Transactions(ctx, j.ID)
	if len(txs) != 2 || txs[1].Kind != models.EscrowRelease || txs[1].CounterpartyID != hunter || txs[1].Amount != 10000 {
		t.Errorf("ledger = %+v", txs)
	}
}

func TestSearchJobDisputeBlocksConfirm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.claimedJob(t, tenant, hunter)

	_, err := env.jobs.RaiseDispute(ctx, j.ID, tenant, "wrong area")
	wantErr(t, err, models.ErrInvalidState)

	_, err = env.jobs.SubmitEvidence(ctx, j.ID, hunter, evidence(3))
	mustNoErr(t, err)

	_, err = env.jobs.RaiseDispute(ctx, j.ID, tenant, "  ")
	wantErr(t, err, models.ErrValidation)

	j, err = env.jobs.RaiseDispute(ctx, j.ID, tenant, "options outside budget")
	mustNoErr(t, err)
	if j.Status != models.JobPendingReview || !j.IsDisputed() || j.RefundRequestedAt == nil {
		t.Fatalf("disputed job = %+v", j)
	}

	_, err = env.jobs.RaiseDispute(ctx, j.ID, tenant, "again")
	wantErr(t, err, models.ErrInvalidState)
	_, err = env.jobs.ConfirmSatisfied(ctx, j.ID, tenant)
	wantErr(t, err, models.ErrInvalidState)
}

func TestSearchJobCheckExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.claimedJob(t, tenant, hunter)
	deadline := *j.Deadline

	forfeited, err := env.jobs.CheckExpiry(ctx, j.ID, deadline)
	mustNoErr(t, err)
	if forfeited {
		t.Fatal("forfeited at the deadline itself")
	}

	forfeited, err = env.jobs.CheckExpiry(ctx, j.ID, deadline.Add(time.Second))
	mustNoErr(t, err)
	if !forfeited {
		t.Fatal("overdue job was not forfeited")
	}

	j, _ = env.jobs.Get(ctx, j.ID)
	if j.Status != models.JobForfeited || j.ForfeitedAt == nil {
		t.Fatalf("job = %+v", j)
	}
	txs, _ := env.ledger.Transactions(ctx, j.ID)
	if len(txs) != 2 || txs[1].Kind != models.EscrowRefund || txs[1].CounterpartyID != tenant {
		t.Errorf("ledger = %+v", txs)
	}

	// A second check is a no-op.
	forfeited, err = env.jobs.CheckExpiry(ctx, j.ID, deadline.Add(time.Hour))
	mustNoErr(t, err)
	if forfeited {
		t.Error("forfeited twice")
	}
}

func TestSearchJobCheckExpirySparesDisputes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tenant, hunter := uuid.New(), uuid.New()
	j := env.claimedJob(t, tenant, hunter)
	_, err := env.jobs.SubmitEvidence(ctx, j.ID, hunter, evidence(3))
	mustNoErr(t, err)
	_, err = env.jobs.RaiseDispute(ctx, j.ID, tenant, "photos are stale")
	mustNoErr(t, err)

	forfeited, err := env.jobs.CheckExpiry(ctx, j.ID, j.Deadline.Add(24*time.Hour))
	mustNoErr(t, err)
	if forfeited {
		t.Error("disputed job was forfeited")
	}
}

func TestSearchJobCancel(t *testing.T) {
	t.Run("draft has nothing to refund", func(t *testing.T) {
		env := newTestEnv(t)
		tenant := uuid.New()
		j, err := env.jobs.Submit(context.Background(), tenant, testRequirements, models.TierUrgent)
		mustNoErr(t, err)
		j, err = env.jobs.Cancel(context.Background(), j.ID, tenant)
		mustNoErr(t, err)
		if j.Status != models.JobCancelled || len(env.kinds(t, j.ID)) != 0 {
			t.Errorf("cancelled draft = %+v", j)
		}
	})

	t.Run("paid job refunds and rejects bids", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		tenant, hunter := uuid.New(), uuid.New()
		j := env.openJob(t, tenant, models.TierUrgent)
		_, _, err := env.jobs.SubmitBid(ctx, j.ID, hunter, BidInput{Price: 900, PromisedDeliveryHours: 12})
		mustNoErr(t, err)

		j, err = env.jobs.Cancel(ctx, j.ID, tenant)
		mustNoErr(t, err)
		if j.Bids[0].Status != models.BidRejected {
			t.Errorf("bid = %+v", j.Bids[0])
		}
		if got := env.kinds(t, j.ID); !reflect.DeepEqual(got, []models.EscrowTxKind{models.EscrowHold, models.EscrowRefund}) {
			t.Errorf("ledger = %v", got)
		}
	})

	t.Run("claimed job cannot be cancelled", func(t *testing.T) {
		env := newTestEnv(t)
		tenant := uuid.New()
		j := env.claimedJob(t, tenant, uuid.New())
		_, err := env.jobs.Cancel(context.Background(), j.ID, tenant)
		wantErr(t, err, models.ErrAlreadyClaimed)
	})
}
