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
)

type DecisionInput struct {
	Decision        models.Decision
	SplitPercentage *int
	Reasoning       string
}

// ComputeSplit divides balance by the hunter's percentage. The hunter's share
// is rounded down and the tenant receives the remainder, so the two always sum
// to balance.
func ComputeSplit(balance models.Money, pct int) (hunter, tenant models.Money, err error) {
	if pct < 0 || pct > 100 {
		return 0, 0, fmt.Errorf("%w: %d", models.ErrInvalidPercentage, pct)
	}
	p := models.Money(pct)
	hunter = balance/100*p + balance%100*p/100
	return hunter, balance - hunter, nil
}

// ArbitrationService settles disputed jobs on an admin's final decision.
type ArbitrationService struct {
	jobs   jobMutator
	store  SearchJobStore
	ledger *LedgerService
	audit  AuditStore
	rec    recorder
	log    *zap.Logger
}

func NewArbitrationService(
	store SearchJobStore,
	ledger *LedgerService,
	locker lock.Locker,
	audit AuditStore,
	publisher events.Publisher,
	log *zap.Logger,
) *ArbitrationService {
	return &ArbitrationService{
		jobs:   jobMutator{store: store, ledger: ledger, locker: locker, now: func() time.Time { return time.Now().UTC() }},
		store:  store,
		ledger: ledger,
		audit:  audit,
		rec:    recorder{audit: audit, publisher: publisher, log: log},
		log:    log,
	}
}

// ListDisputed is the queue of disputes awaiting a decision.
func (s *ArbitrationService) ListDisputed(ctx context.Context, limit int) ([]models.SearchJob, error) {
	return s.store.ListDisputed(ctx, limit)
}

// History is the audit trail of a job, newest entry first.
func (s *ArbitrationService) History(ctx context.Context, id uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.GetByEntity(ctx, "search_job", id, limit, offset)
}

// Decide records a final, non-revisable decision and settles the escrow.
func (s *ArbitrationService) Decide(ctx context.Context, id, adminID uuid.UUID, in DecisionInput) (*models.SearchJob, error) {
	if !in.Decision.Valid() {
		return nil, fmt.Errorf("%w: unknown decision %q", models.ErrValidation, in.Decision)
	}
	reasoning := strings.TrimSpace(in.Reasoning)
	if reasoning == "" {
		return nil, fmt.Errorf("%w: reasoning is required", models.ErrValidation)
	}

	j, settled, err := s.jobs.settle(ctx, id, func(j *models.SearchJob) (*pendingLedger, error) {
		if j.AdminReview != nil {
			return nil, fmt.Errorf("search job %s: %w", j.ID, models.ErrAlreadyReviewed)
		}
		if !j.IsDisputed() {
			return nil, fmt.Errorf("%w: search job has no dispute", models.ErrInvalidState)
		}
		if j.Status != models.JobPendingReview {
			return nil, fmt.Errorf("%w: search job is %s", models.ErrInvalidState, j.Status)
		}

		balance, err := s.ledger.Balance(ctx, j.ID)
		if err != nil {
			return nil, err
		}
		review := &models.AdminReview{
			Decision:   in.Decision,
			Reasoning:  reasoning,
			ReviewedBy: adminID,
			ReviewedAt: s.jobs.now(),
		}

		var (
			p  *pendingLedger
			to models.SearchJobStatus
		)
		switch in.Decision {
		case models.DecisionFullRefund:
			p, err = s.ledger.prepareSettlement(ctx, j.ID, models.EscrowRefund, j.TenantID, nil)
			review.TenantShare = balance.Remaining
			to = models.JobCancelled
		case models.DecisionFullPayment:
			p, err = s.ledger.prepareSettlement(ctx, j.ID, models.EscrowRelease, *j.ClaimedBy, nil)
			review.HunterShare = balance.Remaining
			to = models.JobCompleted
		case models.DecisionSplitPayment:
			if in.SplitPercentage == nil {
				return nil, fmt.Errorf("%w: split_payment requires a percentage", models.ErrInvalidPercentage)
			}
			hunter, tenant, cerr := ComputeSplit(balance.Remaining, *in.SplitPercentage)
			if cerr != nil {
				return nil, cerr
			}
			p, err = s.ledger.prepareSettlement(ctx, j.ID, models.EscrowSplit, uuid.Nil, []models.EscrowLeg{
				{PayeeID: *j.ClaimedBy, Amount: hunter},
				{PayeeID: j.TenantID, Amount: tenant},
			})
			pct := *in.SplitPercentage
			review.SplitPercentage = &pct
			review.HunterShare = hunter
			review.TenantShare = tenant
			to = models.JobCompleted
		}
		if err != nil {
			return nil, err
		}
		j.AdminReview = review
		return p, jobTransition(j, to)
	})
	if err != nil {
		return nil, err
	}
	s.ledger.complete(ctx, settled)

	s.log.Info("dispute decided",
		zap.String("job_id", j.ID.String()),
		zap.String("decision", string(in.Decision)),
		zap.String("admin_id", adminID.String()),
	)
	s.rec.record(ctx, transition{
		actorID:    adminID,
		actorType:  models.ActorTypeAdmin,
		action:     "search_job_arbitrated",
		entityType: "search_job",
		entityID:   j.ID,
		stream:     events.StreamSearchJob,
		eventType:  events.EventJobArbitrated,
		meta: map[string]any{
			"decision":     string(in.Decision),
			"hunter_share": int64(j.AdminReview.HunterShare),
			"tenant_share": int64(j.AdminReview.TenantShare),
			"status":       string(j.Status),
		},
		notify: []uuid.UUID{j.TenantID, *j.ClaimedBy},
	})
	return j, nil
}
