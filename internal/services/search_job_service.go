package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/lock"
	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/repositories"
)

// jobMutator loads, changes and saves a search job under its lock. Shared by
// the lifecycle, deadline and arbitration services.
type jobMutator struct {
	store  SearchJobStore
	ledger *LedgerService
	locker lock.Locker
	now    func() time.Time
}

func (m jobMutator) mutate(ctx context.Context, id uuid.UUID, fn func(j *models.SearchJob) error) (*models.SearchJob, error) {
	j, _, err := m.settle(ctx, id, func(j *models.SearchJob) (*pendingLedger, error) {
		return nil, fn(j)
	})
	return j, err
}

// settle is mutate for changes that move escrow money. The ledger entry fn
// prepares is written in the same transaction as the job; if either write
// fails neither is kept. The caller completes the returned entry.
func (m jobMutator) settle(ctx context.Context, id uuid.UUID, fn func(j *models.SearchJob) (*pendingLedger, error)) (*models.SearchJob, *pendingLedger, error) {
	unlock, err := m.locker.Lock(ctx, lock.SearchJobKey(id))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	j, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	p, err := fn(j)
	defer p.release()
	if err != nil {
		return nil, nil, err
	}
	j.UpdatedAt = m.now()
	write := func(ctx context.Context) error { return m.store.Update(ctx, j) }
	if p == nil {
		err = write(ctx)
	} else {
		err = m.ledger.persist(ctx, p, write)
	}
	if err != nil {
		return nil, nil, err
	}
	return j, p, nil
}

// errNothingToDo aborts a mutation without saving.
var errNothingToDo = errors.New("nothing to do")

func jobTransition(j *models.SearchJob, to models.SearchJobStatus) error {
	if !models.IsValidJobTransition(j.Status, to) {
		return fmt.Errorf("%w: search job is %s, cannot move to %s", models.ErrInvalidState, j.Status, to)
	}
	j.Status = to
	return nil
}

type SearchJobService struct {
	jobs   jobMutator
	store  SearchJobStore
	ledger *LedgerService
	tiers  models.TierCatalog
	rec    recorder
	log    *zap.Logger
}

func NewSearchJobService(
	store SearchJobStore,
	ledger *LedgerService,
	tiers models.TierCatalog,
	locker lock.Locker,
	audit AuditStore,
	publisher events.Publisher,
	log *zap.Logger,
) *SearchJobService {
	return &SearchJobService{
		jobs:   jobMutator{store: store, ledger: ledger, locker: locker, now: func() time.Time { return time.Now().UTC() }},
		store:  store,
		ledger: ledger,
		tiers:  tiers,
		rec:    recorder{audit: audit, publisher: publisher, log: log},
		log:    log,
	}
}

func (s *SearchJobService) now() time.Time { return s.jobs.now() }

// Submit creates a DRAFT job priced by its tier.
func (s *SearchJobService) Submit(ctx context.Context, tenantID uuid.UUID, req models.Requirements, tier models.ServiceTier) (*models.SearchJob, error) {
	def, err := s.tiers.Lookup(tier)
	if err != nil {
		return nil, err
	}
	if len(req.Areas) == 0 {
		return nil, fmt.Errorf("%w: at least one area is required", models.ErrValidation)
	}
	if req.BudgetMin < 0 || req.BudgetMax < req.BudgetMin {
		return nil, fmt.Errorf("%w: budget range is invalid", models.ErrValidation)
	}

	now := s.now()
	j := &models.SearchJob{
		ID:                  uuid.New(),
		TenantID:            tenantID,
		Requirements:        req,
		Tier:                tier,
		NumberOfOptions:     def.NumberOfOptions,
		Status:              models.JobDraft,
		DepositAmount:       def.Deposit,
		Bids:                []models.Bid{},
		TimeframeExtensions: []models.TimeframeExtension{},
		UploadedEvidence:    []models.Evidence{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.store.Create(ctx, j); err != nil {
		return nil, err
	}
	s.record(ctx, j, tenantID, "search_job_submitted", events.EventJobSubmitted, map[string]any{"tier": string(tier)})
	return j, nil
}

// RequestPayment moves a draft to checkout.
func (s *SearchJobService) RequestPayment(ctx context.Context, id, tenantID uuid.UUID) (*models.SearchJob, error) {
	j, err := s.jobs.mutate(ctx, id, func(j *models.SearchJob) error {
		if err := requireTenant(j, tenantID); err != nil {
			return err
		}
		return jobTransition(j, models.JobPendingPayment)
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, j, tenantID, "search_job_payment_requested", events.EventJobPaymentRequested, map[string]any{
		"deposit_amount": int64(j.DepositAmount),
	})
	return j, nil
}

// PayDeposit holds the tier deposit and opens the job for bids.
func (s *SearchJobService) PayDeposit(ctx context.Context, id, tenantID uuid.UUID) (*models.SearchJob, error) {
	j, held, err := s.jobs.settle(ctx, id, func(j *models.SearchJob) (*pendingLedger, error) {
		if err := requireTenant(j, tenantID); err != nil {
			return nil, err
		}
		if j.Status != models.JobDraft && j.Status != models.JobPendingPayment {
			return nil, fmt.Errorf("%w: deposit can only be paid on a draft or awaiting-payment job", models.ErrInvalidState)
		}
		p, err := s.ledger.prepareHold(ctx, j.ID, j.DepositAmount, j.TenantID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		j.DepositPaid = true
		j.DepositPaidAt = &now
		return p, jobTransition(j, models.JobPendingBids)
	})
	if err != nil {
		return nil, err
	}
	s.ledger.complete(ctx, held)
	s.record(ctx, j, tenantID, "search_job_deposit_paid", events.EventJobDepositPaid, map[string]any{
		"deposit_amount": int64(j.DepositAmount),
	})
	return j, nil
}

type BidInput struct {
	Price                 models.Money
	PromisedDeliveryHours int
	BonusOffer            string
}

func (s *SearchJobService) SubmitBid(ctx context.Context, id, hunterID uuid.UUID, in BidInput) (*models.SearchJob, *models.Bid, error) {
	if in.Price <= 0 {
		return nil, nil, fmt.Errorf("%w: bid price must be positive", models.ErrValidation)
	}
	if in.PromisedDeliveryHours <= 0 {
		return nil, nil, fmt.Errorf("%w: promised delivery hours must be positive", models.ErrValidation)
	}
	var bid models.Bid
	j, err := s.jobs.mutate(ctx, id, func(j *models.SearchJob) error {
		if hunterID == j.TenantID {
			return fmt.Errorf("%w: tenants cannot bid on their own job", models.ErrForbidden)
		}
		if j.Status != models.JobPendingBids {
			return fmt.Errorf("%w: job is not accepting bids", models.ErrInvalidState)
		}
		if j.BidByHunter(hunterID) != nil {
			return fmt.Errorf("hunter %s: %w", hunterID, models.ErrDuplicateBid)
		}
		bid = models.Bid{
			ID:                    uuid.New(),
			HunterID:              hunterID,
			Price:                 in.Price,
			PromisedDeliveryHours: in.PromisedDeliveryHours,
			Status:                models.BidPending,
			CreatedAt:             s.now(),
		}
		if bonus := strings.TrimSpace(in.BonusOffer); bonus != "" {
			bid.BonusOffer = &bonus
		}
		j.Bids = append(j.Bids, bid)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.rec.record(ctx, transition{
		actorID:    hunterID,
		actorType:  models.ActorTypeUser,
		action:     "search_job_bid_submitted",
		entityType: "search_job",
		entityID:   j.ID,
		stream:     events.StreamSearchJob,
		eventType:  events.EventJobBidSubmitted,
		meta:       map[string]any{"bid_id": bid.ID.String(), "price": int64(bid.Price)},
		notify:     []uuid.UUID{j.TenantID},
	})
	return j, &bid, nil
}

// WithdrawBid retracts the hunter's own pending bid while bidding is open.
func (s *SearchJobService) WithdrawBid(ctx context.Context, id, hunterID uuid.UUID) (*models.SearchJob, error) {
	var bidID uuid.UUID
	j, err := s.jobs.mutate(ctx, id, func(j *models.SearchJob) error {
		if j.Status != models.JobPendingBids {
			return fmt.Errorf("%w: bids can only be withdrawn while bidding is open", models.ErrInvalidState)
		}
		bid := j.BidByHunter(hunterID)
		if bid == nil || bid.Status != models.BidPending {
			return fmt.Errorf("no pending bid by %s: %w", hunterID, models.ErrBidNotFound)
		}
		bid.Status = models.BidRejected
		bidID = bid.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.rec.record(ctx, transition{
		actorID:    hunterID,
		actorType:  models.ActorTypeUser,
		action:     "search_job_bid_withdrawn",
		entityType: "search_job",
		entityID:   j.ID,
		stream:     events.StreamSearchJob,
		eventType:  events.EventJobBidWithdrawn,
		meta:       map[string]any{"bid_id": bidID.String()},
		notify:     []uuid.UUID{j.TenantID},
	})
	return j, nil
}

// AcceptBid claims the job for the bid's hunter and starts the tier clock.
// Every other pending bid is rejected in the same write.
func (s *SearchJobService) AcceptBid(ctx context.Context, id, tenantID, bidID uuid.UUID) (*models.SearchJob, error) {
	var rejected []uuid.UUID
	j, err := s.jobs.mutate(ctx, id, func(j *models.SearchJob) error {
		if err := requireTenant(j, tenantID); err != nil {
			return err
		}
		if j.ClaimedBy != nil {
			return fmt.Errorf("search job %s: %w", j.ID, models.ErrAlreadyClaimed)
		}
		if j.Status != models.JobPendingBids {
			return fmt.Errorf("%w: job is not accepting bids", models.ErrInvalidState)
		}
		bid := j.FindBid(bidID)
		if bid == nil || bid.Status != models.BidPending {
			return fmt.Errorf("bid %s: %w", bidID, models.ErrBidNotFound)
		}
		def, err := s.tiers.Lookup(j.Tier)
		if err != nil {
			return err
		}

		now := s.now()
		deadline := now.Add(def.Window)
		for i := range j.Bids {
			switch {
			case j.Bids[i].ID == bidID:
				j.Bids[i].Status = models.BidAccepted
			case j.Bids[i].Status == models.BidPending:
				j.Bids[i].Status = models.BidRejected
				rejected = append(rejected, j.Bids[i].HunterID)
			}
		}
		hunterID := bid.HunterID
		j.ClaimedBy = &hunterID
		j.ClaimedAt = &now
		j.Deadline = &deadline
		return jobTransition(j, models.JobInProgress)
	})
	if err != nil {
		return nil, err
	}

	s.rec.record(ctx, transition{
		actorID:    tenantID,
		actorType:  models.ActorTypeUser,
		action:     "search_job_claimed",
		entityType: "search_job",
		entityID:   j.ID,
		stream:     events.StreamSearchJob,
		eventType:  events.EventJobClaimed,
		meta: map[string]any{
			"bid_id":     bidID.String(),
			"claimed_by": j.ClaimedBy.String(),
			"deadline":   j.Deadline.Format(time.RFC3339),
			"rejected":   len(rejected),
		},
		notify: append([]uuid.UUID{*j.ClaimedBy}, rejected...),
	})
	return j, nil
}

type EvidenceInput struct {
	Photos      []string
	Description string
	MatchScore  int
}

// SubmitEvidence appends delivered options. A batch that would overflow the
// tier's option count is refused whole; reaching the count moves the job to
// PENDING_REVIEW.
func (s *SearchJobService) SubmitEvidence(ctx context.Context, id, hunterID uuid.UUID, items []EvidenceInput) (*models.SearchJob, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one evidence item is required", models.ErrValidation)
	}
	for _, it := range items {
		if strings.TrimSpace(it.Description) == "" && len(it.Photos) == 0 {
			return nil, fmt.Errorf("%w: evidence needs photos or a description", models.ErrValidation)
		}
		if it.MatchScore < 0 || it.MatchScore > 100 {
			return nil, fmt.Errorf("%w: match score must be between 0 and 100", models.ErrValidation)
		}
	}

	j, err := s.jobs.mutate(ctx, id, func(j *models.SearchJob) error {
		if !j.IsClaimedBy(hunterID) {
			return fmt.Errorf("%w: only the claiming hunter may submit evidence", models.ErrForbidden)
		}
		if j.Status != models.JobInProgress {
			return fmt.Errorf("%w: evidence can only be submitted while in progress", models.ErrInvalidState)
		}
		now := s.now()
		if j.Deadline != nil && now.After(*j.Deadline) {
			return fmt.Errorf("search job %s: %w", j.ID, models.ErrDeadlinePassed)
		}
		if len(j.UploadedEvidence)+len(items) > j.NumberOfOptions {
			return fmt.Errorf("%w: %d of %d options already delivered", models.ErrEvidenceCap, len(j.UploadedEvidence), j.NumberOfOptions)
		}
		for _, it := range items {
			j.UploadedEvidence = append(j.UploadedEvidence, models.Evidence{
				Photos:      append([]string(nil), it.Photos...),
				Description: strings.TrimSpace(it.Description),
				MatchScore:  it.MatchScore,
				SubmittedAt: now,
			})
		}
		if len(j.UploadedEvidence) == j.NumberOfOptions {
			return jobTransition(j, models.JobPendingReview)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, j, hunterID, "search_job_evidence_submitted", events.EventJobEvidenceSubmitted, map[string]any{
		"delivered": len(j.UploadedEvidence),
		"required":  j.NumberOfOptions,
	})
	return j, nil
}

// ConfirmSatisfied accepts the delivered options and pays the hunter.
func (s *SearchJobService) ConfirmSatisfied(ctx context.Context, id, tenantID uuid.UUID) (*models.SearchJob, error) {
	j, settled, err := s.jobs.settle(ctx, id, func(j *models.SearchJob) (*pendingLedger, error) {
		if err := requireTenant(j, tenantID); err != nil {
			return nil, err
		}
		if j.Status != models.JobPendingReview {
			return nil, fmt.Errorf("%w: job is not awaiting review", models.ErrInvalidState)
		}
		if j.IsDisputed() {
			return nil, fmt.Errorf("%w: job is under dispute and awaits arbitration", models.ErrInvalidState)
		}
		p, err := s.ledger.prepareSettlement(ctx, j.ID, models.EscrowRelease, *j.ClaimedBy, nil)
		if err != nil {
			return nil, err
		}
		return p, jobTransition(j, models.JobCompleted)
	})
	if err != nil {
		return nil, err
	}
	s.ledger.complete(ctx, settled)
	s.record(ctx, j, tenantID, "search_job_completed", events.EventJobCompleted, nil)
	return j, nil
}

// RaiseDispute refers the delivered options to arbitration. The status stays
// PENDING_REVIEW.
func (s *SearchJobService) RaiseDispute(ctx context.Context, id, tenantID uuid.UUID, reason string) (*models.SearchJob, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", models.ErrValidation)
	}
	j, err := s.jobs.mutate(ctx, id, func(j *models.SearchJob) error {
		if err := requireTenant(j, tenantID); err != nil {
			return err
		}
		if j.Status != models.JobPendingReview {
			return fmt.Errorf("%w: only delivered jobs can be disputed", models.ErrInvalidState)
		}
		if j.IsDisputed() {
			return fmt.Errorf("%w: job is already disputed", models.ErrInvalidState)
		}
		now := s.now()
		j.DisputeReason = &reason
		j.RefundRequestedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, j, tenantID, "search_job_disputed", events.EventJobDisputed, map[string]any{"reason": reason})
	return j, nil
}

// CheckExpiry forfeits a claimed job whose deadline has passed unresolved and
// refunds the tenant. It reports whether the job was forfeited.
func (s *SearchJobService) CheckExpiry(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	j, settled, err := s.jobs.settle(ctx, id, func(j *models.SearchJob) (*pendingLedger, error) {
		if !j.ShouldForfeit(now) {
			return nil, errNothingToDo
		}
		p, err := s.ledger.prepareSettlement(ctx, j.ID, models.EscrowRefund, j.TenantID, nil)
		if err != nil {
			return nil, err
		}
		for i := range j.TimeframeExtensions {
			if j.TimeframeExtensions[i].Status == models.ExtensionPending {
				j.TimeframeExtensions[i].Status = models.ExtensionRejected
				j.TimeframeExtensions[i].ResolvedAt = &now
			}
		}
		j.ForfeitedAt = &now
		return p, jobTransition(j, models.JobForfeited)
	})
	if errors.Is(err, errNothingToDo) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.ledger.complete(ctx, settled)

	s.log.Info("search job forfeited",
		zap.String("job_id", j.ID.String()),
		zap.Time("deadline", *j.Deadline),
	)
	s.rec.record(ctx, transition{
		actorType:  models.ActorTypeSystem,
		action:     "search_job_forfeited",
		entityType: "search_job",
		entityID:   j.ID,
		stream:     events.StreamSearchJob,
		eventType:  events.EventJobForfeited,
		meta:       map[string]any{"deadline": j.Deadline.Format(time.RFC3339)},
		notify:     []uuid.UUID{j.TenantID, *j.ClaimedBy},
	})
	return true, nil
}

// Cancel withdraws a job before anyone has claimed it, refunding a paid deposit.
func (s *SearchJobService) Cancel(ctx context.Context, id, tenantID uuid.UUID) (*models.SearchJob, error) {
	var notify []uuid.UUID
	j, settled, err := s.jobs.settle(ctx, id, func(j *models.SearchJob) (*pendingLedger, error) {
		if err := requireTenant(j, tenantID); err != nil {
			return nil, err
		}
		if j.ClaimedBy != nil {
			return nil, fmt.Errorf("search job %s: %w", j.ID, models.ErrAlreadyClaimed)
		}
		if err := jobTransition(j, models.JobCancelled); err != nil {
			return nil, err
		}
		var p *pendingLedger
		if j.DepositPaid {
			var err error
			if p, err = s.ledger.prepareSettlement(ctx, j.ID, models.EscrowRefund, j.TenantID, nil); err != nil {
				return nil, err
			}
		}
		for i := range j.Bids {
			if j.Bids[i].Status == models.BidPending {
				j.Bids[i].Status = models.BidRejected
				notify = append(notify, j.Bids[i].HunterID)
			}
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	s.ledger.complete(ctx, settled)
	s.rec.record(ctx, transition{
		actorID:    tenantID,
		actorType:  models.ActorTypeUser,
		action:     "search_job_cancelled",
		entityType: "search_job",
		entityID:   j.ID,
		stream:     events.StreamSearchJob,
		eventType:  events.EventJobCancelled,
		meta:       map[string]any{"refunded": settled != nil},
		notify:     notify,
	})
	return j, nil
}

func (s *SearchJobService) Get(ctx context.Context, id uuid.UUID) (*models.SearchJob, error) {
	return s.store.GetByID(ctx, id)
}

func (s *SearchJobService) List(ctx context.Context, f repositories.SearchJobFilter) ([]models.SearchJob, error) {
	return s.store.List(ctx, f)
}

func (s *SearchJobService) Tiers() models.TierCatalog {
	return s.tiers
}

// record notifies the counterparty of actorID.
func (s *SearchJobService) record(ctx context.Context, j *models.SearchJob, actorID uuid.UUID, action, eventType string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["status"] = string(j.Status)
	var notify []uuid.UUID
	if actorID != j.TenantID {
		notify = append(notify, j.TenantID)
	}
	if j.ClaimedBy != nil && *j.ClaimedBy != actorID {
		notify = append(notify, *j.ClaimedBy)
	}
	s.rec.record(ctx, transition{
		actorID:    actorID,
		actorType:  models.ActorTypeUser,
		action:     action,
		entityType: "search_job",
		entityID:   j.ID,
		stream:     events.StreamSearchJob,
		eventType:  eventType,
		meta:       meta,
		notify:     notify,
	})
}

func requireTenant(j *models.SearchJob, actorID uuid.UUID) error {
	if actorID != j.TenantID {
		return fmt.Errorf("%w: only the job's tenant may do this", models.ErrForbidden)
	}
	return nil
}
