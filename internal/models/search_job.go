package models

import (
	"time"

	"github.com/google/uuid"
)

type SearchJobStatus string

// Search job statuses
const (
	JobDraft          SearchJobStatus = "DRAFT"
	JobPendingPayment SearchJobStatus = "PENDING_PAYMENT"
	JobPendingBids    SearchJobStatus = "PENDING_BIDS"
	JobInProgress     SearchJobStatus = "IN_PROGRESS"
	JobPendingReview  SearchJobStatus = "PENDING_REVIEW"
	JobCompleted      SearchJobStatus = "COMPLETED"
	JobCancelled      SearchJobStatus = "CANCELLED"
	JobForfeited      SearchJobStatus = "FORFEITED"
)

// Valid search job transitions: from -> []to
var ValidSearchJobTransitions = map[SearchJobStatus][]SearchJobStatus{
	JobDraft:          {JobPendingPayment, JobPendingBids, JobCancelled},
	JobPendingPayment: {JobPendingBids, JobCancelled},
	JobPendingBids:    {JobInProgress, JobCancelled},
	JobInProgress:     {JobPendingReview, JobForfeited},
	JobPendingReview:  {JobCompleted, JobCancelled, JobForfeited},
	JobCompleted:      {},
	JobCancelled:      {},
	JobForfeited:      {},
}

func IsValidJobTransition(from, to SearchJobStatus) bool {
	for _, s := range ValidSearchJobTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type BidStatus string

const (
	BidPending  BidStatus = "PENDING"
	BidAccepted BidStatus = "ACCEPTED"
	BidRejected BidStatus = "REJECTED"
)

type Bid struct {
	ID                    uuid.UUID `json:"id"`
	HunterID              uuid.UUID `json:"hunter_id"`
	Price                 Money     `json:"price"`
	PromisedDeliveryHours int       `json:"promised_delivery_hours"`
	BonusOffer            *string   `json:"bonus_offer,omitempty"`
	Status                BidStatus `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
}

type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "pending"
	ExtensionApproved ExtensionStatus = "approved"
	ExtensionRejected ExtensionStatus = "rejected"
)

type TimeframeExtension struct {
	ID             uuid.UUID       `json:"id"`
	RequestedHours int             `json:"requested_hours"`
	Reason         string          `json:"reason"`
	Status         ExtensionStatus `json:"status"`
	RequestedAt    time.Time       `json:"requested_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

type Evidence struct {
	Photos      []string  `json:"photos"`
	Description string    `json:"description"`
	MatchScore  int       `json:"match_score"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Decision string

const (
	DecisionFullRefund   Decision = "full_refund"
	DecisionFullPayment  Decision = "full_payment"
	DecisionSplitPayment Decision = "split_payment"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionFullRefund, DecisionFullPayment, DecisionSplitPayment:
		return true
	default:
		return false
	}
}

type AdminReview struct {
	Decision        Decision  `json:"decision"`
	SplitPercentage *int      `json:"split_percentage,omitempty"`
	HunterShare     Money     `json:"hunter_share"`
	TenantShare     Money     `json:"tenant_share"`
	Reasoning       string    `json:"reasoning"`
	ReviewedBy      uuid.UUID `json:"reviewed_by"`
	ReviewedAt      time.Time `json:"reviewed_at"`
}

type Requirements struct {
	Areas          []string `json:"areas"`
	BudgetMin      Money    `json:"budget_min"`
	BudgetMax      Money    `json:"budget_max"`
	PropertyType   string   `json:"property_type"`
	MustHaves      []string `json:"must_haves,omitempty"`
	DealBreakers   []string `json:"deal_breakers,omitempty"`
	AdditionalInfo string   `json:"additional_info,omitempty"`
}

type SearchJob struct {
	ID                  uuid.UUID            `json:"id"`
	TenantID            uuid.UUID            `json:"tenant_id"`
	Requirements        Requirements         `json:"requirements"`
	Tier                ServiceTier          `json:"service_tier"`
	NumberOfOptions     int                  `json:"number_of_options"`
	Status              SearchJobStatus      `json:"status"`
	DepositAmount       Money                `json:"deposit_amount"`
	DepositPaid         bool                 `json:"deposit_paid"`
	DepositPaidAt       *time.Time           `json:"deposit_paid_at,omitempty"`
	Bids                []Bid                `json:"bids"`
	ClaimedBy           *uuid.UUID           `json:"claimed_by,omitempty"`
	ClaimedAt           *time.Time           `json:"claimed_at,omitempty"`
	Deadline            *time.Time           `json:"deadline,omitempty"`
	TimeframeExtensions []TimeframeExtension `json:"timeframe_extensions"`
	UploadedEvidence    []Evidence           `json:"uploaded_evidence"`
	DisputeReason       *string              `json:"dispute_reason,omitempty"`
	RefundRequestedAt   *time.Time           `json:"refund_requested_at,omitempty"`
	AdminReview         *AdminReview         `json:"admin_review,omitempty"`
	ForfeitedAt         *time.Time           `json:"forfeited_at,omitempty"`
	Version             int                  `json:"version"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

func (j *SearchJob) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobCancelled || j.Status == JobForfeited
}

func (j *SearchJob) IsDisputed() bool {
	return j.DisputeReason != nil
}

func (j *SearchJob) IsClaimedBy(hunterID uuid.UUID) bool {
	return j.ClaimedBy != nil && *j.ClaimedBy == hunterID
}

func (j *SearchJob) FindBid(bidID uuid.UUID) *Bid {
	for i := range j.Bids {
		if j.Bids[i].ID == bidID {
			return &j.Bids[i]
		}
	}
	return nil
}

func (j *SearchJob) BidByHunter(hunterID uuid.UUID) *Bid {
	for i := range j.Bids {
		if j.Bids[i].HunterID == hunterID {
			return &j.Bids[i]
		}
	}
	return nil
}

func (j *SearchJob) FindExtension(extID uuid.UUID) *TimeframeExtension {
	for i := range j.TimeframeExtensions {
		if j.TimeframeExtensions[i].ID == extID {
			return &j.TimeframeExtensions[i]
		}
	}
	return nil
}

func (j *SearchJob) HasPendingExtension() bool {
	for _, ext := range j.TimeframeExtensions {
		if ext.Status == ExtensionPending {
			return true
		}
	}
	return false
}

// ShouldForfeit reports whether a claimed job has run past its deadline
// without resolution. Jobs under dispute are left for arbitration.
func (j *SearchJob) ShouldForfeit(now time.Time) bool {
	if j.Deadline == nil || !now.After(*j.Deadline) {
		return false
	}
	if j.Status != JobInProgress && j.Status != JobPendingReview {
		return false
	}
	return j.AdminReview == nil && !j.IsDisputed()
}

// VisibleTo returns what userID may see of j, or nil when nothing. Admins,
// the tenant and the claiming hunter see the whole job. Other hunters see it
// while it is open for bids or once they have bid, limited to their own bid
// and without delivery, dispute or review details.
func (j *SearchJob) VisibleTo(userID uuid.UUID, admin bool) *SearchJob {
	if admin || userID == j.TenantID || j.IsClaimedBy(userID) {
		return j
	}
	own := j.BidByHunter(userID)
	if own == nil && j.Status != JobPendingBids {
		return nil
	}
	c := *j
	c.Bids = []Bid{}
	if own != nil {
		c.Bids = append(c.Bids, *own)
	}
	c.TimeframeExtensions = []TimeframeExtension{}
	c.UploadedEvidence = []Evidence{}
	c.DisputeReason = nil
	c.RefundRequestedAt = nil
	c.AdminReview = nil
	return &c
}

func (j *SearchJob) Clone() *SearchJob {
	c := *j
	c.Requirements.Areas = append([]string(nil), j.Requirements.Areas...)
	c.Requirements.MustHaves = append([]string(nil), j.Requirements.MustHaves...)
	c.Requirements.DealBreakers = append([]string(nil), j.Requirements.DealBreakers...)
	c.Bids = append([]Bid(nil), j.Bids...)
	c.TimeframeExtensions = append([]TimeframeExtension(nil), j.TimeframeExtensions...)
	c.UploadedEvidence = make([]Evidence, len(j.UploadedEvidence))
	for i, ev := range j.UploadedEvidence {
		ev.Photos = append([]string(nil), ev.Photos...)
		c.UploadedEvidence[i] = ev
	}
	c.DepositPaidAt = cloneTime(j.DepositPaidAt)
	c.ClaimedAt = cloneTime(j.ClaimedAt)
	c.Deadline = cloneTime(j.Deadline)
	c.RefundRequestedAt = cloneTime(j.RefundRequestedAt)
	c.ForfeitedAt = cloneTime(j.ForfeitedAt)
	if j.ClaimedBy != nil {
		id := *j.ClaimedBy
		c.ClaimedBy = &id
	}
	if j.DisputeReason != nil {
		r := *j.DisputeReason
		c.DisputeReason = &r
	}
	if j.AdminReview != nil {
		r := *j.AdminReview
		if j.AdminReview.SplitPercentage != nil {
			p := *j.AdminReview.SplitPercentage
			r.SplitPercentage = &p
		}
		c.AdminReview = &r
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
