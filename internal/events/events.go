package events

import "context"

// Streams
const (
	StreamEngagement = "events:engagement"
	StreamSearchJob  = "events:search_job"
	StreamEscrow     = "events:escrow"
)

// Event types
const (
	EventEngagementProposed  = "engagement.proposed"
	EventEngagementCountered = "engagement.countered"
	EventEngagementEdited    = "engagement.edited"
	EventEngagementAccepted  = "engagement.accepted"
	EventEngagementRejected  = "engagement.rejected"
	EventEngagementBooked    = "engagement.booked"

	EventJobSubmitted          = "search_job.submitted"
	EventJobPaymentRequested   = "search_job.payment_requested"
	EventJobDepositPaid        = "search_job.deposit_paid"
	EventJobBidSubmitted       = "search_job.bid_submitted"
	EventJobBidWithdrawn       = "search_job.bid_withdrawn"
	EventJobClaimed            = "search_job.claimed"
	EventJobEvidenceSubmitted  = "search_job.evidence_submitted"
	EventJobCompleted          = "search_job.completed"
	EventJobDisputed           = "search_job.disputed"
	EventJobArbitrated         = "search_job.arbitrated"
	EventJobForfeited          = "search_job.forfeited"
	EventJobCancelled          = "search_job.cancelled"
	EventJobExtensionRequested = "search_job.extension_requested"
	EventJobExtensionResolved  = "search_job.extension_resolved"

	EventEscrowHeld           = "escrow.held"
	EventEscrowReleased       = "escrow.released"
	EventEscrowRefunded       = "escrow.refunded"
	EventEscrowSplit          = "escrow.split"
	EventEscrowEffectDeferred = "escrow.effect_deferred"
)

// Event is a state-transition notification. Payload["recipients"] lists the
// user ids that should be told about it.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Recipients returns the user ids in Payload["recipients"], whether the event
// was built in-process or decoded from JSON.
func Recipients(event Event) []string {
	switch v := event.Payload["recipients"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
