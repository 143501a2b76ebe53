package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EngagementStatus string

// Engagement statuses
const (
	EngagementPending   EngagementStatus = "PENDING"
	EngagementCountered EngagementStatus = "COUNTERED"
	EngagementAccepted  EngagementStatus = "ACCEPTED"
	EngagementRejected  EngagementStatus = "REJECTED"
)

type PaymentState string

const (
	PaymentEscrow   PaymentState = "ESCROW"
	PaymentReleased PaymentState = "RELEASED"
	PaymentRefunded PaymentState = "REFUNDED"
)

// Valid engagement transitions: from -> []to
var ValidEngagementTransitions = map[EngagementStatus][]EngagementStatus{
	EngagementPending:   {EngagementCountered, EngagementAccepted, EngagementRejected},
	EngagementCountered: {EngagementCountered, EngagementAccepted, EngagementRejected},
	EngagementAccepted:  {},
	EngagementRejected:  {},
}

func IsValidEngagementTransition(from, to EngagementStatus) bool {
	for _, s := range ValidEngagementTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Slot is a proposed viewing date and time, e.g. {"2025-01-10", "10:00"}.
type Slot struct {
	Date     string `json:"date"`
	TimeSlot string `json:"time_slot"`
}

func (s Slot) Validate() error {
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if _, err := time.Parse(TimeLayout, s.TimeSlot); err != nil {
		return fmt.Errorf("%w: time slot must be HH:MM", ErrValidation)
	}
	return nil
}

type CounterProposal struct {
	Date       string    `json:"date"`
	TimeSlot   string    `json:"time_slot"`
	Location   Location  `json:"location"`
	ProposedBy uuid.UUID `json:"proposed_by"`
	Reason     string    `json:"reason,omitempty"`
	ProposedAt time.Time `json:"proposed_at"`
}

// Proposal is the set of terms a party puts forward when countering or editing.
type Proposal struct {
	Date     string   `json:"date"`
	TimeSlot string   `json:"time_slot"`
	Location Location `json:"location"`
	Reason   string   `json:"reason,omitempty"`
}

func (p Proposal) Validate() error {
	if err := (Slot{Date: p.Date, TimeSlot: p.TimeSlot}).Validate(); err != nil {
		return err
	}
	return p.Location.Validate()
}

type Engagement struct {
	ID            uuid.UUID        `json:"id"`
	PropertyID    uuid.UUID        `json:"property_id"`
	TenantID      uuid.UUID        `json:"tenant_id"`
	HunterID      uuid.UUID        `json:"hunter_id"`
	Status        EngagementStatus `json:"status"`
	ProposedSlots []Slot           `json:"proposed_slots"`
	Counter       *CounterProposal `json:"counter_proposal,omitempty"`
	PaymentState  PaymentState     `json:"payment_state"`
	Amount        Money            `json:"amount"`
	LastActorID   uuid.UUID        `json:"last_actor_id"`
	BookingID     *string          `json:"booking_id,omitempty"`
	RejectReason  *string          `json:"reject_reason,omitempty"`
	Version       int              `json:"version"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (e *Engagement) IsParty(actorID uuid.UUID) bool {
	return actorID == e.TenantID || actorID == e.HunterID
}

func (e *Engagement) IsTerminal() bool {
	return e.Status == EngagementAccepted || e.Status == EngagementRejected
}

// CheckTurn is the single authority on whether actorID may make the next
// proposal-type move (counter or accept).
func (e *Engagement) CheckTurn(actorID uuid.UUID) error {
	if !e.IsParty(actorID) {
		return fmt.Errorf("%w: actor is not a party to this engagement", ErrForbidden)
	}
	if e.IsTerminal() {
		return fmt.Errorf("%w: engagement is %s", ErrInvalidState, e.Status)
	}
	if actorID == e.LastActorID {
		return fmt.Errorf("%w: waiting for the other party to respond", ErrNotYourTurn)
	}
	return nil
}

// ActiveSchedule returns the terms currently on the table: the counter
// proposal if there is one, otherwise the first slot proposed by the tenant
// at the property itself.
func (e *Engagement) ActiveSchedule() (Slot, Location) {
	if e.Counter != nil {
		return Slot{Date: e.Counter.Date, TimeSlot: e.Counter.TimeSlot}, e.Counter.Location
	}
	var slot Slot
	if len(e.ProposedSlots) > 0 {
		slot = e.ProposedSlots[0]
	}
	return slot, Location{Kind: LocationProperty, Name: e.PropertyID.String()}
}

func (e *Engagement) Clone() *Engagement {
	c := *e
	c.ProposedSlots = append([]Slot(nil), e.ProposedSlots...)
	if e.Counter != nil {
		cp := *e.Counter
		c.Counter = &cp
	}
	if e.BookingID != nil {
		b := *e.BookingID
		c.BookingID = &b
	}
	if e.RejectReason != nil {
		r := *e.RejectReason
		c.RejectReason = &r
	}
	return &c
}

// BookingRequest is what the booking materializer needs once terms are agreed.
type BookingRequest struct {
	EngagementID  uuid.UUID `json:"engagement_id"`
	PropertyID    uuid.UUID `json:"property_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	HunterID      uuid.UUID `json:"hunter_id"`
	ScheduledDate string    `json:"scheduled_date"`
	ScheduledTime string    `json:"scheduled_time"`
	Location      Location  `json:"location"`
}
