package dto

import (
	"encoding/json"
	"strings"

	"github.com/rental-marketplace/backend/internal/models"
)

// LocationInput accepts a bare string or a JSON object, see models.ParseLocation.
type LocationInput json.RawMessage

func (l LocationInput) Parse() (models.Location, error) {
	raw := strings.TrimSpace(string(l))
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return models.Location{}, err
		}
		raw = s
	}
	return models.ParseLocation(raw)
}

func (l *LocationInput) UnmarshalJSON(data []byte) error {
	*l = append((*l)[:0], data...)
	return nil
}

type SlotRequest struct {
	Date     string `json:"date"`
	TimeSlot string `json:"time_slot"`
}

func ToSlots(in []SlotRequest) []models.Slot {
	out := make([]models.Slot, 0, len(in))
	for _, s := range in {
		out = append(out, models.Slot{Date: s.Date, TimeSlot: s.TimeSlot})
	}
	return out
}

type CreateEngagementRequest struct {
	PropertyID string        `json:"property_id"`
	HunterID   string        `json:"hunter_id"`
	Slots      []SlotRequest `json:"slots"`
	Amount     int64         `json:"amount"`
}

type ProposeRequest struct {
	Slots []SlotRequest `json:"slots"`
}

type CounterRequest struct {
	Date     string        `json:"date"`
	TimeSlot string        `json:"time_slot"`
	Location LocationInput `json:"location"`
	Reason   string        `json:"reason,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

type SubmitSearchJobRequest struct {
	Tier         string   `json:"service_tier"`
	Areas        []string `json:"areas"`
	BudgetMin    int64    `json:"budget_min"`
	BudgetMax    int64    `json:"budget_max"`
	PropertyType string   `json:"property_type"`
	MustHaves    []string `json:"must_haves,omitempty"`
	DealBreakers []string `json:"deal_breakers,omitempty"`
	Additional   string   `json:"additional_info,omitempty"`
}

type SubmitBidRequest struct {
	Price                 int64  `json:"price"`
	PromisedDeliveryHours int    `json:"promised_delivery_hours"`
	BonusOffer            string `json:"bonus_offer,omitempty"`
}

type EvidenceItem struct {
	Photos      []string `json:"photos"`
	Description string   `json:"description"`
	MatchScore  int      `json:"match_score"`
}

type SubmitEvidenceRequest struct {
	Items []EvidenceItem `json:"items"`
}

type DisputeRequest struct {
	Reason string `json:"reason"`
}

type ExtensionRequest struct {
	Hours  int    `json:"hours"`
	Reason string `json:"reason"`
}

type ResolveExtensionRequest struct {
	Approve bool `json:"approve"`
}

type DecideRequest struct {
	Decision        string `json:"decision"`
	SplitPercentage *int   `json:"split_percentage,omitempty"`
	Reasoning       string `json:"reasoning"`
}

type AuthAssertionRequest struct {
	Assertion string `json:"assertion"`
}
