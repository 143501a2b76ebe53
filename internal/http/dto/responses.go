package dto

import "github.com/rental-marketplace/backend/internal/models"

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// SearchJobView adds the deadline readout to a job.
type SearchJobView struct {
	*models.SearchJob
	RemainingFraction float64 `json:"remaining_fraction"`
	Urgency           string  `json:"urgency"`
}

type EscrowView struct {
	Balance      models.EscrowBalance       `json:"balance"`
	Transactions []models.EscrowTransaction `json:"transactions"`
}

type TierView struct {
	Tier            models.ServiceTier `json:"tier"`
	WindowHours     int                `json:"window_hours"`
	NumberOfOptions int                `json:"number_of_options"`
	Deposit         models.Money       `json:"deposit"`
}

type AuthResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
