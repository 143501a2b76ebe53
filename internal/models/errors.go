package models

import "errors"

// State errors.
var (
	ErrInvalidState    = errors.New("invalid state")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrAlreadyClaimed  = errors.New("already claimed")
	ErrAlreadySettled  = errors.New("already settled")
	ErrAlreadyReviewed = errors.New("already reviewed")
	ErrDuplicateBid    = errors.New("duplicate bid")
	ErrDuplicateHold   = errors.New("duplicate hold")
	ErrNotEscrowed     = errors.New("payment not in escrow")
	ErrDeadlinePassed  = errors.New("deadline passed")
	ErrEvidenceCap     = errors.New("evidence cap reached")
)

// Validation errors.
var (
	ErrValidation        = errors.New("validation failed")
	ErrSplitMismatch     = errors.New("split does not match balance")
	ErrInvalidPercentage = errors.New("split percentage out of range")
)

// Not-found and access errors.
var (
	ErrNotFound          = errors.New("not found")
	ErrBidNotFound       = errors.New("bid not found")
	ErrExtensionNotFound = errors.New("extension not found")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("concurrent modification")
)

// ErrorCode returns a stable machine-readable code for err so callers can tell
// "wait for the other party" apart from "this request is already closed".
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrAlreadySettled):
		return "already_settled"
	case errors.Is(err, ErrAlreadyReviewed):
		return "already_reviewed"
	case errors.Is(err, ErrDuplicateBid):
		return "duplicate_bid"
	case errors.Is(err, ErrDuplicateHold):
		return "duplicate_hold"
	case errors.Is(err, ErrNotEscrowed):
		return "not_escrowed"
	case errors.Is(err, ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, ErrEvidenceCap):
		return "evidence_cap_reached"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrSplitMismatch):
		return "split_mismatch"
	case errors.Is(err, ErrInvalidPercentage):
		return "invalid_percentage"
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrBidNotFound):
		return "bid_not_found"
	case errors.Is(err, ErrExtensionNotFound):
		return "extension_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
