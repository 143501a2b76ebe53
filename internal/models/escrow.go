package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Money is an amount in the smallest currency unit.
type Money int64

func (m Money) String() string {
	return fmt.Sprintf("%d", int64(m))
}

type EscrowTxKind string

const (
	EscrowHold    EscrowTxKind = "HOLD"
	EscrowRelease EscrowTxKind = "RELEASE"
	EscrowRefund  EscrowTxKind = "REFUND"
	EscrowSplit   EscrowTxKind = "SPLIT"
)

// EscrowLeg is one payee's share of a disbursement.
type EscrowLeg struct {
	PayeeID uuid.UUID `json:"payee_id"`
	Amount  Money     `json:"amount"`
}

// EscrowTransaction is an append-only ledger entry. EscrowID is the id of the
// engagement or search job the funds are held against.
type EscrowTransaction struct {
	ID             uuid.UUID    `json:"id"`
	EscrowID       uuid.UUID    `json:"escrow_id"`
	Kind           EscrowTxKind `json:"kind"`
	Amount         Money        `json:"amount"`
	CounterpartyID uuid.UUID    `json:"counterparty_id"`
	Legs           []EscrowLeg  `json:"legs,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (t EscrowTransaction) IsDisbursement() bool {
	return t.Kind == EscrowRelease || t.Kind == EscrowRefund || t.Kind == EscrowSplit
}

type EscrowBalance struct {
	EscrowID  uuid.UUID    `json:"escrow_id"`
	Held      Money        `json:"held"`
	Disbursed Money        `json:"disbursed"`
	Remaining Money        `json:"remaining"`
	HasHold   bool         `json:"has_hold"`
	Settled   bool         `json:"settled"`
	SettledBy EscrowTxKind `json:"settled_by,omitempty"`
}

// SummarizeEscrow folds the transactions of a single escrow into its balance.
func SummarizeEscrow(escrowID uuid.UUID, txs []EscrowTransaction) EscrowBalance {
	b := EscrowBalance{EscrowID: escrowID}
	for _, tx := range txs {
		switch {
		case tx.Kind == EscrowHold:
			b.Held += tx.Amount
			b.HasHold = true
		case tx.IsDisbursement():
			b.Disbursed += tx.Amount
			b.Settled = true
			b.SettledBy = tx.Kind
		}
	}
	b.Remaining = b.Held - b.Disbursed
	return b
}
