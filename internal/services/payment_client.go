package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/models"
)

// PaymentClient reaches the payment gateway's internal API. Amounts are in
// minor units; the escrow id doubles as the gateway's reference.
type PaymentClient struct {
	c internalClient
}

func NewPaymentClient(baseURL string, log *zap.Logger) *PaymentClient {
	return &PaymentClient{c: newInternalClient("payment gateway", baseURL, 15*time.Second, log)}
}

type paymentRequest struct {
	EscrowID string `json:"escrow_id"`
	Amount   int64  `json:"amount"`
	PartyID  string `json:"party_id"`
}

func (p *PaymentClient) InitiateHold(ctx context.Context, escrowID uuid.UUID, amount models.Money, payerID uuid.UUID) error {
	return p.send(ctx, "hold", escrowID, amount, payerID)
}

func (p *PaymentClient) Disburse(ctx context.Context, escrowID uuid.UUID, amount models.Money, payeeID uuid.UUID) error {
	return p.send(ctx, "disburse", escrowID, amount, payeeID)
}

func (p *PaymentClient) Refund(ctx context.Context, escrowID uuid.UUID, amount models.Money, payerID uuid.UUID) error {
	return p.send(ctx, "refund", escrowID, amount, payerID)
}

func (p *PaymentClient) send(ctx context.Context, op string, escrowID uuid.UUID, amount models.Money, partyID uuid.UUID) error {
	key := fmt.Sprintf("%s:%s:%s", op, escrowID, partyID)
	return p.c.post(ctx, "/internal/escrow/"+op, key, paymentRequest{
		EscrowID: escrowID.String(),
		Amount:   int64(amount),
		PartyID:  partyID.String(),
	}, nil)
}
