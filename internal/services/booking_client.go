package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/models"
)

// BookingClient asks the booking service to materialize an agreed viewing.
type BookingClient struct {
	c internalClient
}

func NewBookingClient(baseURL string, log *zap.Logger) *BookingClient {
	return &BookingClient{c: newInternalClient("booking service", baseURL, 15*time.Second, log)}
}

type bookingResult struct {
	BookingID string `json:"booking_id"`
}

func (b *BookingClient) Materialize(ctx context.Context, req models.BookingRequest) (string, error) {
	var res bookingResult
	if err := b.c.post(ctx, "/internal/bookings", "booking:"+req.EngagementID.String(), req, &res); err != nil {
		return "", err
	}
	return res.BookingID, nil
}
