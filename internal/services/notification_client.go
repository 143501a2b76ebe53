package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/events"
)

// NotificationClient forwards transition events to the notification service,
// which owns formatting and delivery.
type NotificationClient struct {
	c internalClient
}

func NewNotificationClient(baseURL string, log *zap.Logger) *NotificationClient {
	return &NotificationClient{c: newInternalClient("notification service", baseURL, 15*time.Second, log)}
}

type notifyRequest struct {
	UserID string         `json:"user_id"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data"`
}

// Notify sends event to each of its recipients. It returns the first error
// but still tries every recipient.
func (n *NotificationClient) Notify(ctx context.Context, event events.Event) error {
	var firstErr error
	for _, userID := range events.Recipients(event) {
		err := n.c.post(ctx, "/internal/notify", "", notifyRequest{
			UserID: userID,
			Type:   event.Type,
			Data:   event.Payload,
		}, nil)
		if err != nil {
			n.c.log.Warn("notification failed",
				zap.String("user_id", userID),
				zap.String("event", event.Type),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
