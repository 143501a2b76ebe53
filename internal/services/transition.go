package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/models"
)

// transition describes one committed state change for the audit log and the
// event stream.
type transition struct {
	actorID    uuid.UUID
	actorType  string
	action     string
	entityType string
	entityID   uuid.UUID
	stream     string
	eventType  string
	meta       map[string]any
	notify     []uuid.UUID
}

type recorder struct {
	audit     AuditStore
	publisher events.Publisher
	log       *zap.Logger
}

// record is best effort: the transition is already durable.
func (r recorder) record(ctx context.Context, t transition) {
	var actor *uuid.UUID
	if t.actorID != uuid.Nil {
		id := t.actorID
		actor = &id
	}
	entityID := t.entityID
	if err := r.audit.Log(ctx, models.AuditLog{
		ActorID:    actor,
		ActorType:  t.actorType,
		Action:     t.action,
		EntityType: t.entityType,
		EntityID:   &entityID,
		Meta:       t.meta,
	}); err != nil {
		r.log.Warn("audit log write failed", zap.String("action", t.action), zap.Error(err))
	}

	payload := map[string]any{
		t.entityType + "_id": t.entityID.String(),
		"recipients":         recipients(t.notify...),
	}
	if t.actorID != uuid.Nil {
		payload["actor_id"] = t.actorID.String()
	}
	for k, v := range t.meta {
		payload[k] = v
	}
	_ = r.publisher.Publish(ctx, t.stream, events.Event{Type: t.eventType, Payload: payload})
}
