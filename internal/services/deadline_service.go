package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rental-marketplace/backend/internal/events"
	"github.com/rental-marketplace/backend/internal/lock"
	"github.com/rental-marketplace/backend/internal/models"
)

type Urgency string

const (
	UrgencyNormal  Urgency = "normal"
	UrgencyWarning Urgency = "warning"
	UrgencyUrgent  Urgency = "urgent"
	UrgencyExpired Urgency = "expired"
)

const (
	urgentFraction  = 0.20
	warningFraction = 0.40

	sweepBatch       = 100
	sweepParallelism = 8
)

// RemainingFraction is 1 - elapsed/window, clamped to [0, 1]. Unclaimed jobs
// have the whole window left.
func RemainingFraction(j *models.SearchJob, now time.Time) float64 {
	if j.ClaimedAt == nil || j.Deadline == nil {
		return 1
	}
	window := j.Deadline.Sub(*j.ClaimedAt)
	if window <= 0 {
		return 0
	}
	elapsed := float64(now.Sub(*j.ClaimedAt)) / float64(window)
	switch {
	case elapsed < 0:
		elapsed = 0
	case elapsed > 1:
		elapsed = 1
	}
	return 1 - elapsed
}

func Classify(j *models.SearchJob, now time.Time) Urgency {
	if j.Deadline != nil && now.After(*j.Deadline) {
		return UrgencyExpired
	}
	f := RemainingFraction(j, now)
	switch {
	case f < urgentFraction:
		return UrgencyUrgent
	case f < warningFraction:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

// DeadlineService governs extension requests and runs the expiry sweep.
type DeadlineService struct {
	jobs      jobMutator
	store     SearchJobStore
	lifecycle *SearchJobService
	rec       recorder
	log       *zap.Logger
}

func NewDeadlineService(
	store SearchJobStore,
	lifecycle *SearchJobService,
	locker lock.Locker,
	audit AuditStore,
	publisher events.Publisher,
	log *zap.Logger,
) *DeadlineService {
	return &DeadlineService{
		jobs:      jobMutator{store: store, locker: locker, now: func() time.Time { return time.Now().UTC() }},
		store:     store,
		lifecycle: lifecycle,
		rec:       recorder{audit: audit, publisher: publisher, log: log},
		log:       log,
	}
}

// RequestExtension asks the tenant for more time. Only one request may be
// pending at once and it must be made before the deadline.
func (s *DeadlineService) RequestExtension(ctx context.Context, id, hunterID uuid.UUID, hours int, reason string) (*models.SearchJob, *models.TimeframeExtension, error) {
	if hours <= 0 {
		return nil, nil, fmt.Errorf("%w: requested hours must be positive", models.ErrValidation)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, nil, fmt.Errorf("%w: extension reason is required", models.ErrValidation)
	}

	var ext models.TimeframeExtension
	j, err := s.jobs.mutate(ctx, id, func(j *models.SearchJob) error {
		if !j.IsClaimedBy(hunterID) {
			return fmt.Errorf("%w: only the claiming hunter may request an extension", models.ErrForbidden)
		}
		if j.Status != models.JobInProgress {
			return fmt.Errorf("%w: extensions can only be requested while in progress", models.ErrInvalidState)
		}
		now := s.jobs.now()
		if j.Deadline == nil || !now.Before(*j.Deadline) {
			return fmt.Errorf("search job %s: %w", j.ID, models.ErrDeadlinePassed)
		}
		if j.HasPendingExtension() {
			return fmt.Errorf("%w: an extension request is already pending", models.ErrInvalidState)
		}
		ext = models.TimeframeExtension{
			ID:             uuid.New(),
			RequestedHours: hours,
			Reason:         reason,
			Status:         models.ExtensionPending,
			RequestedAt:    now,
		}
		j.TimeframeExtensions = append(j.TimeframeExtensions, ext)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.rec.record(ctx, transition{
		actorID:    hunterID,
		actorType:  models.ActorTypeUser,
		action:     "search_job_extension_requested",
		entityType: "search_job",
		entityID:   j.ID,
		stream:     events.StreamSearchJob,
		eventType:  events.EventJobExtensionRequested,
		meta:       map[string]any{"extension_id": ext.ID.String(), "hours": hours},
		notify:     []uuid.UUID{j.TenantID},
	})
	return j, &ext, nil
}

// ResolveExtension approves or rejects a pending request. Approval pushes the
// deadline out by the requested hours.
func (s *DeadlineService) ResolveExtension(ctx context.Context, id, extID, tenantID uuid.UUID, approve bool) (*models.SearchJob, error) {
	var resolved models.TimeframeExtension
	j, err := s.jobs.mutate(ctx, id, func(j *models.SearchJob) error {
		if err := requireTenant(j, tenantID); err != nil {
			return err
		}
		ext := j.FindExtension(extID)
		if ext == nil {
			return fmt.Errorf("extension %s: %w", extID, models.ErrExtensionNotFound)
		}
		if ext.Status != models.ExtensionPending {
			return fmt.Errorf("%w: extension already %s", models.ErrInvalidState, ext.Status)
		}
		if j.Status != models.JobInProgress {
			return fmt.Errorf("%w: search job is %s", models.ErrInvalidState, j.Status)
		}
		now := s.jobs.now()
		if j.Deadline == nil || now.After(*j.Deadline) {
			return fmt.Errorf("search job %s: %w", j.ID, models.ErrDeadlinePassed)
		}
		ext.ResolvedAt = &now
		if approve {
			ext.Status = models.ExtensionApproved
			deadline := j.Deadline.Add(time.Duration(ext.RequestedHours) * time.Hour)
			j.Deadline = &deadline
		} else {
			ext.Status = models.ExtensionRejected
		}
		resolved = *ext
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.rec.record(ctx, transition{
		actorID:    tenantID,
		actorType:  models.ActorTypeUser,
		action:     "search_job_extension_" + string(resolved.Status),
		entityType: "search_job",
		entityID:   j.ID,
		stream:     events.StreamSearchJob,
		eventType:  events.EventJobExtensionResolved,
		meta: map[string]any{
			"extension_id": extID.String(),
			"status":       string(resolved.Status),
			"deadline":     j.Deadline.Format(time.RFC3339),
		},
		notify: []uuid.UUID{*j.ClaimedBy},
	})
	return j, nil
}

// Sweep runs CheckExpiry over every overdue job and returns how many were
// forfeited. A failure on one job does not stop the others.
func (s *DeadlineService) Sweep(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.store.ListOverdue(ctx, now, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list overdue jobs: %w", err)
	}

	var forfeited atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepParallelism)
	for _, j := range overdue {
		id := j.ID
		g.Go(func() error {
			ok, err := s.lifecycle.CheckExpiry(gctx, id, now)
			if err != nil {
				s.log.Error("expiry check failed", zap.String("job_id", id.String()), zap.Error(err))
				return nil
			}
			if ok {
				forfeited.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(forfeited.Load()), ctx.Err()
}
