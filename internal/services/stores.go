package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rental-marketplace/backend/internal/models"
	"github.com/rental-marketplace/backend/internal/repositories"
)

// Stores are declared here so services run against either the pgx repositories
// or the in-memory ones.

type EngagementStore interface {
	Create(ctx context.Context, e *models.Engagement) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Engagement, error)
	Update(ctx context.Context, e *models.Engagement) error
	List(ctx context.Context, f repositories.EngagementFilter) ([]models.Engagement, error)
}

type SearchJobStore interface {
	Create(ctx context.Context, j *models.SearchJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SearchJob, error)
	Update(ctx context.Context, j *models.SearchJob) error
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.SearchJob, error)
	ListDisputed(ctx context.Context, limit int) ([]models.SearchJob, error)
	List(ctx context.Context, f repositories.SearchJobFilter) ([]models.SearchJob, error)
}

type EscrowStore interface {
	Append(ctx context.Context, tx *models.EscrowTransaction) error
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.EscrowTransaction, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// TxRunner makes the writes fn performs through ctx all-or-nothing.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var (
	_ TxRunner        = (*repositories.TxManager)(nil)
	_ TxRunner        = (*repositories.MemoryTxManager)(nil)
	_ EngagementStore = (*repositories.EngagementRepo)(nil)
	_ EngagementStore = (*repositories.MemoryEngagementRepo)(nil)
	_ SearchJobStore  = (*repositories.SearchJobRepo)(nil)
	_ SearchJobStore  = (*repositories.MemorySearchJobRepo)(nil)
	_ EscrowStore     = (*repositories.EscrowRepo)(nil)
	_ EscrowStore     = (*repositories.MemoryEscrowRepo)(nil)
	_ AuditStore      = (*repositories.AuditRepo)(nil)
	_ AuditStore      = (*repositories.MemoryAuditRepo)(nil)
)

func recipients(ids ...uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != uuid.Nil {
			out = append(out, id.String())
		}
	}
	return out
}
