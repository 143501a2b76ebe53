package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rental-marketplace/backend/internal/models"
)

// In-memory stores with the same contracts as the Postgres repos. Used by
// tests and by the api when POSTGRES_DSN is unset.

type MemoryEngagementRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Engagement
}

func NewMemoryEngagementRepo() *MemoryEngagementRepo {
	return &MemoryEngagementRepo{rows: map[uuid.UUID]*models.Engagement{}}
}

func (r *MemoryEngagementRepo) Create(ctx context.Context, e *models.Engagement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[e.ID]; ok {
		return fmt.Errorf("engagement %s: %w", e.ID, models.ErrConflict)
	}
	r.rows[e.ID] = e.Clone()
	id := e.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.rows, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryEngagementRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("engagement %s: %w", id, models.ErrNotFound)
	}
	return e.Clone(), nil
}

func (r *MemoryEngagementRepo) Update(ctx context.Context, e *models.Engagement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[e.ID]
	if !ok {
		return fmt.Errorf("engagement %s: %w", e.ID, models.ErrNotFound)
	}
	if cur.Version != e.Version {
		return fmt.Errorf("engagement %s: %w", e.ID, models.ErrConflict)
	}
	e.Version++
	r.rows[e.ID] = e.Clone()
	onRollback(ctx, func() {
		r.mu.Lock()
		r.rows[cur.ID] = cur
		r.mu.Unlock()
	})
	return nil
}

func (r *MemoryEngagementRepo) List(_ context.Context, f EngagementFilter) ([]models.Engagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Engagement
	for _, e := range r.rows {
		if f.PartyID != nil && !e.IsParty(*f.PartyID) {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		out = append(out, *e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

type MemorySearchJobRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.SearchJob
}

func NewMemorySearchJobRepo() *MemorySearchJobRepo {
	return &MemorySearchJobRepo{rows: map[uuid.UUID]*models.SearchJob{}}
}

func (r *MemorySearchJobRepo) Create(ctx context.Context, j *models.SearchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[j.ID]; ok {
		return fmt.Errorf("search job %s: %w", j.ID, models.ErrConflict)
	}
	r.rows[j.ID] = j.Clone()
	id := j.ID
	onRollback(ctx, func() {
		r.mu.Lock()
		delete(r.rows, id)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemorySearchJobRepo) GetByID(_ context.Context, id uuid.UUID) (*models.SearchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("search job %s: %w", id, models.ErrNotFound)
	}
	return j.Clone(), nil
}

func (r *MemorySearchJobRepo) Update(ctx context.Context, j *models.SearchJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[j.ID]
	if !ok {
		return fmt.Errorf("search job %s: %w", j.ID, models.ErrNotFound)
	}
	if cur.Version != j.Version {
		return fmt.Errorf("search job %s: %w", j.ID, models.ErrConflict)
	}
	j.Version++
	r.rows[j.ID] = j.Clone()
	onRollback(ctx, func() {
		r.mu.Lock()
		r.rows[cur.ID] = cur
		r.mu.Unlock()
	})
	return nil
}

func (r *MemorySearchJobRepo) ListOverdue(_ context.Context, now time.Time, limit int) ([]models.SearchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SearchJob
	for _, j := range r.rows {
		if j.ShouldForfeit(now) {
			out = append(out, *j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Deadline.Before(*out[k].Deadline) })
	return page(out, limit, 0), nil
}

func (r *MemorySearchJobRepo) ListDisputed(_ context.Context, limit int) ([]models.SearchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SearchJob
	for _, j := range r.rows {
		if j.IsDisputed() && j.AdminReview == nil && j.Status == models.JobPendingReview {
			out = append(out, *j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].RefundRequestedAt.Before(*out[k].RefundRequestedAt)
	})
	return page(out, limit, 0), nil
}

func (r *MemorySearchJobRepo) List(_ context.Context, f SearchJobFilter) ([]models.SearchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SearchJob
	for _, j := range r.rows {
		if f.TenantID != nil && j.TenantID != *f.TenantID {
			continue
		}
		if f.ClaimedBy != nil && !j.IsClaimedBy(*f.ClaimedBy) {
			continue
		}
		if f.Status != nil && j.Status != *f.Status {
			continue
		}
		out = append(out, *j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

type MemoryEscrowRepo struct {
	mu   sync.Mutex
	rows []models.EscrowTransaction
}

func NewMemoryEscrowRepo() *MemoryEscrowRepo {
	return &MemoryEscrowRepo{}
}

func (r *MemoryEscrowRepo) Append(ctx context.Context, tx *models.EscrowTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.EscrowID != tx.EscrowID {
			continue
		}
		if row.Kind == models.EscrowHold && tx.Kind == models.EscrowHold {
			return fmt.Errorf("escrow %s: %w", tx.EscrowID, models.ErrDuplicateHold)
		}
		if row.IsDisbursement() && tx.IsDisbursement() {
			return fmt.Errorf("escrow %s: %w", tx.EscrowID, models.ErrAlreadySettled)
		}
	}
	c := *tx
	c.Legs = append([]models.EscrowLeg(nil), tx.Legs...)
	r.rows = append(r.rows, c)
	onRollback(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i := range r.rows {
			if r.rows[i].ID == c.ID {
				r.rows = append(r.rows[:i], r.rows[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r *MemoryEscrowRepo) ListByEscrow(_ context.Context, escrowID uuid.UUID) ([]models.EscrowTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EscrowTransaction
	for _, row := range r.rows {
		if row.EscrowID == escrowID {
			out = append(out, row)
		}
	}
	return out, nil
}

type MemoryAuditRepo struct {
	mu   sync.Mutex
	rows []models.AuditLog
}

func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{}
}

func (r *MemoryAuditRepo) Log(_ context.Context, entry models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.rows = append(r.rows, entry)
	return nil
}

func (r *MemoryAuditRepo) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditLog
	for i := len(r.rows) - 1; i >= 0; i-- {
		l := r.rows[i]
		if l.EntityType == entityType && l.EntityID != nil && *l.EntityID == entityID {
			out = append(out, l)
		}
	}
	if limit <= 0 {
		limit = 50
	}
	return page(out, limit, offset), nil
}

func page[T any](rows []T, limit, offset int) []T {
	limit = clampLimit(limit)
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
