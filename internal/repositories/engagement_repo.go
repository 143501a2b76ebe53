package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rental-marketplace/backend/internal/models"
)

type EngagementRepo struct {
	pool *pgxpool.Pool
}

func NewEngagementRepo(pool *pgxpool.Pool) *EngagementRepo {
	return &EngagementRepo{pool: pool}
}

type EngagementFilter struct {
	PartyID *uuid.UUID // tenant or hunter
	Status  *models.EngagementStatus
	Limit   int
	Offset  int
}

const engagementColumns = `
	id, property_id, tenant_id, hunter_id, status, proposed_slots, counter_proposal,
	payment_state, amount, last_actor_id, booking_id, reject_reason, version, created_at, updated_at`

func scanEngagement(row pgx.Row) (*models.Engagement, error) {
	var e models.Engagement
	err := row.Scan(&e.ID, &e.PropertyID, &e.TenantID, &e.HunterID, &e.Status, &e.ProposedSlots, &e.Counter,
		&e.PaymentState, &e.Amount, &e.LastActorID, &e.BookingID, &e.RejectReason, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EngagementRepo) Create(ctx context.Context, e *models.Engagement) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO engagements (id, property_id, tenant_id, hunter_id, status, proposed_slots, counter_proposal,
		                         payment_state, amount, last_actor_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, e.PropertyID, e.TenantID, e.HunterID, e.Status, e.ProposedSlots, e.Counter,
		e.PaymentState, e.Amount, e.LastActorID, e.Version, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r *EngagementRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Engagement, error) {
	e, err := scanEngagement(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+engagementColumns+` FROM engagements WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("engagement %s: %w", id, models.ErrNotFound)
	}
	return e, err
}

// Update writes e if nobody else has since its Version was read.
func (r *EngagementRepo) Update(ctx context.Context, e *models.Engagement) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE engagements
		SET status = $1, proposed_slots = $2, counter_proposal = $3, payment_state = $4,
		    last_actor_id = $5, booking_id = $6, reject_reason = $7, updated_at = $8, version = version + 1
		WHERE id = $9 AND version = $10
	`, e.Status, e.ProposedSlots, e.Counter, e.PaymentState,
		e.LastActorID, e.BookingID, e.RejectReason, e.UpdatedAt, e.ID, e.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("engagement %s: %w", e.ID, models.ErrConflict)
	}
	e.Version++
	return nil
}

func (r *EngagementRepo) List(ctx context.Context, f EngagementFilter) ([]models.Engagement, error) {
	query := `SELECT ` + engagementColumns + ` FROM engagements`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.PartyID != nil {
		where = append(where, fmt.Sprintf("(tenant_id = $%d OR hunter_id = $%d)", argIdx, argIdx))
		args = append(args, *f.PartyID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, clampLimit(f.Limit), f.Offset)

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Engagement
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
