package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rental-marketplace/backend/internal/models"
)

type SearchJobRepo struct {
	pool *pgxpool.Pool
}

func NewSearchJobRepo(pool *pgxpool.Pool) *SearchJobRepo {
	return &SearchJobRepo{pool: pool}
}

type SearchJobFilter struct {
	TenantID  *uuid.UUID
	ClaimedBy *uuid.UUID
	Status    *models.SearchJobStatus
	Limit     int
	Offset    int
}

const searchJobColumns = `
	id, tenant_id, requirements, service_tier, number_of_options, status, deposit_amount,
	deposit_paid, deposit_paid_at, bids, claimed_by, claimed_at, deadline, timeframe_extensions,
	uploaded_evidence, dispute_reason, refund_requested_at, admin_review, forfeited_at,
	version, created_at, updated_at`

func scanSearchJob(row pgx.Row) (*models.SearchJob, error) {
	var j models.SearchJob
	err := row.Scan(&j.ID, &j.TenantID, &j.Requirements, &j.Tier, &j.NumberOfOptions, &j.Status, &j.DepositAmount,
		&j.DepositPaid, &j.DepositPaidAt, &j.Bids, &j.ClaimedBy, &j.ClaimedAt, &j.Deadline, &j.TimeframeExtensions,
		&j.UploadedEvidence, &j.DisputeReason, &j.RefundRequestedAt, &j.AdminReview, &j.ForfeitedAt,
		&j.Version, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *SearchJobRepo) Create(ctx context.Context, j *models.SearchJob) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO search_jobs (id, tenant_id, requirements, service_tier, number_of_options, status,
		                         deposit_amount, bids, timeframe_extensions, uploaded_evidence,
		                         version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, j.ID, j.TenantID, j.Requirements, j.Tier, j.NumberOfOptions, j.Status,
		j.DepositAmount, nonNil(j.Bids), nonNil(j.TimeframeExtensions), nonNil(j.UploadedEvidence),
		j.Version, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *SearchJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SearchJob, error) {
	j, err := scanSearchJob(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+searchJobColumns+` FROM search_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("search job %s: %w", id, models.ErrNotFound)
	}
	return j, err
}

// Update writes j if nobody else has since its Version was read.
func (r *SearchJobRepo) Update(ctx context.Context, j *models.SearchJob) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE search_jobs
		SET status = $1, deposit_paid = $2, deposit_paid_at = $3, bids = $4, claimed_by = $5, claimed_at = $6,
		    deadline = $7, timeframe_extensions = $8, uploaded_evidence = $9, dispute_reason = $10,
		    refund_requested_at = $11, admin_review = $12, forfeited_at = $13, updated_at = $14,
		    version = version + 1
		WHERE id = $15 AND version = $16
	`, j.Status, j.DepositPaid, j.DepositPaidAt, nonNil(j.Bids), j.ClaimedBy, j.ClaimedAt,
		j.Deadline, nonNil(j.TimeframeExtensions), nonNil(j.UploadedEvidence), j.DisputeReason,
		j.RefundRequestedAt, j.AdminReview, j.ForfeitedAt, j.UpdatedAt,
		j.ID, j.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("search job %s: %w", j.ID, models.ErrConflict)
	}
	j.Version++
	return nil
}

// ListOverdue returns claimed, undisputed jobs whose deadline is before now.
func (r *SearchJobRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]models.SearchJob, error) {
	return r.query(ctx, `
		SELECT `+searchJobColumns+` FROM search_jobs
		WHERE status IN ('IN_PROGRESS', 'PENDING_REVIEW')
		  AND deadline < $1
		  AND dispute_reason IS NULL
		  AND admin_review IS NULL
		ORDER BY deadline
		LIMIT $2
	`, now, clampLimit(limit))
}

// ListDisputed returns the arbitration queue, oldest dispute first.
func (r *SearchJobRepo) ListDisputed(ctx context.Context, limit int) ([]models.SearchJob, error) {
	return r.query(ctx, `
		SELECT `+searchJobColumns+` FROM search_jobs
		WHERE dispute_reason IS NOT NULL AND admin_review IS NULL AND status = 'PENDING_REVIEW'
		ORDER BY refund_requested_at
		LIMIT $1
	`, clampLimit(limit))
}

func (r *SearchJobRepo) List(ctx context.Context, f SearchJobFilter) ([]models.SearchJob, error) {
	query := `SELECT ` + searchJobColumns + ` FROM search_jobs`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.TenantID != nil {
		where = append(where, fmt.Sprintf("tenant_id = $%d", argIdx))
		args = append(args, *f.TenantID)
		argIdx++
	}
	if f.ClaimedBy != nil {
		where = append(where, fmt.Sprintf("claimed_by = $%d", argIdx))
		args = append(args, *f.ClaimedBy)
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
	return r.query(ctx, query, args...)
}

func (r *SearchJobRepo) query(ctx context.Context, query string, args ...any) ([]models.SearchJob, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchJob
	for rows.Next() {
		j, err := scanSearchJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// nonNil keeps JSONB array columns as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
