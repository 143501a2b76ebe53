package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rental-marketplace/backend/internal/models"
)

const pgUniqueViolation = "23505"

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// Append records tx. The unique indexes on escrow_transactions turn a second
// hold or a second disbursement into ErrDuplicateHold / ErrAlreadySettled.
func (r *EscrowRepo) Append(ctx context.Context, tx *models.EscrowTransaction) error {
	var legs any
	if len(tx.Legs) > 0 {
		legs = tx.Legs
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO escrow_transactions (id, escrow_id, kind, amount, counterparty_id, legs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tx.ID, tx.EscrowID, tx.Kind, tx.Amount, tx.CounterpartyID, legs, tx.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case "escrow_one_hold":
			return fmt.Errorf("escrow %s: %w", tx.EscrowID, models.ErrDuplicateHold)
		case "escrow_one_settlement":
			return fmt.Errorf("escrow %s: %w", tx.EscrowID, models.ErrAlreadySettled)
		}
	}
	return err
}

func (r *EscrowRepo) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.EscrowTransaction, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, escrow_id, kind, amount, counterparty_id, legs, created_at
		FROM escrow_transactions WHERE escrow_id = $1
		ORDER BY created_at, kind = 'HOLD' DESC
	`, escrowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.EscrowTransaction
	for rows.Next() {
		var t models.EscrowTransaction
		if err := rows.Scan(&t.ID, &t.EscrowID, &t.Kind, &t.Amount, &t.CounterpartyID, &t.Legs, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
