package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-core/internal/domain"
)

const escrowColumns = `id, user_id, account_id, contract_id, amount, currency,
	status, expires_at, wallet_ref, created_at, updated_at`

type EscrowRepository struct {
	db *sql.DB
}

func NewEscrowRepository(db *sql.DB) *EscrowRepository {
	return &EscrowRepository{db: db}
}

func (r *EscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.EscrowHold, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_holds WHERE id = $1`, id,
	)
	h, err := scanEscrowHold(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return h, nil
}

func (r *EscrowRepository) GetByIDForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.EscrowHold, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_holds WHERE id = $1 FOR UPDATE`, id,
	)
	h, err := scanEscrowHold(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIDForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByIDForUpdate: %w", err)
	}
	return h, nil
}

// Create relies on the (contract_id, user_id) unique index; callers map a
// unique violation to the duplicate-hold business error.
func (r *EscrowRepository) Create(ctx context.Context, tx *sql.Tx, hold *domain.EscrowHold) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO escrow_holds (
			id, user_id, account_id, contract_id, amount, currency,
			status, expires_at, wallet_ref, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		hold.ID, hold.UserID, hold.AccountID, hold.ContractID,
		hold.Amount, hold.Currency, hold.Status, hold.ExpiresAt,
		hold.WalletRef, hold.CreatedAt, hold.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *EscrowRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.EscrowStatus, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE escrow_holds SET status = $1, updated_at = $2 WHERE id = $3`,
		status, now, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

// ActiveHoldTotal sums held amounts on an account. When tx is non-nil the
// sum is read inside the caller's transaction so availability checks see a
// consistent snapshot with the locked account row.
func (r *EscrowRepository) ActiveHoldTotal(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) (int64, error) {
	const q = `SELECT COALESCE(SUM(amount), 0) FROM escrow_holds WHERE account_id = $1 AND status = 'held'`

	var total int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, q, accountID).Scan(&total)
	} else {
		err = r.db.QueryRowContext(ctx, q, accountID).Scan(&total)
	}
	if err != nil {
		return 0, fmt.Errorf("ActiveHoldTotal: %w", err)
	}
	return total, nil
}

func (r *EscrowRepository) GetExpired(ctx context.Context, now time.Time, limit int) ([]domain.EscrowHold, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_holds
		WHERE status = 'held' AND expires_at < $1
		ORDER BY expires_at LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetExpired: %w", err)
	}
	defer rows.Close()

	var holds []domain.EscrowHold
	for rows.Next() {
		h, err := scanEscrowHold(rows)
		if err != nil {
			return nil, fmt.Errorf("GetExpired: scan: %w", err)
		}
		holds = append(holds, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetExpired: rows: %w", err)
	}
	return holds, nil
}

func scanEscrowHold(s scanner) (*domain.EscrowHold, error) {
	var h domain.EscrowHold
	err := s.Scan(
		&h.ID, &h.UserID, &h.AccountID, &h.ContractID,
		&h.Amount, &h.Currency, &h.Status, &h.ExpiresAt,
		&h.WalletRef, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
