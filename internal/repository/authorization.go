package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meridianbank/ledger-core/internal/domain"
)

const holdColumns = `id, code, consent_id, instrument_id, amount, captured_amount,
	currency, merchant_id, merchant_name, order_id, status, expires_at,
	created_at, updated_at`

type AuthorizationRepository struct {
	db *sql.DB
}

func NewAuthorizationRepository(db *sql.DB) *AuthorizationRepository {
	return &AuthorizationRepository{db: db}
}

func (r *AuthorizationRepository) GetByCode(ctx context.Context, code string) (*domain.AuthorizationHold, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM authorization_holds WHERE code = $1`, code,
	)
	h, err := scanHold(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByCode: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByCode: %w", err)
	}
	return h, nil
}

// GetByCodeForUpdate locks the hold row so concurrent capture/void/refund
// calls on the same code serialize on the status guard.
func (r *AuthorizationRepository) GetByCodeForUpdate(ctx context.Context, tx *sql.Tx, code string) (*domain.AuthorizationHold, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM authorization_holds WHERE code = $1 FOR UPDATE`, code,
	)
	h, err := scanHold(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByCodeForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByCodeForUpdate: %w", err)
	}
	return h, nil
}

func (r *AuthorizationRepository) Create(ctx context.Context, tx *sql.Tx, hold *domain.AuthorizationHold) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO authorization_holds (
			id, code, consent_id, instrument_id, amount, captured_amount,
			currency, merchant_id, merchant_name, order_id, status, expires_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		hold.ID, hold.Code, hold.ConsentID, hold.InstrumentID,
		hold.Amount, hold.CapturedAmount, hold.Currency,
		hold.MerchantID, hold.MerchantName, hold.OrderID,
		hold.Status, hold.ExpiresAt, hold.CreatedAt, hold.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *AuthorizationRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, code string, status domain.AuthorizationStatus, capturedAmount int64, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE authorization_holds SET status = $1, captured_amount = $2, updated_at = $3 WHERE code = $4`,
		status, capturedAmount, now, code,
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

func scanHold(s scanner) (*domain.AuthorizationHold, error) {
	var h domain.AuthorizationHold
	err := s.Scan(
		&h.ID, &h.Code, &h.ConsentID, &h.InstrumentID,
		&h.Amount, &h.CapturedAmount, &h.Currency,
		&h.MerchantID, &h.MerchantName, &h.OrderID,
		&h.Status, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}
