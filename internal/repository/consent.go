package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/meridianbank/ledger-core/internal/domain"
)

const consentColumns = `id, token, instrument_id, merchant_id, merchant_name,
	max_amount, expires_at, revoked_at, created_at`

type ConsentRepository struct {
	db *sql.DB
}

func NewConsentRepository(db *sql.DB) *ConsentRepository {
	return &ConsentRepository{db: db}
}

func (r *ConsentRepository) GetByToken(ctx context.Context, token string) (*domain.PaymentConsent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+consentColumns+` FROM payment_consents WHERE token = $1`, token,
	)
	c, err := scanConsent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByToken: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByToken: %w", err)
	}
	return c, nil
}

func (r *ConsentRepository) Create(ctx context.Context, consent *domain.PaymentConsent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_consents (
			id, token, instrument_id, merchant_id, merchant_name,
			max_amount, expires_at, revoked_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		consent.ID, consent.Token, consent.InstrumentID,
		consent.MerchantID, consent.MerchantName,
		consent.MaxAmount, consent.ExpiresAt, consent.RevokedAt, consent.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func scanConsent(s scanner) (*domain.PaymentConsent, error) {
	var c domain.PaymentConsent
	err := s.Scan(
		&c.ID, &c.Token, &c.InstrumentID, &c.MerchantID, &c.MerchantName,
		&c.MaxAmount, &c.ExpiresAt, &c.RevokedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
