package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/meridianbank/ledger-core/internal/domain"
)

const instrumentColumns = `id, user_id, card_number, credit_limit, available_credit, version, created_at`

type CreditInstrumentRepository struct {
	db *sql.DB
}

func NewCreditInstrumentRepository(db *sql.DB) *CreditInstrumentRepository {
	return &CreditInstrumentRepository{db: db}
}

func (r *CreditInstrumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.CreditInstrument, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+instrumentColumns+` FROM credit_instruments WHERE id = $1`, id,
	)
	c, err := scanInstrument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return c, nil
}

func (r *CreditInstrumentRepository) Create(ctx context.Context, instrument *domain.CreditInstrument) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO credit_instruments (id, user_id, card_number, credit_limit, available_credit, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		instrument.ID, instrument.UserID, instrument.CardNumber,
		instrument.CreditLimit, instrument.AvailableCredit,
		instrument.Version, instrument.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *CreditInstrumentRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.CreditInstrument, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+instrumentColumns+` FROM credit_instruments WHERE id = $1 FOR UPDATE`, id,
	)
	c, err := scanInstrument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return c, nil
}

func (r *CreditInstrumentRepository) UpdateAvailableCredit(ctx context.Context, tx *sql.Tx, id uuid.UUID, newAvailable int64, newVersion int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE credit_instruments SET available_credit = $1, version = $2 WHERE id = $3 AND version = $4`,
		newAvailable, newVersion, id, newVersion-1,
	)
	if err != nil {
		return fmt.Errorf("UpdateAvailableCredit: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateAvailableCredit: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateAvailableCredit: %w", domain.ErrVersionConflict)
	}
	return nil
}

func scanInstrument(s scanner) (*domain.CreditInstrument, error) {
	var c domain.CreditInstrument
	err := s.Scan(
		&c.ID, &c.UserID, &c.CardNumber,
		&c.CreditLimit, &c.AvailableCredit,
		&c.Version, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
