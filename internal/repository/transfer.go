package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/meridianbank/ledger-core/internal/domain"
)

const transferColumns = `id, external_id, direction, user_id, account_id, amount,
	fee_amount, fee_account_id, ledger_entry_id, status, error_code, error_message,
	balance_after, created_at`

type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(db *sql.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.P2PTransfer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM p2p_transfers WHERE external_id = $1`, externalID,
	)
	t, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByExternalID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByExternalID: %w", err)
	}
	return t, nil
}

// Create inserts a transfer record inside the caller's transaction. The
// unique index on external_id closes the race between two concurrent
// requests carrying the same idempotency key; callers check
// IsUniqueViolation and replay the stored record.
func (r *TransferRepository) Create(ctx context.Context, tx *sql.Tx, transfer *domain.P2PTransfer) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO p2p_transfers (
			id, external_id, direction, user_id, account_id, amount,
			fee_amount, fee_account_id, ledger_entry_id, status, error_code,
			error_message, balance_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		transfer.ID, transfer.ExternalID, transfer.Direction, transfer.UserID,
		transfer.AccountID, transfer.Amount, transfer.FeeAmount, transfer.FeeAccountID,
		transfer.LedgerEntryID, transfer.Status, transfer.ErrorCode,
		transfer.ErrorMessage, transfer.BalanceAfter, transfer.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func scanTransfer(s scanner) (*domain.P2PTransfer, error) {
	var t domain.P2PTransfer
	err := s.Scan(
		&t.ID, &t.ExternalID, &t.Direction, &t.UserID, &t.AccountID,
		&t.Amount, &t.FeeAmount, &t.FeeAccountID, &t.LedgerEntryID,
		&t.Status, &t.ErrorCode, &t.ErrorMessage, &t.BalanceAfter,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
