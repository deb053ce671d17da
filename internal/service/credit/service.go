// Package credit mutates available credit on credit instruments, mirroring
// the deposit-account ledger service: one locked row, one CAS update and
// one ledger entry per transaction.
package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianbank/ledger-core/internal/domain"
	"github.com/meridianbank/ledger-core/internal/logging"
	"github.com/meridianbank/ledger-core/internal/metrics"
)

type instrumentRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.CreditInstrument, error)
	UpdateAvailableCredit(ctx context.Context, tx *sql.Tx, id uuid.UUID, newAvailable int64, newVersion int64) error
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
}

type Service struct {
	instruments instrumentRepo
	ledger      ledgerRepo
	db          *sql.DB
}

func NewService(instruments instrumentRepo, ledger ledgerRepo, db *sql.DB) *Service {
	return &Service{instruments: instruments, ledger: ledger, db: db}
}

// Charge reduces available credit and returns the new value.
func (s *Service) Charge(ctx context.Context, instrumentID uuid.UUID, amount int64, merchantName *string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("Charge: %w", domain.ErrInvalidAmount)
	}

	var newAvailable int64
	err := s.mutate(ctx, instrumentID, func(ins *domain.CreditInstrument) (int64, *domain.LedgerEntry, error) {
		if amount > ins.AvailableCredit {
			return 0, nil, domain.ErrInsufficientCredit
		}
		newAvailable = ins.AvailableCredit - amount
		entry := newEntry(domain.EntryTypeCharge, -amount, newAvailable, ins.ID)
		entry.MerchantName = merchantName
		return newAvailable, entry, nil
	})
	if err != nil {
		return 0, fmt.Errorf("Charge: %w", err)
	}

	logging.FromContext(ctx).Info("charge completed",
		"instrument_id", instrumentID, "amount", amount, "available_credit", newAvailable)
	return newAvailable, nil
}

// Payment pays down the outstanding charged balance, increasing available
// credit. Paying more than is outstanding is rejected.
func (s *Service) Payment(ctx context.Context, instrumentID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("Payment: %w", domain.ErrInvalidAmount)
	}

	var newAvailable int64
	err := s.mutate(ctx, instrumentID, func(ins *domain.CreditInstrument) (int64, *domain.LedgerEntry, error) {
		if amount > ins.OutstandingBalance() {
			return 0, nil, domain.ErrPaymentExceedsBalance
		}
		newAvailable = ins.AvailableCredit + amount
		return newAvailable, newEntry(domain.EntryTypePayment, amount, newAvailable, ins.ID), nil
	})
	if err != nil {
		return 0, fmt.Errorf("Payment: %w", err)
	}

	logging.FromContext(ctx).Info("payment completed",
		"instrument_id", instrumentID, "amount", amount, "available_credit", newAvailable)
	return newAvailable, nil
}

// Refund returns a charged amount to the instrument. Unlike Payment it is
// keyed to a prior charge rather than the outstanding balance, but it may
// never push available credit above the limit.
func (s *Service) Refund(ctx context.Context, instrumentID uuid.UUID, amount int64, merchantName *string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("Refund: %w", domain.ErrInvalidAmount)
	}

	var newAvailable int64
	err := s.mutate(ctx, instrumentID, func(ins *domain.CreditInstrument) (int64, *domain.LedgerEntry, error) {
		if ins.AvailableCredit+amount > ins.CreditLimit {
			return 0, nil, domain.ErrRefundExceedsLimit
		}
		newAvailable = ins.AvailableCredit + amount
		entry := newEntry(domain.EntryTypeRefund, amount, newAvailable, ins.ID)
		entry.MerchantName = merchantName
		return newAvailable, entry, nil
	})
	if err != nil {
		return 0, fmt.Errorf("Refund: %w", err)
	}

	logging.FromContext(ctx).Info("refund completed",
		"instrument_id", instrumentID, "amount", amount, "available_credit", newAvailable)
	return newAvailable, nil
}

func (s *Service) mutate(ctx context.Context, instrumentID uuid.UUID, fn func(*domain.CreditInstrument) (int64, *domain.LedgerEntry, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ins, err := s.instruments.GetForUpdate(ctx, tx, instrumentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrCardNotFound
		}
		return err
	}

	newAvailable, entry, err := fn(ins)
	if err != nil {
		return err
	}

	if err := s.ledger.Create(ctx, tx, entry); err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if err := s.instruments.UpdateAvailableCredit(ctx, tx, instrumentID, newAvailable, ins.Version+1); err != nil {
		return fmt.Errorf("update available credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	metrics.LedgerMutations.WithLabelValues(string(entry.EntryType)).Inc()
	return nil
}

func newEntry(entryType domain.EntryType, amount, availableAfter int64, instrumentID uuid.UUID) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:           uuid.New(),
		EntryType:    entryType,
		Amount:       amount,
		BalanceAfter: availableAfter,
		InstrumentID: &instrumentID,
		CreatedAt:    time.Now().UTC(),
	}
}
