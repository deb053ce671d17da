// Package ledger mutates deposit-account balances. Every mutation locks
// the account row, applies a version-checked balance update and appends
// the matching ledger entry inside one transaction, so the sum of entry
// amounts always equals the stored balance.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridianbank/ledger-core/internal/domain"
	"github.com/meridianbank/ledger-core/internal/logging"
	"github.com/meridianbank/ledger-core/internal/metrics"
)

type accountRepo interface {
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance int64, newVersion int64) error
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
}

type Service struct {
	accounts accountRepo
	ledger   ledgerRepo
	db       *sql.DB
}

func NewService(accounts accountRepo, ledger ledgerRepo, db *sql.DB) *Service {
	return &Service{accounts: accounts, ledger: ledger, db: db}
}

func (s *Service) Deposit(ctx context.Context, accountID uuid.UUID, amount int64, description *string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("Deposit: %w", domain.ErrInvalidAmount)
	}

	var newBalance int64
	err := s.mutate(ctx, accountID, func(acct *domain.Account) (int64, *domain.LedgerEntry, error) {
		newBalance = acct.Balance + amount
		return newBalance, newEntry(domain.EntryTypeDeposit, amount, newBalance, acct.ID, description), nil
	})
	if err != nil {
		return 0, fmt.Errorf("Deposit: %w", err)
	}

	logging.FromContext(ctx).Info("deposit completed",
		"account_id", accountID, "amount", amount, "balance", newBalance)
	return newBalance, nil
}

func (s *Service) Withdraw(ctx context.Context, accountID uuid.UUID, amount int64, description *string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("Withdraw: %w", domain.ErrInvalidAmount)
	}

	var newBalance int64
	err := s.mutate(ctx, accountID, func(acct *domain.Account) (int64, *domain.LedgerEntry, error) {
		if amount > acct.Balance {
			return 0, nil, domain.ErrInsufficientFunds
		}
		newBalance = acct.Balance - amount
		return newBalance, newEntry(domain.EntryTypeWithdrawal, -amount, newBalance, acct.ID, description), nil
	})
	if err != nil {
		return 0, fmt.Errorf("Withdraw: %w", err)
	}

	logging.FromContext(ctx).Info("withdrawal completed",
		"account_id", accountID, "amount", amount, "balance", newBalance)
	return newBalance, nil
}

// Transfer moves funds between two accounts atomically: both legs and
// their ledger entries commit together or not at all.
func (s *Service) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64, description *string) error {
	if amount <= 0 {
		return fmt.Errorf("Transfer: %w", domain.ErrInvalidAmount)
	}
	if fromID == toID {
		return fmt.Errorf("Transfer: %w", domain.ErrSameAccount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Transfer: begin tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := lockAccountsInOrder(ctx, tx, s.accounts, fromID, toID)
	if err != nil {
		return fmt.Errorf("Transfer: %w", err)
	}
	from, to := locked[fromID], locked[toID]

	if amount > from.Balance {
		return fmt.Errorf("Transfer: %w", domain.ErrInsufficientFunds)
	}

	out := newEntry(domain.EntryTypeTransferOut, -amount, from.Balance-amount, from.ID, description)
	if err := s.ledger.Create(ctx, tx, out); err != nil {
		return fmt.Errorf("Transfer: out entry: %w", err)
	}
	in := newEntry(domain.EntryTypeTransferIn, amount, to.Balance+amount, to.ID, description)
	if err := s.ledger.Create(ctx, tx, in); err != nil {
		return fmt.Errorf("Transfer: in entry: %w", err)
	}

	if err := s.accounts.UpdateBalance(ctx, tx, fromID, from.Balance-amount, from.Version+1); err != nil {
		return fmt.Errorf("Transfer: update sender: %w", err)
	}
	if err := s.accounts.UpdateBalance(ctx, tx, toID, to.Balance+amount, to.Version+1); err != nil {
		return fmt.Errorf("Transfer: update recipient: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Transfer: commit: %w", err)
	}

	metrics.LedgerMutations.WithLabelValues(string(domain.EntryTypeTransferOut)).Inc()
	metrics.LedgerMutations.WithLabelValues(string(domain.EntryTypeTransferIn)).Inc()

	logging.FromContext(ctx).Info("transfer completed",
		"from_account", fromID, "to_account", toID, "amount", amount)
	return nil
}

// mutate runs one single-account balance change: lock, compute, append
// entry, CAS-update, commit.
func (s *Service) mutate(ctx context.Context, accountID uuid.UUID, fn func(*domain.Account) (int64, *domain.LedgerEntry, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	acct, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return mapNotFound(err)
	}

	newBalance, entry, err := fn(acct)
	if err != nil {
		return err
	}

	if err := s.ledger.Create(ctx, tx, entry); err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if err := s.accounts.UpdateBalance(ctx, tx, accountID, newBalance, acct.Version+1); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	metrics.LedgerMutations.WithLabelValues(string(entry.EntryType)).Inc()
	return nil
}

func newEntry(entryType domain.EntryType, amount, balanceAfter int64, accountID uuid.UUID, description *string) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:           uuid.New(),
		EntryType:    entryType,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Description:  description,
		AccountID:    &accountID,
		CreatedAt:    time.Now().UTC(),
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrAccountNotFound
	}
	return err
}

func lockAccountsInOrder(ctx context.Context, tx *sql.Tx, accounts accountRepo, ids ...uuid.UUID) (map[uuid.UUID]*domain.Account, error) {
	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	result := make(map[uuid.UUID]*domain.Account, len(ids))
	for _, id := range sorted {
		acct, err := accounts.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, mapNotFound(fmt.Errorf("lockAccountsInOrder: %w", err))
		}
		result[id] = acct
	}
	return result, nil
}
