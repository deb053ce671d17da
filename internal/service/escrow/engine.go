// Package escrow manages hold/release/return/expire lifecycles for funds
// earmarked to an external contract system. A held amount reduces the
// account's available balance; the actual balance only moves on release,
// when the funds leave through the external settlement path.
package escrow

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
	"github.com/meridianbank/ledger-core/internal/repository"
)

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance int64, newVersion int64) error
}

type escrowRepo interface {
	GetByIDForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.EscrowHold, error)
	Create(ctx context.Context, tx *sql.Tx, hold *domain.EscrowHold) error
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.EscrowStatus, now time.Time) error
	ActiveHoldTotal(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) (int64, error)
	GetExpired(ctx context.Context, now time.Time, limit int) ([]domain.EscrowHold, error)
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
}

// Notifier delivers escrow lifecycle events to the external contract
// collaborator. Implementations are fire-and-forget: delivery failures are
// logged, never propagated into the ledger transaction.
type Notifier interface {
	HoldCreated(ctx context.Context, hold *domain.EscrowHold)
	HoldExpired(ctx context.Context, hold *domain.EscrowHold)
}

type Engine struct {
	accounts accountRepo
	escrows  escrowRepo
	ledger   ledgerRepo
	notifier Notifier
	db       *sql.DB
}

func NewEngine(accounts accountRepo, escrows escrowRepo, ledger ledgerRepo, notifier Notifier, db *sql.DB) *Engine {
	return &Engine{
		accounts: accounts,
		escrows:  escrows,
		ledger:   ledger,
		notifier: notifier,
		db:       db,
	}
}

type CreateHoldRequest struct {
	UserID     uuid.UUID
	AccountID  uuid.UUID
	Amount     int64
	Currency   domain.Currency
	ContractID string
	ExpiresAt  time.Time
	WalletRef  *string
}

// CreateHold earmarks funds against the account's availability. The hold
// ledger entry carries a negative amount but an unchanged balance snapshot:
// escrow reduces available balance, not actual balance.
func (e *Engine) CreateHold(ctx context.Context, req CreateHoldRequest) (*domain.EscrowHold, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("CreateHold: %w", domain.ErrInvalidAmount)
	}
	if !req.Currency.IsValid() {
		return nil, fmt.Errorf("CreateHold: %w", domain.ErrInvalidCurrency)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateHold: begin tx: %w", err)
	}
	defer tx.Rollback()

	acct, err := e.accounts.GetForUpdate(ctx, tx, req.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("CreateHold: %w", domain.ErrCodeAccountNotFound)
		}
		return nil, fmt.Errorf("CreateHold: %w", err)
	}
	if acct.UserID != req.UserID {
		return nil, fmt.Errorf("CreateHold: %w", domain.ErrCodeAccountNotFound)
	}

	held, err := e.escrows.ActiveHoldTotal(ctx, tx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("CreateHold: %w", err)
	}
	if req.Amount > acct.Balance-held {
		return nil, fmt.Errorf("CreateHold: %w", domain.ErrCodeInsufficientFunds)
	}

	now := time.Now().UTC()
	hold := &domain.EscrowHold{
		ID:         uuid.New(),
		UserID:     req.UserID,
		AccountID:  req.AccountID,
		ContractID: req.ContractID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     domain.EscrowStatusHeld,
		ExpiresAt:  req.ExpiresAt,
		WalletRef:  req.WalletRef,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.escrows.Create(ctx, tx, hold); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("CreateHold: %w", domain.ErrCodeDuplicateHold)
		}
		return nil, fmt.Errorf("CreateHold: %w", err)
	}

	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		EntryType:    domain.EntryTypeEscrowHold,
		Amount:       -req.Amount,
		BalanceAfter: acct.Balance,
		Description:  descriptionFor("escrow hold", req.ContractID),
		AccountID:    &req.AccountID,
		CreatedAt:    now,
	}
	if err := e.ledger.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("CreateHold: create entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("CreateHold: commit: %w", err)
	}

	metrics.LedgerMutations.WithLabelValues(string(domain.EntryTypeEscrowHold)).Inc()
	logging.FromContext(ctx).Info("escrow hold created",
		"escrow_id", hold.ID,
		"account_id", req.AccountID,
		"contract_id", req.ContractID,
		"amount", req.Amount,
	)

	e.notifier.HoldCreated(ctx, hold)
	return hold, nil
}

// Release settles a held amount out of the bank: the actual balance drops
// by the hold amount and the hold becomes terminal. A hold past its expiry
// transitions to expired instead and the release fails.
func (e *Engine) Release(ctx context.Context, escrowID uuid.UUID, contractID, reason string, transferRef *string) (*domain.EscrowHold, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Release: begin tx: %w", err)
	}
	defer tx.Rollback()

	hold, err := e.lockHeldHold(ctx, tx, escrowID, contractID)
	if err != nil {
		return nil, fmt.Errorf("Release: %w", err)
	}

	acct, err := e.accounts.GetForUpdate(ctx, tx, hold.AccountID)
	if err != nil {
		return nil, fmt.Errorf("Release: %w", err)
	}

	now := time.Now().UTC()
	if hold.Expired(now) {
		if err := e.commitLapsed(ctx, tx, hold, acct.Balance, now); err != nil {
			return nil, fmt.Errorf("Release: %w", err)
		}
		return nil, fmt.Errorf("Release: %w", domain.ErrCodeEscrowNotHeld)
	}

	newBalance := acct.Balance - hold.Amount

	desc := reason
	if transferRef != nil {
		desc = fmt.Sprintf("%s (ref %s)", reason, *transferRef)
	}
	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		EntryType:    domain.EntryTypeEscrowRelease,
		Amount:       -hold.Amount,
		BalanceAfter: newBalance,
		Description:  &desc,
		AccountID:    &hold.AccountID,
		CreatedAt:    now,
	}
	if err := e.ledger.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("Release: create entry: %w", err)
	}

	if err := e.accounts.UpdateBalance(ctx, tx, hold.AccountID, newBalance, acct.Version+1); err != nil {
		return nil, fmt.Errorf("Release: update balance: %w", err)
	}
	if err := e.escrows.UpdateStatus(ctx, tx, escrowID, domain.EscrowStatusReleased, now); err != nil {
		return nil, fmt.Errorf("Release: update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Release: commit: %w", err)
	}

	metrics.LedgerMutations.WithLabelValues(string(domain.EntryTypeEscrowRelease)).Inc()
	logging.FromContext(ctx).Info("escrow hold released",
		"escrow_id", escrowID, "contract_id", contractID, "amount", hold.Amount)

	hold.Status = domain.EscrowStatusReleased
	hold.UpdatedAt = now
	return hold, nil
}

// Return cancels a hold without touching the actual balance; the amount
// simply stops counting against availability. Like Release, an expired hold
// lapses instead of returning.
func (e *Engine) Return(ctx context.Context, escrowID uuid.UUID, contractID, reason string) (int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("Return: begin tx: %w", err)
	}
	defer tx.Rollback()

	hold, err := e.lockHeldHold(ctx, tx, escrowID, contractID)
	if err != nil {
		return 0, fmt.Errorf("Return: %w", err)
	}

	acct, err := e.accounts.GetForUpdate(ctx, tx, hold.AccountID)
	if err != nil {
		return 0, fmt.Errorf("Return: %w", err)
	}

	now := time.Now().UTC()
	if hold.Expired(now) {
		if err := e.commitLapsed(ctx, tx, hold, acct.Balance, now); err != nil {
			return 0, fmt.Errorf("Return: %w", err)
		}
		return 0, fmt.Errorf("Return: %w", domain.ErrCodeEscrowNotHeld)
	}

	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		EntryType:    domain.EntryTypeEscrowReturn,
		Amount:       hold.Amount,
		BalanceAfter: acct.Balance,
		Description:  &reason,
		AccountID:    &hold.AccountID,
		CreatedAt:    now,
	}
	if err := e.ledger.Create(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("Return: create entry: %w", err)
	}

	if err := e.escrows.UpdateStatus(ctx, tx, escrowID, domain.EscrowStatusReturned, now); err != nil {
		return 0, fmt.Errorf("Return: update status: %w", err)
	}

	held, err := e.escrows.ActiveHoldTotal(ctx, tx, hold.AccountID)
	if err != nil {
		return 0, fmt.Errorf("Return: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("Return: commit: %w", err)
	}

	metrics.LedgerMutations.WithLabelValues(string(domain.EntryTypeEscrowReturn)).Inc()
	logging.FromContext(ctx).Info("escrow hold returned",
		"escrow_id", escrowID, "contract_id", contractID, "amount", hold.Amount)

	return acct.Balance - held, nil
}

// ProcessExpiredHolds sweeps holds past their expiry into the expired
// state. Individual failures are logged and skipped so one bad record
// cannot block the batch; the successful count is returned.
func (e *Engine) ProcessExpiredHolds(ctx context.Context) (int, error) {
	log := logging.FromContext(ctx)
	now := time.Now().UTC()

	holds, err := e.escrows.GetExpired(ctx, now, 100)
	if err != nil {
		return 0, fmt.Errorf("ProcessExpiredHolds: %w", err)
	}

	expired := 0
	for i := range holds {
		hold := &holds[i]
		if err := e.expireHold(ctx, hold, now); err != nil {
			log.Error("failed to expire escrow hold",
				"escrow_id", hold.ID, "error", err)
			continue
		}
		expired++
		metrics.EscrowExpired.Inc()
		e.notifier.HoldExpired(ctx, hold)
	}

	if expired > 0 {
		log.Info("expired escrow holds processed", "count", expired)
	}
	return expired, nil
}

func (e *Engine) expireHold(ctx context.Context, hold *domain.EscrowHold, now time.Time) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("expireHold: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Re-check under lock; a concurrent release/return wins.
	locked, err := e.escrows.GetByIDForUpdate(ctx, tx, hold.ID)
	if err != nil {
		return fmt.Errorf("expireHold: %w", err)
	}
	if locked.Terminal() {
		return nil
	}

	acct, err := e.accounts.GetForUpdate(ctx, tx, hold.AccountID)
	if err != nil {
		return fmt.Errorf("expireHold: %w", err)
	}

	if err := e.expireInTx(ctx, tx, hold, acct.Balance, now); err != nil {
		return fmt.Errorf("expireHold: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("expireHold: commit: %w", err)
	}

	hold.Status = domain.EscrowStatusExpired
	hold.UpdatedAt = now
	return nil
}

// expireInTx appends the return entry and flips the hold to expired inside
// the caller's transaction. The account row must already be locked.
func (e *Engine) expireInTx(ctx context.Context, tx *sql.Tx, hold *domain.EscrowHold, balance int64, now time.Time) error {
	desc := "escrow hold expired"
	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		EntryType:    domain.EntryTypeEscrowReturn,
		Amount:       hold.Amount,
		BalanceAfter: balance,
		Description:  &desc,
		AccountID:    &hold.AccountID,
		CreatedAt:    now,
	}
	if err := e.ledger.Create(ctx, tx, entry); err != nil {
		return fmt.Errorf("create entry: %w", err)
	}
	if err := e.escrows.UpdateStatus(ctx, tx, hold.ID, domain.EscrowStatusExpired, now); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// commitLapsed handles a hold found past its expiry during release/return:
// the expiry transition commits on its own so a failed operation still
// repairs state, matching what the sweeper would have done.
func (e *Engine) commitLapsed(ctx context.Context, tx *sql.Tx, hold *domain.EscrowHold, balance int64, now time.Time) error {
	if err := e.expireInTx(ctx, tx, hold, balance, now); err != nil {
		return fmt.Errorf("expire hold: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expiry: %w", err)
	}

	hold.Status = domain.EscrowStatusExpired
	hold.UpdatedAt = now

	metrics.EscrowExpired.Inc()
	logging.FromContext(ctx).Info("escrow hold lapsed",
		"escrow_id", hold.ID, "contract_id", hold.ContractID, "amount", hold.Amount)
	e.notifier.HoldExpired(ctx, hold)
	return nil
}

type Balances struct {
	Balance          int64
	AvailableBalance int64
	EscrowedBalance  int64
}

func (e *Engine) AccountBalances(ctx context.Context, accountID uuid.UUID) (*Balances, error) {
	acct, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("AccountBalances: %w", domain.ErrCodeAccountNotFound)
		}
		return nil, fmt.Errorf("AccountBalances: %w", err)
	}

	held, err := e.escrows.ActiveHoldTotal(ctx, nil, accountID)
	if err != nil {
		return nil, fmt.Errorf("AccountBalances: %w", err)
	}

	return &Balances{
		Balance:          acct.Balance,
		AvailableBalance: acct.Balance - held,
		EscrowedBalance:  held,
	}, nil
}

func (e *Engine) lockHeldHold(ctx context.Context, tx *sql.Tx, escrowID uuid.UUID, contractID string) (*domain.EscrowHold, error) {
	hold, err := e.escrows.GetByIDForUpdate(ctx, tx, escrowID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrCodeEscrowNotFound
		}
		return nil, err
	}
	if hold.Terminal() {
		return nil, domain.ErrCodeEscrowNotHeld
	}
	if hold.ContractID != contractID {
		return nil, domain.ErrCodeContractMismatch
	}
	return hold, nil
}

func descriptionFor(prefix, contractID string) *string {
	s := fmt.Sprintf("%s for contract %s", prefix, contractID)
	return &s
}
