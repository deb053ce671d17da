// Package p2p executes debit and credit legs on behalf of the external
// peer-to-peer transfer orchestrator. Every request carries the
// orchestrator's transfer id as an idempotency key; the first outcome,
// success or failure, is recorded and replayed verbatim on retries.
package p2p

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
	"github.com/meridianbank/ledger-core/internal/repository"
)

type transferRepo interface {
	GetByExternalID(ctx context.Context, externalID string) (*domain.P2PTransfer, error)
	Create(ctx context.Context, tx *sql.Tx, transfer *domain.P2PTransfer) error
}

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID, newBalance int64, newVersion int64) error
}

type userRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error
}

// errConcurrentRecord signals that another request with the same transfer
// id won the insert race; the caller replays the stored record.
var errConcurrentRecord = errors.New("concurrent transfer record")

type Gateway struct {
	transfers transferRepo
	accounts  accountRepo
	users     userRepo
	ledger    ledgerRepo
	db        *sql.DB
}

func NewGateway(transfers transferRepo, accounts accountRepo, users userRepo, ledger ledgerRepo, db *sql.DB) *Gateway {
	return &Gateway{
		transfers: transfers,
		accounts:  accounts,
		users:     users,
		ledger:    ledger,
		db:        db,
	}
}

type DebitRequest struct {
	TransferID     string
	UserID         uuid.UUID
	AccountID      uuid.UUID
	Amount         int64
	RecipientAlias *string
	Description    *string
}

type CreditRequest struct {
	TransferID   string
	UserID       uuid.UUID
	AccountID    *uuid.UUID
	Amount       int64
	SenderAlias  *string
	Description  *string
	FeeAmount    int64
	FeeAccountID *uuid.UUID
	MerchantName *string
}

type TransferResult struct {
	TransferID string
	AccountID  uuid.UUID
	Amount     int64
	NewBalance int64
	Replayed   bool
}

// Debit withdraws funds for an outbound P2P transfer. An insufficient
// balance is recorded as a failed transfer so that retries with the same
// transfer id short-circuit to the same error.
func (g *Gateway) Debit(ctx context.Context, req DebitRequest) (*TransferResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("Debit: %w", domain.ErrInvalidAmount)
	}

	if result, replayed, err := g.replayExisting(ctx, req.TransferID, domain.TransferDirectionDebit); replayed || err != nil {
		return result, err
	}

	acct, err := g.ownedAccount(ctx, req.UserID, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("Debit: %w", err)
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Debit: begin tx: %w", err)
	}
	defer tx.Rollback()

	locked, err := g.accounts.GetForUpdate(ctx, tx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("Debit: %w", err)
	}

	now := time.Now().UTC()
	if req.Amount > locked.Balance {
		tx.Rollback()
		if err := g.recordFailure(ctx, req.TransferID, domain.TransferDirectionDebit, req.UserID, &acct.ID, req.Amount, domain.ErrCodeInsufficientFunds, now); err != nil {
			if errors.Is(err, errConcurrentRecord) {
				result, _, rerr := g.replayExisting(ctx, req.TransferID, domain.TransferDirectionDebit)
				return result, rerr
			}
			return nil, fmt.Errorf("Debit: %w", err)
		}
		return nil, fmt.Errorf("Debit: %w", domain.ErrCodeInsufficientFunds)
	}

	newBalance := locked.Balance - req.Amount
	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		EntryType:    domain.EntryTypeWithdrawal,
		Amount:       -req.Amount,
		BalanceAfter: newBalance,
		Description:  debitDescription(req),
		AccountID:    &acct.ID,
		CreatedAt:    now,
	}
	if err := g.ledger.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("Debit: create entry: %w", err)
	}

	if err := g.accounts.UpdateBalance(ctx, tx, acct.ID, newBalance, locked.Version+1); err != nil {
		return nil, fmt.Errorf("Debit: update balance: %w", err)
	}

	record := &domain.P2PTransfer{
		ID:            uuid.New(),
		ExternalID:    req.TransferID,
		Direction:     domain.TransferDirectionDebit,
		UserID:        req.UserID,
		AccountID:     &acct.ID,
		Amount:        req.Amount,
		LedgerEntryID: &entry.ID,
		Status:        domain.TransferStatusCompleted,
		BalanceAfter:  &newBalance,
		CreatedAt:     now,
	}
	if err := g.transfers.Create(ctx, tx, record); err != nil {
		if repository.IsUniqueViolation(err) {
			// Lost the race to a concurrent request with the same key;
			// the rollback undoes our mutation and we replay the winner.
			tx.Rollback()
			result, _, err := g.replayExisting(ctx, req.TransferID, domain.TransferDirectionDebit)
			return result, err
		}
		return nil, fmt.Errorf("Debit: create record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Debit: commit: %w", err)
	}

	metrics.LedgerMutations.WithLabelValues(string(domain.EntryTypeWithdrawal)).Inc()
	logging.FromContext(ctx).Info("p2p debit completed",
		"transfer_id", req.TransferID, "account_id", acct.ID,
		"amount", req.Amount, "balance", newBalance)

	return &TransferResult{
		TransferID: req.TransferID,
		AccountID:  acct.ID,
		Amount:     req.Amount,
		NewBalance: newBalance,
	}, nil
}

// Credit deposits funds for an inbound P2P transfer, optionally splitting
// a fee into a separate account. The net credit, the fee credit and both
// ledger entries commit in one transaction.
func (g *Gateway) Credit(ctx context.Context, req CreditRequest) (*TransferResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("Credit: %w", domain.ErrInvalidAmount)
	}

	if result, replayed, err := g.replayExisting(ctx, req.TransferID, domain.TransferDirectionCredit); replayed || err != nil {
		return result, err
	}

	target, err := g.resolveTargetAccount(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}

	feeSplit := req.FeeAmount > 0 && req.FeeAccountID != nil
	if feeSplit {
		if req.FeeAmount >= req.Amount {
			return nil, fmt.Errorf("Credit: fee: %w", domain.ErrInvalidAmount)
		}
		// Splitting the fee into the target account would double-lock the
		// same row and trip the version check.
		if *req.FeeAccountID == target.ID {
			return nil, fmt.Errorf("Credit: fee: %w", domain.ErrSameAccount)
		}
		if _, err := g.accounts.GetByID(ctx, *req.FeeAccountID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("Credit: %w", domain.ErrCodeFeeAccountNotFound)
			}
			return nil, fmt.Errorf("Credit: %w", err)
		}
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Credit: begin tx: %w", err)
	}
	defer tx.Rollback()

	ids := []uuid.UUID{target.ID}
	if feeSplit {
		ids = append(ids, *req.FeeAccountID)
	}
	locked, err := lockAccountsInOrder(ctx, tx, g.accounts, ids...)
	if err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}

	now := time.Now().UTC()
	net := req.Amount
	if feeSplit {
		net -= req.FeeAmount
	}

	targetAcct := locked[target.ID]
	newBalance := targetAcct.Balance + net

	entry := &domain.LedgerEntry{
		ID:           uuid.New(),
		EntryType:    domain.EntryTypeTransferIn,
		Amount:       net,
		BalanceAfter: newBalance,
		Description:  creditDescription(req),
		MerchantName: req.MerchantName,
		AccountID:    &targetAcct.ID,
		CreatedAt:    now,
	}
	if err := g.ledger.Create(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("Credit: create entry: %w", err)
	}
	if err := g.accounts.UpdateBalance(ctx, tx, targetAcct.ID, newBalance, targetAcct.Version+1); err != nil {
		return nil, fmt.Errorf("Credit: update balance: %w", err)
	}

	if feeSplit {
		feeAcct := locked[*req.FeeAccountID]
		feeEntry := &domain.LedgerEntry{
			ID:           uuid.New(),
			EntryType:    domain.EntryTypeFee,
			Amount:       req.FeeAmount,
			BalanceAfter: feeAcct.Balance + req.FeeAmount,
			Description:  creditDescription(req),
			AccountID:    &feeAcct.ID,
			CreatedAt:    now,
		}
		if err := g.ledger.Create(ctx, tx, feeEntry); err != nil {
			return nil, fmt.Errorf("Credit: create fee entry: %w", err)
		}
		if err := g.accounts.UpdateBalance(ctx, tx, feeAcct.ID, feeAcct.Balance+req.FeeAmount, feeAcct.Version+1); err != nil {
			return nil, fmt.Errorf("Credit: update fee balance: %w", err)
		}
	}

	record := &domain.P2PTransfer{
		ID:            uuid.New(),
		ExternalID:    req.TransferID,
		Direction:     domain.TransferDirectionCredit,
		UserID:        req.UserID,
		AccountID:     &targetAcct.ID,
		Amount:        req.Amount,
		FeeAmount:     req.FeeAmount,
		FeeAccountID:  req.FeeAccountID,
		LedgerEntryID: &entry.ID,
		Status:        domain.TransferStatusCompleted,
		BalanceAfter:  &newBalance,
		CreatedAt:     now,
	}
	if err := g.transfers.Create(ctx, tx, record); err != nil {
		if repository.IsUniqueViolation(err) {
			tx.Rollback()
			result, _, err := g.replayExisting(ctx, req.TransferID, domain.TransferDirectionCredit)
			return result, err
		}
		return nil, fmt.Errorf("Credit: create record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Credit: commit: %w", err)
	}

	metrics.LedgerMutations.WithLabelValues(string(domain.EntryTypeTransferIn)).Inc()
	logging.FromContext(ctx).Info("p2p credit completed",
		"transfer_id", req.TransferID, "account_id", targetAcct.ID,
		"amount", req.Amount, "fee_amount", req.FeeAmount, "balance", newBalance)

	return &TransferResult{
		TransferID: req.TransferID,
		AccountID:  targetAcct.ID,
		Amount:     net,
		NewBalance: newBalance,
	}, nil
}

type VerifyResult struct {
	Exists           bool
	DisplayName      string
	DefaultAccountID *uuid.UUID
	P2PEnabled       bool
}

// Verify is a read-only recipient lookup by user id or email. It mutates
// nothing and is deliberately not idempotency-guarded.
func (g *Gateway) Verify(ctx context.Context, userID *uuid.UUID, email *string) (*VerifyResult, error) {
	var user *domain.User
	var err error
	switch {
	case userID != nil:
		user, err = g.users.GetByID(ctx, *userID)
	case email != nil:
		user, err = g.users.GetByEmail(ctx, *email)
	default:
		return nil, fmt.Errorf("Verify: user id or email required")
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &VerifyResult{}, nil
		}
		return nil, fmt.Errorf("Verify: %w", err)
	}

	result := &VerifyResult{
		Exists:      true,
		DisplayName: user.DisplayName(),
		P2PEnabled:  user.P2PEnabled,
	}

	accounts, err := g.accounts.GetByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("Verify: %w", err)
	}
	if len(accounts) > 0 {
		result.DefaultAccountID = &accounts[0].ID
	}
	return result, nil
}

// replayExisting returns the recorded outcome for an already-seen transfer
// id: completed records replay their result, failed records replay their
// error. The bool reports whether a record existed.
func (g *Gateway) replayExisting(ctx context.Context, transferID string, direction domain.TransferDirection) (*TransferResult, bool, error) {
	record, err := g.transfers.GetByExternalID(ctx, transferID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("replayExisting: %w", err)
	}

	metrics.P2PReplays.WithLabelValues(string(direction)).Inc()
	logging.FromContext(ctx).Info("p2p transfer replayed",
		"transfer_id", transferID, "status", record.Status)

	if record.Status == domain.TransferStatusFailed {
		code, message := "TRANSFER_FAILED", "transfer failed"
		if record.ErrorCode != nil {
			code = *record.ErrorCode
		}
		if record.ErrorMessage != nil {
			message = *record.ErrorMessage
		}
		return nil, true, &domain.CodedError{Code: code, Message: message}
	}

	result := &TransferResult{
		TransferID: record.ExternalID,
		Amount:     record.Amount - record.FeeAmount,
		Replayed:   true,
	}
	if record.AccountID != nil {
		result.AccountID = *record.AccountID
	}
	if record.BalanceAfter != nil {
		result.NewBalance = *record.BalanceAfter
	}
	return result, true, nil
}

func (g *Gateway) recordFailure(ctx context.Context, transferID string, direction domain.TransferDirection, userID uuid.UUID, accountID *uuid.UUID, amount int64, cause *domain.CodedError, now time.Time) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recordFailure: begin tx: %w", err)
	}
	defer tx.Rollback()

	record := &domain.P2PTransfer{
		ID:           uuid.New(),
		ExternalID:   transferID,
		Direction:    direction,
		UserID:       userID,
		AccountID:    accountID,
		Amount:       amount,
		Status:       domain.TransferStatusFailed,
		ErrorCode:    &cause.Code,
		ErrorMessage: &cause.Message,
		CreatedAt:    now,
	}
	if err := g.transfers.Create(ctx, tx, record); err != nil {
		if repository.IsUniqueViolation(err) {
			return errConcurrentRecord
		}
		return fmt.Errorf("recordFailure: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recordFailure: commit: %w", err)
	}
	return nil
}

func (g *Gateway) ownedAccount(ctx context.Context, userID, accountID uuid.UUID) (*domain.Account, error) {
	acct, err := g.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrCodeAccountNotFound
		}
		return nil, err
	}
	if acct.UserID != userID {
		return nil, domain.ErrCodeUserMismatch
	}
	return acct, nil
}

func (g *Gateway) resolveTargetAccount(ctx context.Context, req CreditRequest) (*domain.Account, error) {
	if req.AccountID != nil {
		return g.ownedAccount(ctx, req.UserID, *req.AccountID)
	}

	accounts, err := g.accounts.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, domain.ErrCodeNoAccount
	}
	return &accounts[0], nil
}

func debitDescription(req DebitRequest) *string {
	if req.Description != nil {
		return req.Description
	}
	if req.RecipientAlias != nil {
		s := fmt.Sprintf("P2P transfer to %s", *req.RecipientAlias)
		return &s
	}
	s := "P2P transfer"
	return &s
}

func creditDescription(req CreditRequest) *string {
	if req.Description != nil {
		return req.Description
	}
	if req.SenderAlias != nil {
		s := fmt.Sprintf("P2P transfer from %s", *req.SenderAlias)
		return &s
	}
	s := "P2P transfer"
	return &s
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
			return nil, fmt.Errorf("lockAccountsInOrder: %w", err)
		}
		result[id] = acct
	}
	return result, nil
}
