// Package account opens deposit accounts and issues credit instruments.
package account

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/meridianbank/ledger-core/internal/domain"
	"github.com/meridianbank/ledger-core/internal/logging"
)

type accountRepo interface {
	Create(ctx context.Context, account *domain.Account) error
}

type instrumentRepo interface {
	Create(ctx context.Context, instrument *domain.CreditInstrument) error
}

type userChecker interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type Service struct {
	accounts    accountRepo
	instruments instrumentRepo
	users       userChecker
}

func NewService(accounts accountRepo, instruments instrumentRepo, users userChecker) *Service {
	return &Service{accounts: accounts, instruments: instruments, users: users}
}

func (s *Service) OpenAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("OpenAccount: %w", err)
	}

	number, err := generateNumber(10)
	if err != nil {
		return nil, fmt.Errorf("OpenAccount: %w", err)
	}

	account := &domain.Account{
		ID:            uuid.New(),
		UserID:        userID,
		AccountNumber: number,
		Balance:       0,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("OpenAccount: %w", err)
	}

	logging.FromContext(ctx).Info("account opened",
		"account_id", account.ID, "user_id", userID)
	return account, nil
}

func (s *Service) IssueInstrument(ctx context.Context, userID uuid.UUID, creditLimit int64) (*domain.CreditInstrument, error) {
	if creditLimit <= 0 {
		return nil, fmt.Errorf("IssueInstrument: %w", domain.ErrInvalidAmount)
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("IssueInstrument: %w", err)
	}

	number, err := generateNumber(16)
	if err != nil {
		return nil, fmt.Errorf("IssueInstrument: %w", err)
	}

	instrument := &domain.CreditInstrument{
		ID:              uuid.New(),
		UserID:          userID,
		CardNumber:      number,
		CreditLimit:     creditLimit,
		AvailableCredit: creditLimit,
		Version:         1,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.instruments.Create(ctx, instrument); err != nil {
		return nil, fmt.Errorf("IssueInstrument: %w", err)
	}

	logging.FromContext(ctx).Info("credit instrument issued",
		"instrument_id", instrument.ID, "user_id", userID, "credit_limit", creditLimit)
	return instrument, nil
}

func generateNumber(digits int) (string, error) {
	out := make([]byte, digits)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generateNumber: %w", err)
		}
		out[i] = '0' + byte(n.Int64())
	}
	return string(out), nil
}
