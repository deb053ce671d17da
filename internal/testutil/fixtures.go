package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridianbank/ledger-core/internal/domain"
)

// SeedTestUser inserts a user with a bcrypt-hashed default password.
func SeedTestUser(t *testing.T, db *sql.DB, email, firstName, lastName string) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	user := &domain.User{
		ID:         uuid.New(),
		Email:      email,
		FirstName:  firstName,
		LastName:   lastName,
		P2PEnabled: true,
		CreatedAt:  time.Now().UTC(),
	}
	_, err = db.ExecContext(context.Background(),
		`INSERT INTO users (id, email, first_name, last_name, password_hash, p2p_enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.FirstName, user.LastName, string(hash), user.P2PEnabled, user.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// SeedTestAccount inserts an account with the given balance in minor units.
func SeedTestAccount(t *testing.T, db *sql.DB, userID uuid.UUID, balance int64) *domain.Account {
	t.Helper()

	account := &domain.Account{
		ID:            uuid.New(),
		UserID:        userID,
		AccountNumber: fmt.Sprintf("%010d", time.Now().UnixNano()%1e10),
		Balance:       balance,
		Version:       1,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO accounts (id, user_id, account_number, balance, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.UserID, account.AccountNumber, account.Balance, account.Version, account.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

// SeedTestInstrument inserts a credit instrument with the given limit and
// available credit.
func SeedTestInstrument(t *testing.T, db *sql.DB, userID uuid.UUID, creditLimit, availableCredit int64) *domain.CreditInstrument {
	t.Helper()

	instrument := &domain.CreditInstrument{
		ID:              uuid.New(),
		UserID:          userID,
		CardNumber:      fmt.Sprintf("%016d", time.Now().UnixNano()),
		CreditLimit:     creditLimit,
		AvailableCredit: availableCredit,
		Version:         1,
		CreatedAt:       time.Now().UTC(),
	}
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO credit_instruments (id, user_id, card_number, credit_limit, available_credit, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		instrument.ID, instrument.UserID, instrument.CardNumber,
		instrument.CreditLimit, instrument.AvailableCredit, instrument.Version, instrument.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed instrument: %v", err)
	}
	return instrument
}

// SeedTestConsent inserts a payment consent. maxAmount may be nil for an
// uncapped consent; expiresAt controls validity and revokedAt marks the
// consent revoked.
func SeedTestConsent(t *testing.T, db *sql.DB, instrumentID uuid.UUID, token, merchantID, merchantName string, maxAmount *int64, expiresAt time.Time, revokedAt *time.Time) *domain.PaymentConsent {
	t.Helper()

	consent := &domain.PaymentConsent{
		ID:           uuid.New(),
		Token:        token,
		InstrumentID: instrumentID,
		MerchantID:   merchantID,
		MerchantName: merchantName,
		MaxAmount:    maxAmount,
		ExpiresAt:    expiresAt,
		RevokedAt:    revokedAt,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO payment_consents (id, token, instrument_id, merchant_id, merchant_name, max_amount, expires_at, revoked_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		consent.ID, consent.Token, consent.InstrumentID, consent.MerchantID, consent.MerchantName,
		consent.MaxAmount, consent.ExpiresAt, consent.RevokedAt, consent.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed consent: %v", err)
	}
	return consent
}

// GetAccountBalance reads the current balance directly from the database.
func GetAccountBalance(t *testing.T, db *sql.DB, accountID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRowContext(context.Background(),
		`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		t.Fatalf("get account balance: %v", err)
	}
	return balance
}

// GetAvailableCredit reads the current available credit directly from the
// database.
func GetAvailableCredit(t *testing.T, db *sql.DB, instrumentID uuid.UUID) int64 {
	t.Helper()

	var available int64
	err := db.QueryRowContext(context.Background(),
		`SELECT available_credit FROM credit_instruments WHERE id = $1`, instrumentID).Scan(&available)
	if err != nil {
		t.Fatalf("get available credit: %v", err)
	}
	return available
}

// CountLedgerEntries counts ledger entries for an account, optionally
// filtered by entry type ("" counts all).
func CountLedgerEntries(t *testing.T, db *sql.DB, accountID uuid.UUID, entryType domain.EntryType) int {
	t.Helper()

	var count int
	var err error
	if entryType == "" {
		err = db.QueryRowContext(context.Background(),
			`SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&count)
	} else {
		err = db.QueryRowContext(context.Background(),
			`SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1 AND entry_type = $2`,
			accountID, entryType).Scan(&count)
	}
	if err != nil {
		t.Fatalf("count ledger entries: %v", err)
	}
	return count
}

// SumLedgerEntries sums entry amounts for an instrument. For a credit
// instrument the settled entries should sum to available minus limit.
func SumLedgerEntries(t *testing.T, db *sql.DB, instrumentID uuid.UUID) int64 {
	t.Helper()

	var sum int64
	err := db.QueryRowContext(context.Background(),
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE instrument_id = $1`,
		instrumentID).Scan(&sum)
	if err != nil {
		t.Fatalf("sum ledger entries: %v", err)
	}
	return sum
}
