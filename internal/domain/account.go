package domain

import (
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

// Account is a deposit account. Balance is in minor units and never
// negative; it is mutated only through the ledger service so that every
// change carries a matching ledger entry.
type Account struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AccountNumber string
	Balance       int64
	Version       int64
	CreatedAt     time.Time
}

// CreditInstrument is a credit card or line of credit. The limit is
// immutable after issuance; available credit moves between 0 and the limit.
type CreditInstrument struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	CardNumber      string
	CreditLimit     int64
	AvailableCredit int64
	Version         int64
	CreatedAt       time.Time
}

// OutstandingBalance is the charged amount not yet paid back.
func (c *CreditInstrument) OutstandingBalance() int64 {
	return c.CreditLimit - c.AvailableCredit
}
