package domain

import (
	"time"

	"github.com/google/uuid"
)

type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusReturned EscrowStatus = "returned"
	EscrowStatusExpired  EscrowStatus = "expired"
)

// EscrowHold earmarks account funds for an external contract. A held
// amount reduces the account's available balance without leaving its
// actual balance until release. (contract_id, user_id) is unique.
type EscrowHold struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	AccountID  uuid.UUID
	ContractID string
	Amount     int64
	Currency   Currency
	Status     EscrowStatus
	ExpiresAt  time.Time
	WalletRef  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (h *EscrowHold) Terminal() bool {
	return h.Status != EscrowStatusHeld
}

func (h *EscrowHold) Expired(now time.Time) bool {
	return now.After(h.ExpiresAt)
}
