package domain

import (
	"time"

	"github.com/google/uuid"
)

type AuthorizationStatus string

const (
	AuthorizationStatusPending  AuthorizationStatus = "pending"
	AuthorizationStatusCaptured AuthorizationStatus = "captured"
	AuthorizationStatusVoided   AuthorizationStatus = "voided"
	AuthorizationStatusExpired  AuthorizationStatus = "expired"
)

// AuthorizationHold reserves credit on an instrument pending capture.
// Pending is the only non-terminal state; captured, voided and expired
// holds never transition again.
type AuthorizationHold struct {
	ID             uuid.UUID
	Code           string
	ConsentID      uuid.UUID
	InstrumentID   uuid.UUID
	Amount         int64
	CapturedAmount int64
	Currency       Currency
	MerchantID     string
	MerchantName   string
	OrderID        *string
	Status         AuthorizationStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (h *AuthorizationHold) Terminal() bool {
	return h.Status != AuthorizationStatusPending
}

func (h *AuthorizationHold) Expired(now time.Time) bool {
	return now.After(h.ExpiresAt)
}
