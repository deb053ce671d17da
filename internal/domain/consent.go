package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentConsent links a card token to a merchant and an optional spending
// cap. Consents are created by the enrollment flow; the authorization
// engine only reads them.
type PaymentConsent struct {
	ID           uuid.UUID
	Token        string
	InstrumentID uuid.UUID
	MerchantID   string
	MerchantName string
	MaxAmount    *int64
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	CreatedAt    time.Time
}

func (c *PaymentConsent) Revoked() bool {
	return c.RevokedAt != nil
}

func (c *PaymentConsent) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
