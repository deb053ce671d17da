package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransferDirection string

const (
	TransferDirectionDebit  TransferDirection = "debit"
	TransferDirectionCredit TransferDirection = "credit"
)

type TransferStatus string

const (
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
)

// P2PTransfer records one externally-orchestrated transfer leg. ExternalID
// is the idempotency key, unique across both directions; a record is
// written at most once and replayed verbatim on retry.
type P2PTransfer struct {
	ID            uuid.UUID
	ExternalID    string
	Direction     TransferDirection
	UserID        uuid.UUID
	AccountID     *uuid.UUID
	Amount        int64
	FeeAmount     int64
	FeeAccountID  *uuid.UUID
	LedgerEntryID *uuid.UUID
	Status        TransferStatus
	ErrorCode     *string
	ErrorMessage  *string
	BalanceAfter  *int64
	CreatedAt     time.Time
}
