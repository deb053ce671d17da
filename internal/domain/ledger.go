package domain

import (
	"time"

	"github.com/google/uuid"
)

type EntryType string

const (
	EntryTypeDeposit       EntryType = "deposit"
	EntryTypeWithdrawal    EntryType = "withdrawal"
	EntryTypeTransferIn    EntryType = "transfer_in"
	EntryTypeTransferOut   EntryType = "transfer_out"
	EntryTypeCharge        EntryType = "charge"
	EntryTypePayment       EntryType = "payment"
	EntryTypeRefund        EntryType = "refund"
	EntryTypeFee           EntryType = "fee"
	EntryTypeEscrowHold    EntryType = "escrow_hold"
	EntryTypeEscrowRelease EntryType = "escrow_release"
	EntryTypeEscrowReturn  EntryType = "escrow_return"
)

// LedgerEntry is the immutable record of one balance-affecting event.
// Exactly one of AccountID/InstrumentID is set; BalanceAfter snapshots the
// account balance (or available credit) as of this entry. Entries are never
// updated or deleted.
type LedgerEntry struct {
	ID           uuid.UUID
	EntryType    EntryType
	Amount       int64
	BalanceAfter int64
	Description  *string
	MerchantID   *string
	MerchantName *string
	AccountID    *uuid.UUID
	InstrumentID *uuid.UUID
	CreatedAt    time.Time
}
