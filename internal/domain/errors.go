package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientCredit    = errors.New("insufficient credit")
	ErrSameAccount           = errors.New("cannot transfer to same account")
	ErrAccountNotFound       = errors.New("account not found")
	ErrCardNotFound          = errors.New("card not found")
	ErrPaymentExceedsBalance = errors.New("payment exceeds outstanding balance")
	ErrRefundExceedsLimit    = errors.New("refund would exceed credit limit")
	ErrVersionConflict       = errors.New("optimistic lock conflict")
	ErrInvalidCurrency       = errors.New("unsupported currency")
)

// CodedError carries the exact machine-readable code callers of the escrow
// and P2P surfaces pattern-match on.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string { return e.Message }

var (
	ErrCodeAccountNotFound    = &CodedError{"ACCOUNT_NOT_FOUND", "account not found"}
	ErrCodeInsufficientFunds  = &CodedError{"INSUFFICIENT_FUNDS", "insufficient funds"}
	ErrCodeDuplicateHold      = &CodedError{"DUPLICATE_HOLD", "hold already exists for contract"}
	ErrCodeEscrowNotFound     = &CodedError{"ESCROW_NOT_FOUND", "escrow hold not found"}
	ErrCodeEscrowNotHeld      = &CodedError{"ESCROW_NOT_HELD", "escrow hold is not in held state"}
	ErrCodeContractMismatch   = &CodedError{"CONTRACT_MISMATCH", "contract id does not match hold"}
	ErrCodeUserMismatch       = &CodedError{"USER_MISMATCH", "account does not belong to user"}
	ErrCodeNoAccount          = &CodedError{"NO_ACCOUNT", "user has no account"}
	ErrCodeFeeAccountNotFound = &CodedError{"FEE_ACCOUNT_NOT_FOUND", "fee account not found"}
)

// ErrorCode extracts the wire code from an error chain, or empty string.
func ErrorCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
