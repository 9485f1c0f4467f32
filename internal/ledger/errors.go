package ledger

import "errors"

var (
	// ErrInvalidAmount indicates a zero, negative, sub-cent or out-of-range amount.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrNotFound indicates a missing user or sub-account, or one owned by someone else.
	ErrNotFound = errors.New("ledger: not found")
	// ErrInsufficientFunds indicates the source balance cannot cover the amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrSelfTransfer indicates sender and recipient are the same.
	ErrSelfTransfer = errors.New("ledger: self transfer")
	// ErrDuplicateLoginID indicates the login identifier is already registered.
	ErrDuplicateLoginID = errors.New("ledger: duplicate login id")
	// ErrExhaustedRetries indicates no free account number was found.
	ErrExhaustedRetries = errors.New("ledger: identifier retries exhausted")
	// ErrLastAccountProtected indicates an attempt to delete the only sub-account.
	ErrLastAccountProtected = errors.New("ledger: last sub-account cannot be deleted")
	// ErrNonZeroBalance indicates an attempt to delete a funded sub-account.
	ErrNonZeroBalance = errors.New("ledger: sub-account balance is not zero")
	// ErrStoreUnavailable indicates the store failed or the unit of work could not commit.
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
	// ErrAccountFrozen indicates the acting user is frozen.
	ErrAccountFrozen = errors.New("ledger: account frozen")
	// ErrAdminProtected indicates an administrative account cannot be removed.
	ErrAdminProtected = errors.New("ledger: admin account protected")
	// ErrInvalidInput indicates a missing or malformed identifier or field.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrAccountNumberTaken is returned by stores when a generated account
	// number lost a race with a concurrent registration.
	ErrAccountNumberTaken = errors.New("ledger: account number taken")
)

// Retryable reports whether err may succeed when the whole operation is retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
