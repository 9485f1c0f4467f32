package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository is the account store and transaction journal. Reads outside
// WithTx observe committed state only.
type Repository interface {
	// WithTx runs fn as one atomic unit of work. Either every write performed
	// through the TxRepository commits or none does.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	UserExists(ctx context.Context, userID string) (bool, error)
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByLogin(ctx context.Context, loginID string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CountUsers(ctx context.Context) (int, error)

	// ListSubAccounts returns the user's sub-accounts ordered by creation
	// time; index 0 is the primary sub-account.
	ListSubAccounts(ctx context.Context, userID string) ([]SubAccount, error)
	// GetSubAccount fetches a sub-account. A non-empty owner scopes the lookup
	// and yields ErrNotFound for sub-accounts of other users.
	GetSubAccount(ctx context.Context, subAccountID, owner string) (SubAccount, error)

	// ListTransactionsByUser returns the user's journal newest first.
	ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error)
	// ListTransactions returns at most limit journal records newest first.
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)
	// UserSnapshot reads the user's sub-accounts and journal as of a single
	// point in time.
	UserSnapshot(ctx context.Context, userID string) (UserSnapshot, error)

	ListFavorites(ctx context.Context, userID string) ([]Favorite, error)
}

// UserSnapshot is a consistent view of one user's balances and journal.
type UserSnapshot struct {
	SubAccounts []SubAccount
	Journal     []Transaction
}

// TxRepository exposes the operations available inside a unit of work.
type TxRepository interface {
	GetUser(ctx context.Context, userID string) (User, error)
	// CreateUser fails with ErrDuplicateLoginID or ErrAccountNumberTaken on
	// uniqueness conflicts.
	CreateUser(ctx context.Context, user User) error
	SetUserStatus(ctx context.Context, userID string, status Status) error
	// DeleteUser removes the user together with its sub-accounts, journal and
	// favorites on either side.
	DeleteUser(ctx context.Context, userID string) error

	CreateSubAccount(ctx context.Context, sub SubAccount) error
	// PrimarySubAccountID returns the earliest created sub-account of a user.
	PrimarySubAccountID(ctx context.Context, userID string) (string, error)
	// LockSubAccounts locks the given sub-accounts in ascending ID order and
	// returns their current state. Any missing ID yields ErrNotFound.
	LockSubAccounts(ctx context.Context, ids ...string) (map[string]SubAccount, error)
	// SetBalance writes a balance unconditionally; callers guarantee it is
	// non-negative and pair it with a journal record.
	SetBalance(ctx context.Context, subAccountID string, balance decimal.Decimal) error
	RenameSubAccount(ctx context.Context, subAccountID, name string) error
	// DeleteSubAccount fails with ErrLastAccountProtected when it is the
	// owner's only sub-account and ErrNonZeroBalance when it holds money.
	DeleteSubAccount(ctx context.Context, subAccountID string) error

	AppendTransaction(ctx context.Context, tx Transaction) error

	// AddFavorite is a no-op when the pair already exists.
	AddFavorite(ctx context.Context, userID, favoriteUserID string) error
	DeleteFavorite(ctx context.Context, userID, favoriteUserID string) error
}
