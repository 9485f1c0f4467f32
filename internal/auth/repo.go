package auth

import (
	"context"

	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
)

// UserFinder looks up ledger users. ledger.Repository satisfies it.
type UserFinder interface {
	GetUser(ctx context.Context, userID string) (ledger.User, error)
	GetUserByLogin(ctx context.Context, loginID string) (ledger.User, error)
}
