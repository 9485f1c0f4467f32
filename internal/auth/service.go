package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
	"github.com/odyssey-erp/odyssey-bank/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-bank/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	users UserFinder
}

// NewService constructs a new Service.
func NewService(users UserFinder) *Service {
	return &Service{users: users}
}

// Authenticate validates login/password credentials. Frozen users other than
// administrators are refused with ledger.ErrAccountFrozen.
func (s *Service) Authenticate(ctx context.Context, loginID, password string) (ledger.PublicUser, error) {
	user, err := s.users.GetUserByLogin(ctx, strings.TrimSpace(loginID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.PublicUser{}, shared.ErrInvalidCredentials
		}
		return ledger.PublicUser{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return ledger.PublicUser{}, shared.ErrInvalidCredentials
	}
	if user.Status == ledger.StatusFrozen && user.Role != ledger.RoleAdmin {
		return ledger.PublicUser{}, ledger.ErrAccountFrozen
	}
	return user.Public(), nil
}

// RequireAdmin reports httpx.ErrForbidden unless actorID names an administrator.
func (s *Service) RequireAdmin(ctx context.Context, actorID string) error {
	if actorID == "" {
		return httpx.ErrUnauthorized
	}
	user, err := s.users.GetUser(ctx, ledger.NormalizeAccountNumber(actorID))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return httpx.ErrUnauthorized
		}
		return err
	}
	if user.Role != ledger.RoleAdmin {
		return httpx.ErrForbidden
	}
	return nil
}
