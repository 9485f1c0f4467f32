package ledger

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Register opens a user with a fresh account number and a primary
// sub-account seeded with the initial deposit.
func (s *Service) Register(ctx context.Context, in RegisterInput) (PublicUser, error) {
	if err := in.Validate(); err != nil {
		return PublicUser{}, err
	}
	loginID := strings.TrimSpace(in.LoginID)
	if _, err := s.repo.GetUserByLogin(ctx, loginID); err == nil {
		return PublicUser{}, ErrDuplicateLoginID
	} else if !errors.Is(err, ErrNotFound) {
		return PublicUser{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.passwordCost)
	if err != nil {
		return PublicUser{}, err
	}
	role := in.Role
	if role == "" {
		role = RoleUser
	}

	// Two registrations may draw the same free number; the store rejects the
	// loser, which draws again.
	for collisions := 0; collisions < s.accountNumbers.MaxAttempts(); collisions++ {
		id, err := s.accountNumbers.Generate(ctx, s.repo.UserExists)
		if err != nil {
			return PublicUser{}, err
		}
		now := s.now()
		user := User{
			ID:           id,
			LoginID:      loginID,
			RealName:     strings.TrimSpace(in.RealName),
			PasswordHash: string(hash),
			Role:         role,
			Status:       StatusActive,
			CreatedAt:    now,
		}
		sub := SubAccount{
			ID:        NewSubAccountID(),
			UserID:    id,
			Name:      DefaultSubAccountName,
			Balance:   in.InitialDeposit,
			Color:     DefaultColor,
			CreatedAt: now,
		}
		_, err = s.execute(ctx, opRegister, func(ctx context.Context, tx TxRepository, res *Result) error {
			if err := tx.CreateUser(ctx, user); err != nil {
				return err
			}
			if err := tx.CreateSubAccount(ctx, sub); err != nil {
				return err
			}
			res.SubAccounts = append(res.SubAccounts, sub)
			if in.InitialDeposit.IsPositive() {
				return s.post(ctx, tx, res, s.record(id, TxTypeDeposit, in.InitialDeposit, "Opening deposit to "+sub.Name, sub.ID))
			}
			return nil
		})
		if errors.Is(err, ErrAccountNumberTaken) {
			continue
		}
		if err != nil {
			return PublicUser{}, err
		}
		return user.Public(), nil
	}
	return PublicUser{}, ErrExhaustedRetries
}

// CreateSubAccount adds a zero-balance sub-account to the user.
func (s *Service) CreateSubAccount(ctx context.Context, in SubAccountInput) (SubAccount, error) {
	if err := required("user id", in.UserID); err != nil {
		return SubAccount{}, err
	}
	sub := SubAccount{
		ID:        NewSubAccountID(),
		UserID:    NormalizeAccountNumber(in.UserID),
		Name:      strings.TrimSpace(in.Name),
		Color:     strings.TrimSpace(in.Color),
		CreatedAt: s.now(),
	}
	if sub.Name == "" {
		sub.Name = NewSubAccountName
	}
	if sub.Color == "" {
		sub.Color = DefaultColor
	}
	err := s.inTx(ctx, opSubAccount, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetUser(ctx, sub.UserID); err != nil {
			return err
		}
		return tx.CreateSubAccount(ctx, sub)
	})
	if err != nil {
		return SubAccount{}, err
	}
	return sub, nil
}

// RenameSubAccount changes the display name of a sub-account owned by userID.
func (s *Service) RenameSubAccount(ctx context.Context, userID, subAccountID, name string) (SubAccount, error) {
	if err := required("sub-account id", subAccountID); err != nil {
		return SubAccount{}, err
	}
	name = strings.TrimSpace(name)
	if err := required("name", name); err != nil {
		return SubAccount{}, err
	}
	userID = NormalizeAccountNumber(userID)
	var renamed SubAccount
	err := s.inTx(ctx, opSubAccount, func(ctx context.Context, tx TxRepository) error {
		sub, err := lockOwned(ctx, tx, userID, subAccountID)
		if err != nil {
			return err
		}
		if err := tx.RenameSubAccount(ctx, sub.ID, name); err != nil {
			return err
		}
		sub.Name = name
		renamed = sub
		return nil
	})
	if err != nil {
		return SubAccount{}, err
	}
	return renamed, nil
}

// DeleteSubAccount removes an empty sub-account. A user's last sub-account
// cannot be removed.
func (s *Service) DeleteSubAccount(ctx context.Context, userID, subAccountID string) error {
	if err := required("sub-account id", subAccountID); err != nil {
		return err
	}
	userID = NormalizeAccountNumber(userID)
	return s.inTx(ctx, opSubAccount, func(ctx context.Context, tx TxRepository) error {
		if _, err := lockOwned(ctx, tx, userID, subAccountID); err != nil {
			return err
		}
		return tx.DeleteSubAccount(ctx, subAccountID)
	})
}

// AddFavorite saves another user for quick transfers.
func (s *Service) AddFavorite(ctx context.Context, userID, accountNumber string) error {
	userID = NormalizeAccountNumber(userID)
	target := NormalizeAccountNumber(accountNumber)
	if err := required("account number", target); err != nil {
		return err
	}
	if userID == target {
		return ErrSelfTransfer
	}
	return s.inTx(ctx, opFavorite, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, target); err != nil {
			return err
		}
		return tx.AddFavorite(ctx, userID, target)
	})
}

// RemoveFavorite deletes a saved favorite.
func (s *Service) RemoveFavorite(ctx context.Context, userID, accountNumber string) error {
	userID = NormalizeAccountNumber(userID)
	target := NormalizeAccountNumber(accountNumber)
	return s.inTx(ctx, opFavorite, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteFavorite(ctx, userID, target)
	})
}

// ListFavorites returns the user's saved favorites.
func (s *Service) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	return s.repo.ListFavorites(ctx, NormalizeAccountNumber(userID))
}

// ToggleUserStatus flips a user between active and frozen and returns the new
// status.
func (s *Service) ToggleUserStatus(ctx context.Context, userID string) (Status, error) {
	userID = NormalizeAccountNumber(userID)
	var next Status
	err := s.inTx(ctx, opUserAdmin, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		next = StatusFrozen
		if user.Status == StatusFrozen {
			next = StatusActive
		}
		return tx.SetUserStatus(ctx, userID, next)
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// DeleteUser removes a non-admin user with everything it owns.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	userID = NormalizeAccountNumber(userID)
	return s.inTx(ctx, opUserAdmin, func(ctx context.Context, tx TxRepository) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if user.Role == RoleAdmin {
			return ErrAdminProtected
		}
		return tx.DeleteUser(ctx, userID)
	})
}

// GetUser returns the user with its sub-accounts and total balance.
func (s *Service) GetUser(ctx context.Context, userID string) (UserSummary, error) {
	userID = NormalizeAccountNumber(userID)
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return UserSummary{}, err
	}
	subs, err := s.repo.ListSubAccounts(ctx, userID)
	if err != nil {
		return UserSummary{}, err
	}
	return UserSummary{PublicUser: user.Public(), Balance: TotalBalance(subs), SubAccounts: subs}, nil
}

// ListTransactions returns the user's journal newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string) ([]Transaction, error) {
	userID = NormalizeAccountNumber(userID)
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListTransactionsByUser(ctx, userID)
}

// ListAllTransactions returns the most recent journal records across users.
func (s *Service) ListAllTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, limit)
}

// ListUserBalances summarises every non-admin user, newest first.
func (s *Service) ListUserBalances(ctx context.Context) ([]UserSummary, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserSummary, 0, len(users))
	for _, user := range users {
		if user.Role == RoleAdmin {
			continue
		}
		subs, err := s.repo.ListSubAccounts(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, UserSummary{PublicUser: user.Public(), Balance: TotalBalance(subs)})
	}
	return out, nil
}

// CountUsers reports the number of registered users.
func (s *Service) CountUsers(ctx context.Context) (int, error) {
	return s.repo.CountUsers(ctx)
}
