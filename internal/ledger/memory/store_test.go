package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
)

func seedUser(t *testing.T, s *Store, id, login string, at time.Time) {
	t.Helper()
	err := s.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		if err := tx.CreateUser(ctx, ledger.User{ID: id, LoginID: login, RealName: login, Role: ledger.RoleUser, Status: ledger.StatusActive, CreatedAt: at}); err != nil {
			return err
		}
		return tx.CreateSubAccount(ctx, ledger.SubAccount{ID: "SUB-" + id, UserID: id, Name: ledger.DefaultSubAccountName, CreatedAt: at})
	})
	require.NoError(t, err)
}

func TestWithTxDiscardsFailedWork(t *testing.T) {
	s := NewStore()
	now := time.Now()
	seedUser(t, s, "100010001000", "alice", now)

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		require.NoError(t, tx.SetBalance(ctx, "SUB-100010001000", decimal.NewFromInt(50)))
		require.NoError(t, tx.AppendTransaction(ctx, ledger.Transaction{ID: "t1", UserID: "100010001000"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	sub, err := s.GetSubAccount(context.Background(), "SUB-100010001000", "")
	require.NoError(t, err)
	require.True(t, sub.Balance.IsZero())
	records, err := s.ListTransactionsByUser(context.Background(), "100010001000")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestCreateUserConflicts(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "100010001000", "alice", time.Now())

	err := s.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		return tx.CreateUser(ctx, ledger.User{ID: "100010001000", LoginID: "other"})
	})
	require.ErrorIs(t, err, ledger.ErrAccountNumberTaken)

	err = s.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		return tx.CreateUser(ctx, ledger.User{ID: "200020002000", LoginID: "alice"})
	})
	require.ErrorIs(t, err, ledger.ErrDuplicateLoginID)
}

func TestOrdering(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedUser(t, s, "100010001000", "alice", base)
	seedUser(t, s, "200020002000", "bob", base.Add(time.Minute))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, "200020002000", users[0].ID)

	err = s.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		if err := tx.CreateSubAccount(ctx, ledger.SubAccount{ID: "SUB-000", UserID: "100010001000", Name: "later", CreatedAt: base}); err != nil {
			return err
		}
		primary, err := tx.PrimarySubAccountID(ctx, "100010001000")
		require.Equal(t, "SUB-100010001000", primary)
		return err
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		for _, id := range []string{"a", "b", "c"} {
			if err := tx.AppendTransaction(ctx, ledger.Transaction{ID: id, UserID: "100010001000", Timestamp: 1}); err != nil {
				return err
			}
		}
		return tx.AppendTransaction(ctx, ledger.Transaction{ID: "old", UserID: "100010001000", Timestamp: 0})
	})
	require.NoError(t, err)

	records, err := s.ListTransactionsByUser(ctx, "100010001000")
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	require.Equal(t, []string{"c", "b", "a", "old"}, ids)

	limited, err := s.ListTransactions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "c", limited[0].ID)
}

func TestDeleteUserCascade(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "100010001000", "alice", time.Now())
	seedUser(t, s, "200020002000", "bob", time.Now())

	err := s.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		if err := tx.AddFavorite(ctx, "200020002000", "100010001000"); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, ledger.Transaction{ID: "t1", UserID: "100010001000"})
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		return tx.DeleteUser(ctx, "100010001000")
	})
	require.NoError(t, err)

	exists, err := s.UserExists(ctx, "100010001000")
	require.NoError(t, err)
	require.False(t, exists)
	favs, err := s.ListFavorites(ctx, "200020002000")
	require.NoError(t, err)
	require.Empty(t, favs)
	subs, err := s.ListSubAccounts(ctx, "100010001000")
	require.NoError(t, err)
	require.Empty(t, subs)
	all, err := s.ListTransactions(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestLockSubAccountsMissing(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "100010001000", "alice", time.Now())
	err := s.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.LockSubAccounts(ctx, "SUB-100010001000", "SUB-missing")
		return err
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestUserSnapshotMatchesListings(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedUser(t, s, "100010001000", "alice", time.Now())
	seedUser(t, s, "200020002000", "bob", time.Now())
	err := s.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		if err := tx.SetBalance(ctx, "SUB-100010001000", decimal.NewFromInt(7)); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, ledger.Transaction{ID: "t1", UserID: "100010001000", Amount: decimal.NewFromInt(7), Timestamp: 1}); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, ledger.Transaction{ID: "t2", UserID: "200020002000", Timestamp: 2})
	})
	require.NoError(t, err)

	snap, err := s.UserSnapshot(ctx, "100010001000")
	require.NoError(t, err)
	subs, err := s.ListSubAccounts(ctx, "100010001000")
	require.NoError(t, err)
	journal, err := s.ListTransactionsByUser(ctx, "100010001000")
	require.NoError(t, err)
	require.Equal(t, subs, snap.SubAccounts)
	require.Equal(t, journal, snap.Journal)
	require.Len(t, snap.Journal, 1)
	require.Equal(t, "7", ledger.TotalBalance(snap.SubAccounts).String())

	empty, err := s.UserSnapshot(ctx, "999999999999")
	require.NoError(t, err)
	require.Empty(t, empty.SubAccounts)
	require.Empty(t, empty.Journal)
}
