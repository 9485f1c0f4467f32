package ledger_test

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
	"github.com/odyssey-erp/odyssey-bank/internal/platform/db"
	"github.com/odyssey-erp/odyssey-bank/internal/shared"
)

// pgService connects to ODYSSEY_PG_TEST_DSN and resets the schema. Tests using
// it are skipped when the variable is unset.
func pgService(t *testing.T) *ledger.Service {
	t.Helper()
	dsn := os.Getenv("ODYSSEY_PG_TEST_DSN")
	if dsn == "" {
		t.Skip("ODYSSEY_PG_TEST_DSN not set")
	}
	pool, err := db.New(t.Context(), dsn, 20)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.Migrate(pool, nil))
	_, err = pool.Exec(t.Context(), `TRUNCATE favorite_accounts, transactions, sub_accounts, users, audit_logs`)
	require.NoError(t, err)

	return ledger.NewService(ledger.NewRepository(pool), shared.NewAuditLogger(pool), nil, ledger.ServiceConfig{
		PasswordCost: bcrypt.MinCost,
	})
}

func TestPostgresLedgerFlow(t *testing.T) {
	svc := pgService(t)
	ctx := t.Context()

	alice, err := svc.Register(ctx, ledger.RegisterInput{LoginID: "alice", RealName: "Alice", Password: "secret", InitialDeposit: amount("100")})
	require.NoError(t, err)
	bob, err := svc.Register(ctx, ledger.RegisterInput{LoginID: "bob", RealName: "Bob", Password: "secret"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, ledger.RegisterInput{LoginID: "alice", RealName: "Again", Password: "secret"})
	require.ErrorIs(t, err, ledger.ErrDuplicateLoginID)

	_, err = svc.Transfer(ctx, ledger.TransferInput{SenderID: alice.ID, RecipientAccountNumber: bob.ID, Amount: amount("40.10"), SaveAsFavorite: true})
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, ledger.TransferInput{SenderID: bob.ID, RecipientAccountNumber: alice.ID, Amount: amount("40.11")})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	sub, err := svc.CreateSubAccount(ctx, ledger.SubAccountInput{UserID: alice.ID, Name: "Savings"})
	require.NoError(t, err)
	summary, err := svc.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, summary.SubAccounts, 2)
	primary := summary.SubAccounts[0].ID

	_, err = svc.InternalTransfer(ctx, ledger.InternalTransferInput{UserID: alice.ID, FromSubAccountID: primary, ToSubAccountID: sub.ID, Amount: amount("9.90")})
	require.NoError(t, err)
	_, err = svc.InternalTransfer(ctx, ledger.InternalTransferInput{UserID: alice.ID, FromSubAccountID: sub.ID, ToSubAccountID: primary, Amount: amount("9.91")})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	summary, err = svc.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "59.90", summary.Balance.StringFixed(2))
	require.Equal(t, "9.90", summary.SubAccounts[1].Balance.StringFixed(2))

	favorites, err := svc.ListFavorites(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, favorites, 1)

	report, err := svc.CheckIntegrity(ctx)
	require.NoError(t, err)
	require.Empty(t, report.Violations)
	require.Equal(t, "100.00", report.Total.StringFixed(2))
}

func TestPostgresConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	svc := pgService(t)
	ctx := t.Context()
	user, err := svc.Register(ctx, ledger.RegisterInput{LoginID: "carol", RealName: "Carol", Password: "secret", InitialDeposit: amount("100")})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(ctx, ledger.MovementInput{UserID: user.ID, Amount: amount("10")})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, ledger.ErrInsufficientFunds), ledger.Retryable(err):
			default:
				t.Errorf("withdraw %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	summary, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, summary.Balance.IsNegative())
	require.Equal(t, decimal.NewFromInt(int64(100-10*succeeded)).StringFixed(2), summary.Balance.StringFixed(2))
}

func TestRetryableClassifiesSerializationFailures(t *testing.T) {
	serialization := fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, &pgconn.PgError{Code: "40001"})
	require.True(t, ledger.Retryable(serialization))
	require.False(t, ledger.Retryable(ledger.ErrInsufficientFunds))
}

func TestPostgresIntegrityScanDuringDeposits(t *testing.T) {
	svc := pgService(t)
	ctx := t.Context()
	user, err := svc.Register(ctx, ledger.RegisterInput{LoginID: "dave", RealName: "Dave", Password: "secret", InitialDeposit: amount("10")})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 50 {
			if _, err := svc.Deposit(ctx, ledger.MovementInput{UserID: user.ID, Amount: amount("1")}); err != nil && !ledger.Retryable(err) {
				t.Errorf("deposit: %v", err)
				return
			}
		}
	}()
	for scanning := true; scanning; {
		select {
		case <-done:
			scanning = false
		default:
		}
		report, err := svc.CheckIntegrity(ctx)
		if err != nil || len(report.Violations) > 0 {
			t.Errorf("scan: %v %+v", err, report.Violations)
			break
		}
	}
	<-done
}

func TestPostgresRejectsBalancesAboveColumnLimit(t *testing.T) {
	svc := pgService(t)
	ctx := t.Context()
	user, err := svc.Register(ctx, ledger.RegisterInput{LoginID: "erin", RealName: "Erin", Password: "secret", InitialDeposit: ledger.MaxBalance})
	require.NoError(t, err)

	_, err = svc.Deposit(ctx, ledger.MovementInput{UserID: user.ID, Amount: amount("0.01")})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	require.False(t, ledger.Retryable(err))

	summary, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, summary.Balance.Equal(ledger.MaxBalance))
}
