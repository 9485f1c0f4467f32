package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-bank/internal/platform/db"
)

const (
	constraintUsersPkey    = "users_pkey"
	constraintUsersLoginID = "users_login_id_key"

	maxListLimit     = 1000
	defaultListLimit = 100

	codeNumericOutOfRange = "22003"
)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return storeError(err)
}

func (r *repository) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id=$1)`, userID).Scan(&exists)
	return exists, storeError(err)
}

func (r *repository) GetUser(ctx context.Context, userID string) (User, error) {
	return getUser(ctx, r.pool, `WHERE id=$1`, userID)
}

func (r *repository) GetUserByLogin(ctx context.Context, loginID string) (User, error) {
	return getUser(ctx, r.pool, `WHERE login_id=$1`, loginID)
}

func (r *repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, login_id, real_name, password_hash, role, status, created_at FROM users ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, storeError(err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storeError(err)
		}
		users = append(users, user)
	}
	return users, storeError(rows.Err())
}

func (r *repository) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, storeError(err)
}

func (r *repository) ListSubAccounts(ctx context.Context, userID string) ([]SubAccount, error) {
	return listSubAccounts(ctx, r.pool, userID)
}

// UserSnapshot reads the user's sub-accounts and journal inside one read-only
// REPEATABLE READ transaction so both see the same committed state.
func (r *repository) UserSnapshot(ctx context.Context, userID string) (UserSnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return UserSnapshot{}, storeError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	subs, err := listSubAccounts(ctx, tx, userID)
	if err != nil {
		return UserSnapshot{}, err
	}
	journal, err := listTransactions(ctx, tx, `WHERE user_id=$1 ORDER BY occurred_at_ms DESC, id`, userID)
	if err != nil {
		return UserSnapshot{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return UserSnapshot{}, storeError(err)
	}
	return UserSnapshot{SubAccounts: subs, Journal: journal}, nil
}

func listSubAccounts(ctx context.Context, q queryer, userID string) ([]SubAccount, error) {
	rows, err := q.Query(ctx, `SELECT id, user_id, name, balance::text, color, created_at
FROM sub_accounts WHERE user_id=$1 ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, storeError(err)
	}
	defer rows.Close()
	var subs []SubAccount
	for rows.Next() {
		sub, err := scanSubAccount(rows)
		if err != nil {
			return nil, storeError(err)
		}
		subs = append(subs, sub)
	}
	return subs, storeError(rows.Err())
}

func (r *repository) GetSubAccount(ctx context.Context, subAccountID, owner string) (SubAccount, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, user_id, name, balance::text, color, created_at FROM sub_accounts WHERE id=$1`, subAccountID)
	sub, err := scanSubAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SubAccount{}, ErrNotFound
		}
		return SubAccount{}, storeError(err)
	}
	if owner != "" && sub.UserID != owner {
		return SubAccount{}, ErrNotFound
	}
	return sub, nil
}

func (r *repository) ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error) {
	return listTransactions(ctx, r.pool, `WHERE user_id=$1 ORDER BY occurred_at_ms DESC, id`, userID)
}

func (r *repository) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	return listTransactions(ctx, r.pool, `ORDER BY occurred_at_ms DESC, id LIMIT $1`, clampLimit(limit))
}

func (r *repository) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	rows, err := r.pool.Query(ctx, `SELECT f.user_id, u.id, u.real_name
FROM favorite_accounts f JOIN users u ON u.id = f.favorite_user_id
WHERE f.user_id=$1 ORDER BY f.created_at ASC`, userID)
	if err != nil {
		return nil, storeError(err)
	}
	defer rows.Close()
	var favorites []Favorite
	for rows.Next() {
		var fav Favorite
		if err := rows.Scan(&fav.UserID, &fav.FavoriteUserID, &fav.RealName); err != nil {
			return nil, storeError(err)
		}
		favorites = append(favorites, fav)
	}
	return favorites, storeError(rows.Err())
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetUser(ctx context.Context, userID string) (User, error) {
	return getUser(ctx, r.tx, `WHERE id=$1`, userID)
}

func (r *txRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO users (id, login_id, real_name, password_hash, role, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, user.ID, user.LoginID, user.RealName, user.PasswordHash, user.Role, user.Status, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case constraintUsersLoginID:
				return ErrDuplicateLoginID
			case constraintUsersPkey:
				return ErrAccountNumberTaken
			}
		}
		return err
	}
	return nil
}

func (r *txRepository) SetUserStatus(ctx context.Context, userID string, status Status) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE users SET status=$2 WHERE id=$1`, userID, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) DeleteUser(ctx context.Context, userID string) error {
	if _, err := r.tx.Exec(ctx, `SELECT id FROM users WHERE id=$1 FOR UPDATE`, userID); err != nil {
		return err
	}
	// Cascades are declared on the schema too; they are repeated here so the
	// rule does not depend on it.
	cascade := []string{
		`DELETE FROM favorite_accounts WHERE user_id=$1 OR favorite_user_id=$1`,
		`DELETE FROM transactions WHERE user_id=$1`,
		`DELETE FROM sub_accounts WHERE user_id=$1`,
	}
	for _, stmt := range cascade {
		if _, err := r.tx.Exec(ctx, stmt, userID); err != nil {
			return err
		}
	}
	cmd, err := r.tx.Exec(ctx, `DELETE FROM users WHERE id=$1`, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) CreateSubAccount(ctx context.Context, sub SubAccount) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO sub_accounts (id, user_id, name, balance, color, created_at)
VALUES ($1,$2,$3,$4::numeric,$5,$6)`, sub.ID, sub.UserID, sub.Name, sub.Balance.StringFixed(minorUnits), sub.Color, sub.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (r *txRepository) PrimarySubAccountID(ctx context.Context, userID string) (string, error) {
	var id string
	err := r.tx.QueryRow(ctx, `SELECT id FROM sub_accounts WHERE user_id=$1 ORDER BY created_at ASC, id ASC LIMIT 1`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return id, nil
}

func (r *txRepository) LockSubAccounts(ctx context.Context, ids ...string) (map[string]SubAccount, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)
	rows, err := r.tx.Query(ctx, `SELECT id, user_id, name, balance::text, color, created_at
FROM sub_accounts WHERE id = ANY($1) ORDER BY id ASC FOR UPDATE`, ordered)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	locked := make(map[string]SubAccount, len(ordered))
	for rows.Next() {
		sub, err := scanSubAccount(rows)
		if err != nil {
			return nil, err
		}
		locked[sub.ID] = sub
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(locked) != len(ordered) {
		return nil, ErrNotFound
	}
	return locked, nil
}

func (r *txRepository) SetBalance(ctx context.Context, subAccountID string, balance decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE sub_accounts SET balance=$2::numeric WHERE id=$1`, subAccountID, balance.StringFixed(minorUnits))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) RenameSubAccount(ctx context.Context, subAccountID, name string) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE sub_accounts SET name=$2 WHERE id=$1`, subAccountID, name)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *txRepository) DeleteSubAccount(ctx context.Context, subAccountID string) error {
	var owner string
	if err := r.tx.QueryRow(ctx, `SELECT user_id FROM sub_accounts WHERE id=$1`, subAccountID).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, user_id, name, balance::text, color, created_at
FROM sub_accounts WHERE user_id=$1 ORDER BY id ASC FOR UPDATE`, owner)
	if err != nil {
		return err
	}
	var siblings []SubAccount
	for rows.Next() {
		sub, err := scanSubAccount(rows)
		if err != nil {
			rows.Close()
			return err
		}
		siblings = append(siblings, sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	idx := slices.IndexFunc(siblings, func(s SubAccount) bool { return s.ID == subAccountID })
	if idx < 0 {
		return ErrNotFound
	}
	if len(siblings) <= 1 {
		return ErrLastAccountProtected
	}
	if !siblings[idx].Balance.IsZero() {
		return ErrNonZeroBalance
	}
	_, err = r.tx.Exec(ctx, `DELETE FROM sub_accounts WHERE id=$1`, subAccountID)
	return err
}

func (r *txRepository) AppendTransaction(ctx context.Context, t Transaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transactions (id, user_id, type, amount, note, display_time, occurred_at_ms, sub_account_id)
VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8)`, t.ID, t.UserID, t.Type, t.Amount.StringFixed(minorUnits), t.Note, t.Time, t.Timestamp, t.SubAccountID)
	return err
}

func (r *txRepository) AddFavorite(ctx context.Context, userID, favoriteUserID string) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO favorite_accounts (user_id, favorite_user_id) VALUES ($1,$2)
ON CONFLICT (user_id, favorite_user_id) DO NOTHING`, userID, favoriteUserID)
	return err
}

func (r *txRepository) DeleteFavorite(ctx context.Context, userID, favoriteUserID string) error {
	cmd, err := r.tx.Exec(ctx, `DELETE FROM favorite_accounts WHERE user_id=$1 AND favorite_user_id=$2`, userID, favoriteUserID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func getUser(ctx context.Context, q queryer, where string, arg any) (User, error) {
	row := q.QueryRow(ctx, `SELECT id, login_id, real_name, password_hash, role, status, created_at FROM users `+where, arg)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, storeError(err)
	}
	return user, nil
}

func listTransactions(ctx context.Context, q queryer, clause string, args ...any) ([]Transaction, error) {
	rows, err := q.Query(ctx, `SELECT id, user_id, type, amount::text, note, display_time, occurred_at_ms, sub_account_id FROM transactions `+clause, args...)
	if err != nil {
		return nil, storeError(err)
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var (
			t      Transaction
			amount string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &amount, &t.Note, &t.Time, &t.Timestamp, &t.SubAccountID); err != nil {
			return nil, storeError(err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, storeError(err)
		}
		out = append(out, t)
	}
	return out, storeError(rows.Err())
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.LoginID, &user.RealName, &user.PasswordHash, &user.Role, &user.Status, &user.CreatedAt)
	return user, err
}

func scanSubAccount(row pgx.Row) (SubAccount, error) {
	var (
		sub     SubAccount
		balance string
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Name, &balance, &sub.Color, &sub.CreatedAt); err != nil {
		return SubAccount{}, err
	}
	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return SubAccount{}, fmt.Errorf("ledger: parse balance of %s: %w", sub.ID, err)
	}
	sub.Balance = parsed
	return sub, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

var domainErrors = []error{
	ErrInvalidAmount, ErrNotFound, ErrInsufficientFunds, ErrSelfTransfer,
	ErrDuplicateLoginID, ErrExhaustedRetries, ErrLastAccountProtected,
	ErrNonZeroBalance, ErrStoreUnavailable, ErrAccountFrozen,
	ErrAdminProtected, ErrInvalidInput, ErrAccountNumberTaken,
	context.Canceled, context.DeadlineExceeded,
}

// storeError classifies driver failures as ErrStoreUnavailable while letting
// domain errors through untouched. Out-of-range numerics surface as
// ErrInvalidAmount since retrying them cannot succeed.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeNumericOutOfRange {
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

var _ Repository = (*repository)(nil)
var _ TxRepository = (*txRepository)(nil)
