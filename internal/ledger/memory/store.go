// Package memory provides an in-process ledger.Repository used by tests and
// by LEDGER_STORE=memory deployments.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type favoriteKey struct {
	userID, favoriteUserID string
}

type state struct {
	seq       int64
	users     map[string]userRow
	subs      map[string]subRow
	journal   []ledger.Transaction
	favorites map[favoriteKey]int64
}

type userRow struct {
	ledger.User
	seq int64
}

type subRow struct {
	ledger.SubAccount
	seq int64
}

func newState() *state {
	return &state{
		users:     make(map[string]userRow),
		subs:      make(map[string]subRow),
		favorites: make(map[favoriteKey]int64),
	}
}

func (s *state) clone() *state {
	return &state{
		seq:       s.seq,
		users:     maps.Clone(s.users),
		subs:      maps.Clone(s.subs),
		// the journal is append-only within a unit of work, so the clone
		// shares the backing array and only writes past the committed length
		journal:   s.journal,
		favorites: maps.Clone(s.favorites),
	}
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Store keeps ledger state in memory. Units of work are serialized and applied
// to a private copy that replaces the committed state only when fn succeeds.
type Store struct {
	mu        sync.Mutex
	committed *state
	appendErr error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{committed: newState()}
}

// FailAppends makes every subsequent AppendTransaction fail with err until it
// is called again with nil.
func (s *Store) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.committed.clone()
	if err := fn(ctx, &tx{st: work, appendErr: s.appendErr}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.committed = work
	return nil
}

func (s *Store) UserExists(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.committed.users[userID]
	return ok, nil
}

func (s *Store) GetUser(_ context.Context, userID string) (ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.committed.users[userID]
	if !ok {
		return ledger.User{}, ledger.ErrNotFound
	}
	return row.User, nil
}

func (s *Store) GetUserByLogin(_ context.Context, loginID string) (ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.committed.users {
		if row.LoginID == loginID {
			return row.User, nil
		}
	}
	return ledger.User{}, ledger.ErrNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]ledger.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := slices.Collect(maps.Values(s.committed.users))
	slices.SortFunc(rows, func(a, b userRow) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	users := make([]ledger.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.User)
	}
	return users, nil
}

func (s *Store) CountUsers(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.committed.users), nil
}

func (s *Store) ListSubAccounts(_ context.Context, userID string) ([]ledger.SubAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.subAccountsOf(userID), nil
}

func (s *Store) GetSubAccount(_ context.Context, subAccountID, owner string) (ledger.SubAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.committed.subs[subAccountID]
	if !ok || (owner != "" && row.UserID != owner) {
		return ledger.SubAccount{}, ledger.ErrNotFound
	}
	return row.SubAccount, nil
}

func (s *Store) ListTransactionsByUser(_ context.Context, userID string) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.journalOf(userID), nil
}

func (s *Store) UserSnapshot(_ context.Context, userID string) (ledger.UserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledger.UserSnapshot{
		SubAccounts: s.committed.subAccountsOf(userID),
		Journal:     s.committed.journalOf(userID),
	}, nil
}

func (s *state) journalOf(userID string) []ledger.Transaction {
	var out []ledger.Transaction
	for i := len(s.journal) - 1; i >= 0; i-- {
		if rec := s.journal[i]; rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out
}

func (s *Store) ListTransactions(_ context.Context, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.committed.journal)
	slices.Reverse(out)
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListFavorites(_ context.Context, userID string) ([]ledger.Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		fav ledger.Favorite
		seq int64
	}
	var entries []entry
	for key, seq := range s.committed.favorites {
		if key.userID != userID {
			continue
		}
		target := s.committed.users[key.favoriteUserID]
		entries = append(entries, entry{
			fav: ledger.Favorite{UserID: userID, FavoriteUserID: key.favoriteUserID, RealName: target.RealName},
			seq: seq,
		})
	}
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]ledger.Favorite, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.fav)
	}
	return out, nil
}

// sortNewestFirst orders by timestamp descending; the input is expected in
// reverse insertion order so the stable sort keeps later records first on ties.
func sortNewestFirst(records []ledger.Transaction) {
	slices.SortStableFunc(records, func(a, b ledger.Transaction) int {
		return cmp.Compare(b.Timestamp, a.Timestamp)
	})
}

func (s *state) subAccountsOf(userID string) []ledger.SubAccount {
	var rows []subRow
	for _, row := range s.subs {
		if row.UserID == userID {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b subRow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]ledger.SubAccount, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.SubAccount)
	}
	return out
}

type tx struct {
	st        *state
	appendErr error
}

func (t *tx) GetUser(_ context.Context, userID string) (ledger.User, error) {
	row, ok := t.st.users[userID]
	if !ok {
		return ledger.User{}, ledger.ErrNotFound
	}
	return row.User, nil
}

func (t *tx) CreateUser(_ context.Context, user ledger.User) error {
	if _, ok := t.st.users[user.ID]; ok {
		return ledger.ErrAccountNumberTaken
	}
	for _, row := range t.st.users {
		if row.LoginID == user.LoginID {
			return ledger.ErrDuplicateLoginID
		}
	}
	t.st.users[user.ID] = userRow{User: user, seq: t.st.next()}
	return nil
}

func (t *tx) SetUserStatus(_ context.Context, userID string, status ledger.Status) error {
	row, ok := t.st.users[userID]
	if !ok {
		return ledger.ErrNotFound
	}
	row.Status = status
	t.st.users[userID] = row
	return nil
}

func (t *tx) DeleteUser(_ context.Context, userID string) error {
	if _, ok := t.st.users[userID]; !ok {
		return ledger.ErrNotFound
	}
	maps.DeleteFunc(t.st.favorites, func(key favoriteKey, _ int64) bool {
		return key.userID == userID || key.favoriteUserID == userID
	})
	kept := make([]ledger.Transaction, 0, len(t.st.journal))
	for _, rec := range t.st.journal {
		if rec.UserID != userID {
			kept = append(kept, rec)
		}
	}
	t.st.journal = kept
	maps.DeleteFunc(t.st.subs, func(_ string, row subRow) bool {
		return row.UserID == userID
	})
	delete(t.st.users, userID)
	return nil
}

func (t *tx) CreateSubAccount(_ context.Context, sub ledger.SubAccount) error {
	if _, ok := t.st.users[sub.UserID]; !ok {
		return ledger.ErrNotFound
	}
	t.st.subs[sub.ID] = subRow{SubAccount: sub, seq: t.st.next()}
	return nil
}

func (t *tx) PrimarySubAccountID(_ context.Context, userID string) (string, error) {
	subs := t.st.subAccountsOf(userID)
	if len(subs) == 0 {
		return "", ledger.ErrNotFound
	}
	return subs[0].ID, nil
}

func (t *tx) LockSubAccounts(_ context.Context, ids ...string) (map[string]ledger.SubAccount, error) {
	out := make(map[string]ledger.SubAccount, len(ids))
	for _, id := range ids {
		row, ok := t.st.subs[id]
		if !ok {
			return nil, ledger.ErrNotFound
		}
		out[id] = row.SubAccount
	}
	return out, nil
}

func (t *tx) SetBalance(_ context.Context, subAccountID string, balance decimal.Decimal) error {
	row, ok := t.st.subs[subAccountID]
	if !ok {
		return ledger.ErrNotFound
	}
	row.Balance = balance
	t.st.subs[subAccountID] = row
	return nil
}

func (t *tx) RenameSubAccount(_ context.Context, subAccountID, name string) error {
	row, ok := t.st.subs[subAccountID]
	if !ok {
		return ledger.ErrNotFound
	}
	row.Name = name
	t.st.subs[subAccountID] = row
	return nil
}

func (t *tx) DeleteSubAccount(_ context.Context, subAccountID string) error {
	row, ok := t.st.subs[subAccountID]
	if !ok {
		return ledger.ErrNotFound
	}
	if len(t.st.subAccountsOf(row.UserID)) <= 1 {
		return ledger.ErrLastAccountProtected
	}
	if !row.Balance.IsZero() {
		return ledger.ErrNonZeroBalance
	}
	delete(t.st.subs, subAccountID)
	return nil
}

func (t *tx) AppendTransaction(_ context.Context, rec ledger.Transaction) error {
	if t.appendErr != nil {
		return t.appendErr
	}
	t.st.journal = append(t.st.journal, rec)
	return nil
}

func (t *tx) AddFavorite(_ context.Context, userID, favoriteUserID string) error {
	key := favoriteKey{userID: userID, favoriteUserID: favoriteUserID}
	if _, ok := t.st.favorites[key]; ok {
		return nil
	}
	t.st.favorites[key] = t.st.next()
	return nil
}

func (t *tx) DeleteFavorite(_ context.Context, userID, favoriteUserID string) error {
	key := favoriteKey{userID: userID, favoriteUserID: favoriteUserID}
	if _, ok := t.st.favorites[key]; !ok {
		return ledger.ErrNotFound
	}
	delete(t.st.favorites, key)
	return nil
}

var _ ledger.Repository = (*Store)(nil)
var _ ledger.TxRepository = (*tx)(nil)
