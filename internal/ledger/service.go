package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-bank/internal/events"
	"github.com/odyssey-erp/odyssey-bank/internal/shared"
)

const (
	displayTimeLayout = "2006/01/02 15:04:05"

	defaultPublishTimeout = 5 * time.Second
)

const (
	opRegister         = "register"
	opDeposit          = "deposit"
	opWithdraw         = "withdraw"
	opTransfer         = "transfer"
	opInternalTransfer = "internal_transfer"
	opAdjust           = "admin_adjustment"
	opSubAccount       = "sub_account"
	opFavorite         = "favorite"
	opUserAdmin        = "user_admin"
)

// AuditPort records audit trail entries after a unit of work commits.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort observes the outcome of ledger operations.
type MetricsPort interface {
	ObserveOperation(op string, err error, elapsed time.Duration)
}

// ServiceConfig tunes the ledger service.
type ServiceConfig struct {
	AccountNumberAttempts int
	PasswordCost          int
	// PublishTimeout bounds each background event publish. Zero means 5s.
	PublishTimeout        time.Duration
	Logger                *slog.Logger
	Metrics               MetricsPort
}

// Service implements the ledger operations on top of a Repository.
type Service struct {
	repo           Repository
	audit          AuditPort
	publisher      events.Publisher
	accountNumbers *AccountNumberGenerator
	passwordCost   int
	publishTimeout time.Duration
	inflight       sync.WaitGroup
	logger         *slog.Logger
	metrics        MetricsPort
	printer        *message.Printer
	now            func() time.Time
}

// NewService builds the ledger service. audit and publisher may be nil.
func NewService(repo Repository, audit AuditPort, publisher events.Publisher, cfg ServiceConfig) *Service {
	cost := cfg.PasswordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	publishTimeout := cfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:           repo,
		audit:          audit,
		publisher:      publisher,
		accountNumbers: NewAccountNumberGenerator(cfg.AccountNumberAttempts),
		passwordCost:   cost,
		publishTimeout: publishTimeout,
		logger:         logger,
		metrics:        cfg.Metrics,
		printer:        message.NewPrinter(language.English),
		now:            time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Flush waits for background event publishes to finish or for ctx to end.
func (s *Service) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AccountNumbers exposes the identifier generator, mainly for tests.
func (s *Service) AccountNumbers() *AccountNumberGenerator {
	return s.accountNumbers
}

// Deposit credits amount to the given or primary sub-account of the user.
func (s *Service) Deposit(ctx context.Context, in MovementInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	userID := NormalizeAccountNumber(in.UserID)
	return s.execute(ctx, opDeposit, func(ctx context.Context, tx TxRepository, res *Result) error {
		if _, err := activeUser(ctx, tx, userID); err != nil {
			return err
		}
		sub, err := lockOwned(ctx, tx, userID, in.SubAccountID)
		if err != nil {
			return err
		}
		if sub.Balance, err = credit(sub.Balance, in.Amount); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, sub.ID, sub.Balance); err != nil {
			return err
		}
		res.SubAccounts = append(res.SubAccounts, sub)
		return s.post(ctx, tx, res, s.record(userID, TxTypeDeposit, in.Amount, "Deposit to "+sub.Name, sub.ID))
	})
}

// Withdraw debits amount from the given or primary sub-account of the user.
func (s *Service) Withdraw(ctx context.Context, in MovementInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	userID := NormalizeAccountNumber(in.UserID)
	return s.execute(ctx, opWithdraw, func(ctx context.Context, tx TxRepository, res *Result) error {
		if _, err := activeUser(ctx, tx, userID); err != nil {
			return err
		}
		sub, err := lockOwned(ctx, tx, userID, in.SubAccountID)
		if err != nil {
			return err
		}
		if sub.Balance.LessThan(in.Amount) {
			return ErrInsufficientFunds
		}
		sub.Balance = sub.Balance.Sub(in.Amount)
		if err := tx.SetBalance(ctx, sub.ID, sub.Balance); err != nil {
			return err
		}
		res.SubAccounts = append(res.SubAccounts, sub)
		return s.post(ctx, tx, res, s.record(userID, TxTypeWithdrawal, in.Amount.Neg(), "Withdrawal from "+sub.Name, sub.ID))
	})
}

// Transfer moves amount from the sender's primary sub-account to the
// recipient's primary sub-account.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	senderID := NormalizeAccountNumber(in.SenderID)
	recipientID := NormalizeAccountNumber(in.RecipientAccountNumber)
	if senderID == recipientID {
		return Result{}, ErrSelfTransfer
	}
	return s.execute(ctx, opTransfer, func(ctx context.Context, tx TxRepository, res *Result) error {
		if _, err := activeUser(ctx, tx, senderID); err != nil {
			return err
		}
		if _, err := tx.GetUser(ctx, recipientID); err != nil {
			return err
		}
		fromID, err := tx.PrimarySubAccountID(ctx, senderID)
		if err != nil {
			return err
		}
		toID, err := tx.PrimarySubAccountID(ctx, recipientID)
		if err != nil {
			return err
		}
		locked, err := tx.LockSubAccounts(ctx, fromID, toID)
		if err != nil {
			return err
		}
		from, to := locked[fromID], locked[toID]
		if from.Balance.LessThan(in.Amount) {
			return ErrInsufficientFunds
		}
		if to.Balance, err = credit(to.Balance, in.Amount); err != nil {
			return err
		}
		from.Balance = from.Balance.Sub(in.Amount)
		if err := tx.SetBalance(ctx, from.ID, from.Balance); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, to.ID, to.Balance); err != nil {
			return err
		}
		res.SubAccounts = append(res.SubAccounts, from, to)
		if err := s.post(ctx, tx, res,
			s.record(senderID, TxTypeTransferOut, in.Amount.Neg(), "Transfer to "+recipientID, ""),
			s.record(recipientID, TxTypeTransferIn, in.Amount, "Transfer from "+senderID, ""),
		); err != nil {
			return err
		}
		if in.SaveAsFavorite {
			return tx.AddFavorite(ctx, senderID, recipientID)
		}
		return nil
	})
}

// InternalTransfer moves amount between two sub-accounts of one user. The
// journal receives a single zero-amount record naming both sides.
func (s *Service) InternalTransfer(ctx context.Context, in InternalTransferInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	userID := NormalizeAccountNumber(in.UserID)
	return s.execute(ctx, opInternalTransfer, func(ctx context.Context, tx TxRepository, res *Result) error {
		locked, err := tx.LockSubAccounts(ctx, in.FromSubAccountID, in.ToSubAccountID)
		if err != nil {
			return err
		}
		from, to := locked[in.FromSubAccountID], locked[in.ToSubAccountID]
		if from.UserID != userID || to.UserID != userID {
			return ErrNotFound
		}
		if from.Balance.LessThan(in.Amount) {
			return ErrInsufficientFunds
		}
		if to.Balance, err = credit(to.Balance, in.Amount); err != nil {
			return err
		}
		from.Balance = from.Balance.Sub(in.Amount)
		if err := tx.SetBalance(ctx, from.ID, from.Balance); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, to.ID, to.Balance); err != nil {
			return err
		}
		res.SubAccounts = append(res.SubAccounts, from, to)
		note := fmt.Sprintf("From %s to %s %s", from.Name, to.Name, s.formatAmount(in.Amount))
		return s.post(ctx, tx, res, s.record(userID, TxTypeInternalTransfer, decimal.Zero, note, ""))
	})
}

// AdjustBalance sets the user's primary sub-account balance and journals the
// difference.
func (s *Service) AdjustBalance(ctx context.Context, in AdjustInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	userID := NormalizeAccountNumber(in.UserID)
	if in.ActorID != "" {
		ctx = shared.ContextWithActor(ctx, in.ActorID)
	}
	return s.execute(ctx, opAdjust, func(ctx context.Context, tx TxRepository, res *Result) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		sub, err := lockOwned(ctx, tx, userID, "")
		if err != nil {
			return err
		}
		diff := in.NewBalance.Sub(sub.Balance)
		sub.Balance = in.NewBalance
		if err := tx.SetBalance(ctx, sub.ID, sub.Balance); err != nil {
			return err
		}
		res.SubAccounts = append(res.SubAccounts, sub)
		return s.post(ctx, tx, res, s.record(userID, TxTypeAdminAdjustment, diff, "Balance set by administrator", sub.ID))
	})
}

// execute runs fn as one unit of work and, once committed, records audit
// entries and publishes events for the journal records it produced.
func (s *Service) execute(ctx context.Context, op string, fn func(context.Context, TxRepository, *Result) error) (Result, error) {
	var res Result
	err := s.inTx(ctx, op, func(ctx context.Context, tx TxRepository) error {
		res = Result{}
		return fn(ctx, tx, &res)
	})
	if err != nil {
		return Result{}, err
	}
	s.afterCommit(ctx, op, res)
	return res, nil
}

func (s *Service) inTx(ctx context.Context, op string, fn func(context.Context, TxRepository) error) error {
	start := time.Now()
	err := s.repo.WithTx(ctx, fn)
	if s.metrics != nil {
		s.metrics.ObserveOperation(op, err, time.Since(start))
	}
	return err
}

func (s *Service) post(ctx context.Context, tx TxRepository, res *Result, records ...Transaction) error {
	for _, rec := range records {
		if err := tx.AppendTransaction(ctx, rec); err != nil {
			return err
		}
		res.Transactions = append(res.Transactions, rec)
	}
	return nil
}

func (s *Service) record(userID string, typ TxType, amount decimal.Decimal, note, subAccountID string) Transaction {
	now := s.now()
	rec := Transaction{
		ID:        NewTransactionID(),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		Note:      note,
		Time:      now.Format(displayTimeLayout),
		Timestamp: now.UnixMilli(),
	}
	if subAccountID != "" {
		rec.SubAccountID = &subAccountID
	}
	return rec
}

// afterCommit runs detached from the caller's cancellation: the movement is
// already durable, so a client disconnect must not drop its audit or events.
// Events are published in the background under publishTimeout and never
// delay the response.
func (s *Service) afterCommit(ctx context.Context, op string, res Result) {
	if len(res.Transactions) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	actor := shared.ActorFromContext(ctx)
	if actor == "" {
		actor = res.Transactions[0].UserID
	}
	if s.audit != nil {
		ids := make([]string, 0, len(res.Transactions))
		for _, rec := range res.Transactions {
			ids = append(ids, rec.ID)
		}
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor,
			Action:   "ledger." + op,
			Entity:   "transaction",
			EntityID: res.Transactions[0].ID,
			Meta: map[string]any{
				"transactions": ids,
				"user_id":      res.Transactions[0].UserID,
			},
			At: s.now(),
		}); err != nil {
			s.logger.Warn("record audit", slog.String("operation", op), slog.Any("error", err))
		}
	}
	if s.publisher != nil {
		evts := make([]events.TransactionPosted, 0, len(res.Transactions))
		for _, rec := range res.Transactions {
			evt := events.TransactionPosted{
				EventID:       uuid.NewString(),
				Operation:     op,
				TransactionID: rec.ID,
				UserID:        rec.UserID,
				Type:          string(rec.Type),
				Amount:        rec.Amount,
				OccurredAt:    time.UnixMilli(rec.Timestamp).UTC(),
			}
			if rec.SubAccountID != nil {
				evt.SubAccountID = *rec.SubAccountID
			}
			evts = append(evts, evt)
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
			defer cancel()
			if err := s.publisher.Publish(pubCtx, evts...); err != nil {
				s.logger.Warn("publish ledger events", slog.String("operation", op), slog.Int("events", len(evts)), slog.Any("error", err))
			}
		}()
	}
}

// formatAmount renders an amount with grouped thousands, e.g. 1,234.50.
func (s *Service) formatAmount(amount decimal.Decimal) string {
	fixed := amount.StringFixed(minorUnits)
	whole, frac, _ := strings.Cut(fixed, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return fixed
	}
	return s.printer.Sprintf("%d", n) + "." + frac
}

func activeUser(ctx context.Context, tx TxRepository, userID string) (User, error) {
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Status == StatusFrozen {
		return User{}, ErrAccountFrozen
	}
	return user, nil
}

// lockOwned locks subAccountID, or the user's primary sub-account when empty,
// and checks it belongs to userID.
func lockOwned(ctx context.Context, tx TxRepository, userID, subAccountID string) (SubAccount, error) {
	if subAccountID == "" {
		primary, err := tx.PrimarySubAccountID(ctx, userID)
		if err != nil {
			return SubAccount{}, err
		}
		subAccountID = primary
	}
	locked, err := tx.LockSubAccounts(ctx, subAccountID)
	if err != nil {
		return SubAccount{}, err
	}
	sub := locked[subAccountID]
	if sub.UserID != userID {
		return SubAccount{}, ErrNotFound
	}
	return sub, nil
}
