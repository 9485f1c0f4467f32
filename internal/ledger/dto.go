package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minorUnits is the number of fractional digits a money value may carry.
const minorUnits = 2

// MaxBalance is the largest amount a single sub-account can hold, matching
// the NUMERIC(15,2) money columns.
var MaxBalance = decimal.RequireFromString("9999999999999.99")

// ValidateAmount ensures a movement amount is positive, no larger than
// MaxBalance and fits in minor units.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.GreaterThan(MaxBalance) {
		return ErrInvalidAmount
	}
	return validatePrecision(amount)
}

// ValidateBalance ensures a target balance lies in [0, MaxBalance] and fits
// in minor units.
func ValidateBalance(balance decimal.Decimal) error {
	if balance.IsNegative() || balance.GreaterThan(MaxBalance) {
		return ErrInvalidAmount
	}
	return validatePrecision(balance)
}

// credit adds amount to balance, refusing results above MaxBalance.
func credit(balance, amount decimal.Decimal) (decimal.Decimal, error) {
	next := balance.Add(amount)
	if next.GreaterThan(MaxBalance) {
		return balance, fmt.Errorf("%w: balance would exceed %s", ErrInvalidAmount, MaxBalance.StringFixed(minorUnits))
	}
	return next, nil
}

func validatePrecision(v decimal.Decimal) error {
	if !v.Equal(v.Round(minorUnits)) {
		return ErrInvalidAmount
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s required", ErrInvalidInput, field)
	}
	return nil
}

// RegisterInput groups the fields required to open a new user.
type RegisterInput struct {
	LoginID        string
	RealName       string
	Password       string
	InitialDeposit decimal.Decimal
	Role           Role
}

// Validate ensures registration input meets minimum criteria.
func (in RegisterInput) Validate() error {
	if err := required("login id", in.LoginID); err != nil {
		return err
	}
	if err := required("real name", in.RealName); err != nil {
		return err
	}
	if err := required("password", in.Password); err != nil {
		return err
	}
	switch in.Role {
	case "", RoleUser, RoleAdmin:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	return ValidateBalance(in.InitialDeposit)
}

// MovementInput describes a deposit or withdrawal. An empty SubAccountID
// targets the user's primary sub-account.
type MovementInput struct {
	UserID       string
	SubAccountID string
	Amount       decimal.Decimal
}

// Validate ensures movement input meets minimum criteria.
func (in MovementInput) Validate() error {
	if err := required("user id", in.UserID); err != nil {
		return err
	}
	return ValidateAmount(in.Amount)
}

// TransferInput describes a transfer between two users' primary sub-accounts.
type TransferInput struct {
	SenderID               string
	RecipientAccountNumber string
	Amount                 decimal.Decimal
	SaveAsFavorite         bool
}

// Validate ensures transfer input meets minimum criteria.
func (in TransferInput) Validate() error {
	if err := required("sender id", in.SenderID); err != nil {
		return err
	}
	if err := required("recipient account number", NormalizeAccountNumber(in.RecipientAccountNumber)); err != nil {
		return err
	}
	return ValidateAmount(in.Amount)
}

// InternalTransferInput moves money between two sub-accounts of one user.
type InternalTransferInput struct {
	UserID           string
	FromSubAccountID string
	ToSubAccountID   string
	Amount           decimal.Decimal
}

// Validate ensures internal transfer input meets minimum criteria.
func (in InternalTransferInput) Validate() error {
	if err := required("user id", in.UserID); err != nil {
		return err
	}
	if err := required("from sub-account id", in.FromSubAccountID); err != nil {
		return err
	}
	if err := required("to sub-account id", in.ToSubAccountID); err != nil {
		return err
	}
	if in.FromSubAccountID == in.ToSubAccountID {
		return ErrSelfTransfer
	}
	return ValidateAmount(in.Amount)
}

// AdjustInput sets a user's primary sub-account balance.
type AdjustInput struct {
	UserID     string
	NewBalance decimal.Decimal
	ActorID    string
}

// Validate ensures adjustment input meets minimum criteria.
func (in AdjustInput) Validate() error {
	if err := required("user id", in.UserID); err != nil {
		return err
	}
	return ValidateBalance(in.NewBalance)
}

// SubAccountInput describes a new sub-account.
type SubAccountInput struct {
	UserID string
	Name   string
	Color  string
}
