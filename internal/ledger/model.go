package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role enumerates user roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Status enumerates user lifecycle values.
type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
)

// TxType enumerates journal record kinds.
type TxType string

const (
	TxTypeDeposit          TxType = "deposit"
	TxTypeWithdrawal       TxType = "withdrawal"
	TxTypeTransferOut      TxType = "transfer-out"
	TxTypeTransferIn       TxType = "transfer-in"
	TxTypeInternalTransfer TxType = "internal-transfer"
	TxTypeAdminAdjustment  TxType = "admin-adjustment"
)

const (
	// DefaultSubAccountName names the sub-account created at registration.
	DefaultSubAccountName = "Main Account"
	// NewSubAccountName is used when a sub-account is created without a name.
	NewSubAccountName = "New Account"
	// DefaultColor tags sub-accounts created without a color.
	DefaultColor = "#3b82f6"
)

// User is the owner of one or more sub-accounts. ID is the bank account number.
type User struct {
	ID           string
	LoginID      string
	RealName     string
	PasswordHash string
	Role         Role
	Status       Status
	CreatedAt    time.Time
}

// Public strips credentials from the user.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		LoginID:   u.LoginID,
		RealName:  u.RealName,
		Role:      u.Role,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
	}
}

// PublicUser is the externally visible identity of a user.
type PublicUser struct {
	ID        string    `json:"id"`
	LoginID   string    `json:"loginId"`
	RealName  string    `json:"realName"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// SubAccount holds a balance on behalf of exactly one user.
type SubAccount struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Color     string          `json:"color"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Transaction is an immutable journal record of one signed balance effect.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Type         TxType          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note"`
	Time         string          `json:"time"`
	Timestamp    int64           `json:"timestamp"`
	SubAccountID *string         `json:"subAccountId,omitempty"`
}

// Favorite references another user saved for quick transfers.
type Favorite struct {
	UserID         string `json:"-"`
	FavoriteUserID string `json:"accountNumber"`
	RealName       string `json:"realName"`
}

// UserSummary is a user together with its derived total balance.
type UserSummary struct {
	PublicUser
	Balance     decimal.Decimal `json:"balance"`
	SubAccounts []SubAccount    `json:"subAccounts,omitempty"`
}

// Result reports the effects of a ledger operation.
type Result struct {
	SubAccounts  []SubAccount  `json:"subAccounts"`
	Transactions []Transaction `json:"transactions"`
}

// TotalBalance sums the balances of the given sub-accounts.
func TotalBalance(subs []SubAccount) decimal.Decimal {
	total := decimal.Zero
	for _, sub := range subs {
		total = total.Add(sub.Balance)
	}
	return total
}
