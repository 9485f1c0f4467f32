package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Integrity violation kinds.
const (
	ViolationMissingSubAccount = "missing_sub_account"
	ViolationNegativeBalance   = "negative_balance"
	ViolationJournalMismatch   = "journal_mismatch"
)

// IntegrityViolation describes one user whose stored state breaks a ledger
// invariant.
type IntegrityViolation struct {
	UserID  string `json:"userId"`
	Kind    string `json:"kind"`
	Details string `json:"details"`
}

// IntegrityReport summarises a full scan.
type IntegrityReport struct {
	UsersScanned int                  `json:"usersScanned"`
	Total        decimal.Decimal      `json:"total"`
	Violations   []IntegrityViolation `json:"violations"`
}

// CheckIntegrity scans every user and verifies that it owns at least one
// sub-account, that no balance is negative and that the journal sums to the
// user's total balance. Each user is read from one snapshot so movements
// committing during the scan never show up as a mismatch.
func (s *Service) CheckIntegrity(ctx context.Context) (IntegrityReport, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	report := IntegrityReport{Total: decimal.Zero}
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.UsersScanned++
		snap, err := s.repo.UserSnapshot(ctx, user.ID)
		if err != nil {
			return report, err
		}
		report.Violations = append(report.Violations, checkUser(user.ID, snap.SubAccounts, snap.Journal)...)
		report.Total = report.Total.Add(TotalBalance(snap.SubAccounts))
	}
	return report, nil
}

func checkUser(userID string, subs []SubAccount, records []Transaction) []IntegrityViolation {
	var out []IntegrityViolation
	if len(subs) == 0 {
		out = append(out, IntegrityViolation{UserID: userID, Kind: ViolationMissingSubAccount, Details: "user owns no sub-account"})
	}
	for _, sub := range subs {
		if sub.Balance.IsNegative() {
			out = append(out, IntegrityViolation{
				UserID:  userID,
				Kind:    ViolationNegativeBalance,
				Details: fmt.Sprintf("%s holds %s", sub.ID, sub.Balance.StringFixed(minorUnits)),
			})
		}
	}
	journal := decimal.Zero
	for _, rec := range records {
		journal = journal.Add(rec.Amount)
	}
	if total := TotalBalance(subs); !journal.Equal(total) {
		out = append(out, IntegrityViolation{
			UserID:  userID,
			Kind:    ViolationJournalMismatch,
			Details: fmt.Sprintf("journal %s, balances %s", journal.StringFixed(minorUnits), total.StringFixed(minorUnits)),
		})
	}
	return out
}
