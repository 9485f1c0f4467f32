package ledger

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// DefaultAccountNumberAttempts bounds account number generation.
const DefaultAccountNumberAttempts = 100

// AccountNumberGenerator draws 12-digit account numbers made of three
// independent groups in [1000, 9999].
type AccountNumberGenerator struct {
	maxAttempts int
	intn        func(n int) int
}

// NewAccountNumberGenerator builds a generator. A non-positive bound falls back
// to DefaultAccountNumberAttempts.
func NewAccountNumberGenerator(maxAttempts int) *AccountNumberGenerator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAccountNumberAttempts
	}
	return &AccountNumberGenerator{maxAttempts: maxAttempts, intn: rand.IntN}
}

// WithSource replaces the random source, mainly for tests.
func (g *AccountNumberGenerator) WithSource(intn func(n int) int) {
	if intn != nil {
		g.intn = intn
	}
}

// MaxAttempts returns the configured bound.
func (g *AccountNumberGenerator) MaxAttempts() int {
	return g.maxAttempts
}

// Candidate returns one random account number without checking for collisions.
func (g *AccountNumberGenerator) Candidate() string {
	return fmt.Sprintf("%04d%04d%04d", 1000+g.intn(9000), 1000+g.intn(9000), 1000+g.intn(9000))
}

// Generate returns the first candidate for which exists reports false.
func (g *AccountNumberGenerator) Generate(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := g.Candidate()
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhaustedRetries
}

// NewTransactionID returns an opaque unique journal record identifier.
func NewTransactionID() string {
	return uuid.NewString()
}

// NewSubAccountID returns an opaque unique sub-account identifier.
func NewSubAccountID() string {
	return "SUB-" + uuid.NewString()
}

// NormalizeAccountNumber strips hyphens and whitespace from a user supplied
// account number.
func NormalizeAccountNumber(raw string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
}
