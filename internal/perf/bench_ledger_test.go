package perf

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger/memory"
)

func newLedger(tb testing.TB, users int) (*ledger.Service, []string) {
	tb.Helper()
	svc := ledger.NewService(memory.NewStore(), nil, nil, ledger.ServiceConfig{PasswordCost: bcrypt.MinCost})
	ids := make([]string, 0, users)
	for i := range users {
		u, err := svc.Register(context.Background(), ledger.RegisterInput{
			LoginID:        fmt.Sprintf("user%03d", i),
			RealName:       "Perf User",
			Password:       "secret",
			InitialDeposit: decimal.NewFromInt(1_000_000),
		})
		if err != nil {
			tb.Fatalf("register: %v", err)
		}
		ids = append(ids, u.ID)
	}
	return svc, ids
}

func TestLedgerLatencyTargets(t *testing.T) {
	svc, ids := newLedger(t, 20)
	ctx := t.Context()
	one := decimal.NewFromInt(1)

	scenarios := []struct {
		name      string
		run       func(i int) error
		threshold time.Duration
	}{
		{
			name: "deposit",
			run: func(i int) error {
				_, err := svc.Deposit(ctx, ledger.MovementInput{UserID: ids[i%len(ids)], Amount: one})
				return err
			},
			threshold: 50 * time.Millisecond,
		},
		{
			name: "transfer",
			run: func(i int) error {
				from, to := ids[i%len(ids)], ids[(i+1)%len(ids)]
				_, err := svc.Transfer(ctx, ledger.TransferInput{SenderID: from, RecipientAccountNumber: to, Amount: one})
				return err
			},
			threshold: 50 * time.Millisecond,
		},
	}

	for _, scenario := range scenarios {
		samples := make([]time.Duration, 0, 200)
		for i := range 200 {
			start := time.Now()
			if err := scenario.run(i); err != nil {
				t.Fatalf("%s: %v", scenario.name, err)
			}
			samples = append(samples, time.Since(start))
		}
		p95 := percentile95(samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func BenchmarkTransfer(b *testing.B) {
	svc, ids := newLedger(b, 50)
	ctx := context.Background()
	one := decimal.NewFromInt(1)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			from, to := ids[i%len(ids)], ids[(i+7)%len(ids)]
			if _, err := svc.Transfer(ctx, ledger.TransferInput{SenderID: from, RecipientAccountNumber: to, Amount: one}); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[min(max(index, 0), len(sorted)-1)]
}
