package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-bank/internal/app"
	"github.com/odyssey-erp/odyssey-bank/internal/auth"
	jobmetrics "github.com/odyssey-erp/odyssey-bank/internal/jobs"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger/memory"
	"github.com/odyssey-erp/odyssey-bank/internal/observability"
	"github.com/odyssey-erp/odyssey-bank/internal/shared"
	"github.com/odyssey-erp/odyssey-bank/jobs"
	_ "github.com/odyssey-erp/odyssey-bank/testing"
)

type stack struct {
	server *httptest.Server
	svc    *ledger.Service
}

func newStack(t *testing.T) stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	metrics := observability.NewMetrics()
	svc := ledger.NewService(store, nil, nil, ledger.ServiceConfig{
		PasswordCost: bcrypt.MinCost,
		Logger:       logger,
		Metrics:      metrics,
	})
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        &app.Config{AppEnv: "test"},
		AuthHandler:   auth.NewHandler(logger, auth.NewService(store)),
		LedgerHandler: ledger.NewHandler(logger, svc, shared.NewIdempotencyStore(client, 0)),
		Metrics:       metrics,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return stack{server: server, svc: svc}
}

func (s stack) send(t *testing.T, path string, body any, headers ...string) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, s.server.URL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.server.Client().Do(req)
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp, nil
}

func (s stack) post(t *testing.T, path string, body any, headers ...string) *http.Response {
	t.Helper()
	resp, err := s.send(t, path, body, headers...)
	require.NoError(t, err)
	return resp
}

func (s stack) register(t *testing.T, login, deposit string) string {
	t.Helper()
	resp := s.post(t, "/api/register", map[string]any{
		"loginId": login, "realName": "E2E " + login, "password": "secret", "initialDeposit": deposit,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var user ledger.PublicUser
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))
	return user.ID
}

func TestTransfersOverHTTPKeepLedgerConsistent(t *testing.T) {
	s := newStack(t)
	ids := []string{
		s.register(t, "ann", "100"),
		s.register(t, "ben", "100"),
		s.register(t, "cat", "100"),
	}

	var wg sync.WaitGroup
	for i := range 60 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from, to := ids[i%3], ids[(i+1)%3]
			resp, err := s.send(t, "/api/users/"+from+"/transfer", map[string]any{
				"recipientAccountNumber": to,
				"amount":                 "7.25",
			}, "Idempotency-Key", fmt.Sprintf("transfer-%d", i))
			if err != nil {
				t.Errorf("transfer %d: %v", i, err)
				return
			}
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
				t.Errorf("transfer %d: unexpected status %d", i, resp.StatusCode)
			}
		}()
	}
	wg.Wait()

	// replaying a key is rejected and moves no money
	before, err := s.svc.GetUser(t.Context(), ids[0])
	require.NoError(t, err)
	resp := s.post(t, "/api/users/"+ids[0]+"/transfer", map[string]any{
		"recipientAccountNumber": ids[1],
		"amount":                 "1",
	}, "Idempotency-Key", "transfer-0")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	after, err := s.svc.GetUser(t.Context(), ids[0])
	require.NoError(t, err)
	require.True(t, before.Balance.Equal(after.Balance))

	total := decimal.Zero
	for _, id := range ids {
		u, err := s.svc.GetUser(t.Context(), id)
		require.NoError(t, err)
		require.False(t, u.Balance.IsNegative())
		total = total.Add(u.Balance)
	}
	require.Equal(t, "300.00", total.StringFixed(2))

	job := jobs.NewIntegrityScanJob(s.svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	report, err := job.Run(t.Context(), "e2e")
	require.NoError(t, err)
	require.Empty(t, report.Violations)
	require.Equal(t, 3, report.UsersScanned)
}
