package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-bank/internal/auth"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger/memory"
	"github.com/odyssey-erp/odyssey-bank/internal/observability"
	"github.com/odyssey-erp/odyssey-bank/internal/shared"
	"github.com/odyssey-erp/odyssey-bank/jobs"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type nopInspector struct{}

func (nopInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return &asynq.QueueInfo{}, nil }

type routerFixture struct {
	handler http.Handler
	svc     *ledger.Service
}

func newRouterFixture(t *testing.T, readiness map[string]Pinger) routerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	store := memory.NewStore()
	svc := ledger.NewService(store, nil, nil, ledger.ServiceConfig{
		PasswordCost: bcrypt.MinCost,
		Logger:       logger,
		Metrics:      metrics,
	})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	handler := NewRouter(RouterParams{
		Logger:        logger,
		Config:        &Config{AppEnv: "test"},
		AuthHandler:   auth.NewHandler(logger, auth.NewService(store)),
		LedgerHandler: ledger.NewHandler(logger, svc, shared.NewIdempotencyStore(client, 0)),
		JobHandler:    jobs.NewHandler(nopInspector{}, nil, logger),
		Metrics:       metrics,
		Readiness:     readiness,
	})
	return routerFixture{handler: handler, svc: svc}
}

func (f routerFixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndReadiness(t *testing.T) {
	f := newRouterFixture(t, map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("down") }),
	})

	rec := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"postgres":"up","redis":"down"}`, rec.Body.String())
}

func TestRouterSecurityHeaders(t *testing.T) {
	f := newRouterFixture(t, nil)
	rec := f.do(http.MethodGet, "/healthz", "")
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouterMountsLedgerAndAdmin(t *testing.T) {
	f := newRouterFixture(t, nil)
	admin, err := f.svc.Register(t.Context(), ledger.RegisterInput{
		LoginID: "root", RealName: "Root", Password: "rootpass", Role: ledger.RoleAdmin,
	})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/api/register", `{"loginId":"alice","realName":"Alice","password":"secret","initialDeposit":"10"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/login", `{"loginId":"alice","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/users", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/users", "", auth.ActorHeader, admin.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "alice")

	rec = f.do(http.MethodGet, "/api/admin/jobs/health", "", auth.ActorHeader, admin.ID)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterExposesMetrics(t *testing.T) {
	f := newRouterFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/register", `{"loginId":"bob","realName":"Bob","password":"secret"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "odyssey_ledger_operations_total"), body)
	require.Contains(t, body, `operation="register"`)
}
