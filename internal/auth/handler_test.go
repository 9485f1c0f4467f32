package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-bank/internal/auth"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger"
	"github.com/odyssey-erp/odyssey-bank/internal/ledger/memory"
	_ "github.com/odyssey-erp/odyssey-bank/testing"
)

type fixture struct {
	router http.Handler
	svc    *ledger.Service
	admin  string
	user   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	svc := ledger.NewService(store, nil, nil, ledger.ServiceConfig{PasswordCost: bcrypt.MinCost})
	ctx := context.Background()
	admin, err := svc.Register(ctx, ledger.RegisterInput{LoginID: "root", RealName: "Root", Password: "rootpass", Role: ledger.RoleAdmin})
	require.NoError(t, err)
	user, err := svc.Register(ctx, ledger.RegisterInput{LoginID: "alice", RealName: "Alice", Password: "alicepass", InitialDeposit: decimal.NewFromInt(5)})
	require.NoError(t, err)

	handler := auth.NewHandler(nil, auth.NewService(store))
	r := chi.NewRouter()
	r.Use(auth.ActorMiddleware)
	handler.MountRoutes(r)
	r.With(handler.RequireAdmin).Get("/admin/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return fixture{router: r, svc: svc, admin: admin.ID, user: user.ID}
}

func login(f fixture, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestLoginSucceeds(t *testing.T) {
	f := newFixture(t)
	rec := login(f, `{"loginId":"alice","password":"alicepass"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), f.user)
	require.NotContains(t, rec.Body.String(), "alicepass")
	require.NotContains(t, rec.Body.String(), "$2a$")
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusUnauthorized, login(f, `{"loginId":"alice","password":"wrong"}`).Code)
	require.Equal(t, http.StatusUnauthorized, login(f, `{"loginId":"nobody","password":"wrong"}`).Code)
	require.Equal(t, http.StatusBadRequest, login(f, `{"loginId":"alice"}`).Code)
}

func TestLoginFrozenUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ToggleUserStatus(context.Background(), f.user)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, login(f, `{"loginId":"alice","password":"alicepass"}`).Code)

	_, err = f.svc.ToggleUserStatus(context.Background(), f.admin)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, login(f, `{"loginId":"root","password":"rootpass"}`).Code)
}

func TestRequireAdmin(t *testing.T) {
	f := newFixture(t)
	cases := map[string]int{
		"":      http.StatusUnauthorized,
		f.user:  http.StatusForbidden,
		f.admin: http.StatusNoContent,
	}
	for actor, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
		if actor != "" {
			req.Header.Set(auth.ActorHeader, actor)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, actor)
	}
}
