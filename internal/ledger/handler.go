package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-bank/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-bank/internal/shared"
)

// IdempotencyHeader lets clients make mutating requests safe to replay.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyGuard claims request keys. shared.IdempotencyStore satisfies it.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

var errorMappings = []httpx.Mapping{
	{Target: ErrInvalidAmount, Status: http.StatusBadRequest, Title: "Invalid Amount"},
	{Target: ErrSelfTransfer, Status: http.StatusBadRequest, Title: "Self Transfer"},
	{Target: ErrInvalidInput, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrInsufficientFunds, Status: http.StatusUnprocessableEntity, Title: "Insufficient Funds"},
	{Target: ErrLastAccountProtected, Status: http.StatusUnprocessableEntity, Title: "Last Account Protected"},
	{Target: ErrNonZeroBalance, Status: http.StatusUnprocessableEntity, Title: "Non-zero Balance"},
	{Target: ErrAccountFrozen, Status: http.StatusUnprocessableEntity, Title: "Account Frozen"},
	{Target: ErrAdminProtected, Status: http.StatusUnprocessableEntity, Title: "Admin Protected"},
	{Target: ErrDuplicateLoginID, Status: http.StatusConflict, Title: "Duplicate Login ID"},
	{Target: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Title: "Duplicate Request"},
	{Target: ErrExhaustedRetries, Status: http.StatusServiceUnavailable, Title: "Service Unavailable"},
}

// Handler exposes the ledger over JSON.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyGuard
	validator   *validator.Validate
}

// NewHandler builds a Handler. idempotency may be nil, in which case the
// Idempotency-Key header is ignored.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyGuard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		idempotency: idempotency,
		validator:   validator.New(),
	}
}

// MountRoutes registers registration and per-user routes. The routes trust
// {userID} as given and do not authenticate the caller; deployments must
// front them with a gateway that does.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.register)
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/", h.getUser)
		r.Get("/transactions", h.listTransactions)
		r.Post("/deposit", h.deposit)
		r.Post("/withdraw", h.withdraw)
		r.Post("/transfer", h.transfer)
		r.Post("/internal-transfer", h.internalTransfer)
		r.Post("/sub-accounts", h.createSubAccount)
		r.Put("/sub-accounts/{subAccountID}", h.renameSubAccount)
		r.Delete("/sub-accounts/{subAccountID}", h.deleteSubAccount)
		r.Get("/favorites", h.listFavorites)
		r.Post("/favorites", h.addFavorite)
		r.Delete("/favorites/{favoriteUserID}", h.removeFavorite)
	})
}

// MountAdminRoutes registers administrator routes. Callers guard them.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Get("/users", h.listUsers)
	r.Get("/stats", h.stats)
	r.Put("/users/{userID}/balance", h.adjustBalance)
	r.Put("/users/{userID}/status", h.toggleStatus)
	r.Delete("/users/{userID}", h.deleteUser)
	r.Get("/transactions", h.listAllTransactions)
}

type registerRequest struct {
	LoginID        string          `json:"loginId" validate:"required,max=64"`
	RealName       string          `json:"realName" validate:"required,max=128"`
	Password       string          `json:"password" validate:"required,min=4,max=72"`
	InitialDeposit decimal.Decimal `json:"initialDeposit"`
}

type movementRequest struct {
	SubAccountID string          `json:"subAccountId"`
	Amount       decimal.Decimal `json:"amount"`
}

type transferRequest struct {
	RecipientAccountNumber string          `json:"recipientAccountNumber" validate:"required"`
	Amount                 decimal.Decimal `json:"amount"`
	SaveAsFavorite         bool            `json:"saveAsFavorite"`
}

type internalTransferRequest struct {
	FromSubAccountID string          `json:"fromSubAccountId" validate:"required"`
	ToSubAccountID   string          `json:"toSubAccountId" validate:"required"`
	Amount           decimal.Decimal `json:"amount"`
}

type subAccountRequest struct {
	Name  string `json:"name" validate:"max=64"`
	Color string `json:"color" validate:"omitempty,hexcolor"`
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

type favoriteRequest struct {
	AccountNumber string `json:"accountNumber" validate:"required"`
}

type adjustRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.guard(w, r, "register", func() error {
		user, err := h.service.Register(r.Context(), RegisterInput{
			LoginID:        req.LoginID,
			RealName:       req.RealName,
			Password:       req.Password,
			InitialDeposit: req.InitialDeposit,
		})
		if err != nil {
			return err
		}
		httpx.JSON(w, http.StatusCreated, user)
		return nil
	})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListTransactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(records))
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, opDeposit, h.service.Deposit)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.movement(w, r, opWithdraw, h.service.Withdraw)
}

func (h *Handler) movement(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, MovementInput) (Result, error)) {
	var req movementRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	h.guard(w, r, op+":"+userID, func() error {
		res, err := fn(r.Context(), MovementInput{UserID: userID, SubAccountID: req.SubAccountID, Amount: req.Amount})
		if err != nil {
			return err
		}
		httpx.JSON(w, http.StatusOK, res)
		return nil
	})
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	h.guard(w, r, opTransfer+":"+userID, func() error {
		res, err := h.service.Transfer(r.Context(), TransferInput{
			SenderID:               userID,
			RecipientAccountNumber: req.RecipientAccountNumber,
			Amount:                 req.Amount,
			SaveAsFavorite:         req.SaveAsFavorite,
		})
		if err != nil {
			return err
		}
		httpx.JSON(w, http.StatusOK, res)
		return nil
	})
}

func (h *Handler) internalTransfer(w http.ResponseWriter, r *http.Request) {
	var req internalTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	h.guard(w, r, opInternalTransfer+":"+userID, func() error {
		res, err := h.service.InternalTransfer(r.Context(), InternalTransferInput{
			UserID:           userID,
			FromSubAccountID: req.FromSubAccountID,
			ToSubAccountID:   req.ToSubAccountID,
			Amount:           req.Amount,
		})
		if err != nil {
			return err
		}
		httpx.JSON(w, http.StatusOK, res)
		return nil
	})
}

func (h *Handler) createSubAccount(w http.ResponseWriter, r *http.Request) {
	var req subAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	sub, err := h.service.CreateSubAccount(r.Context(), SubAccountInput{UserID: chi.URLParam(r, "userID"), Name: req.Name, Color: req.Color})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sub)
}

func (h *Handler) renameSubAccount(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !h.decode(w, r, &req) {
		return
	}
	sub, err := h.service.RenameSubAccount(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "subAccountID"), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSubAccount(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "subAccountID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listFavorites(w http.ResponseWriter, r *http.Request) {
	favorites, err := h.service.ListFavorites(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(favorites))
}

func (h *Handler) addFavorite(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.AddFavorite(r.Context(), chi.URLParam(r, "userID"), req.AccountNumber); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeFavorite(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveFavorite(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "favoriteUserID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUserBalances(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(users))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.CountUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"users": count})
}

func (h *Handler) adjustBalance(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := chi.URLParam(r, "userID")
	h.guard(w, r, opAdjust+":"+userID, func() error {
		res, err := h.service.AdjustBalance(r.Context(), AdjustInput{
			UserID:     userID,
			NewBalance: req.Balance,
			ActorID:    shared.ActorFromContext(r.Context()),
		})
		if err != nil {
			return err
		}
		httpx.JSON(w, http.StatusOK, res)
		return nil
	})
}

func (h *Handler) toggleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.ToggleUserStatus(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]Status{"status": status})
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(r.Context(), chi.URLParam(r, "userID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAllTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be an integer")
			return
		}
		limit = parsed
	}
	records, err := h.service.ListAllTransactions(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, nonNil(records))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

// guard runs fn at most once per Idempotency-Key. The key is released when fn
// fails so the client may retry.
func (h *Handler) guard(w http.ResponseWriter, r *http.Request, module string, fn func() error) {
	key := r.Header.Get(IdempotencyHeader)
	if key == "" || h.idempotency == nil {
		if err := fn(); err != nil {
			h.fail(w, r, err)
		}
		return
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		if !errors.Is(err, shared.ErrIdempotencyConflict) {
			h.logger.Error("claim idempotency key", slog.String("module", module), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "idempotency store unavailable")
			return
		}
		h.fail(w, r, err)
		return
	}
	if err := fn(); err != nil {
		if delErr := h.idempotency.Delete(context.WithoutCancel(r.Context()), key, module); delErr != nil {
			h.logger.Warn("release idempotency key", slog.String("module", module), slog.Any("error", delErr))
		}
		h.fail(w, r, err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if Retryable(err) {
		h.logger.Error("ledger store unavailable", slog.String("path", r.URL.Path), slog.Any("error", err))
		w.Header().Set("Retry-After", "1")
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "ledger store unavailable, retry the request")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "request cancelled")
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.Target) {
			httpx.RespondError(w, err, errorMappings...)
			return
		}
	}
	h.logger.Error("ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
