package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xfund/backend/internal/audit"
	"github.com/xfund/backend/internal/middleware"
	"github.com/xfund/backend/internal/models"
	"github.com/xfund/backend/internal/validation"
)

// AccountCreator is satisfied by *repository.AccountRepo.
type AccountCreator interface {
	CreateWithWallet(ctx context.Context, a *models.Account, currency string) (*models.Wallet, error)
}

// AccountHandler serves POST /v1/accounts (admin). Every account is created
// together with its empty wallet.
type AccountHandler struct {
	Accounts  AccountCreator
	Validator BodyValidator
	Audit     audit.Recorder
	Logger    *slog.Logger
}

type createAccountRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	Currency  string `json:"currency"`
}

type createAccountResponse struct {
	Account *models.Account `json:"account"`
	Wallet  *models.Wallet  `json:"wallet"`
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decode(r, h.Validator, validation.SchemaAccount, &req); err != nil {
		fail(w, h.Logger, "decode account", err)
		return
	}

	acc := &models.Account{
		ID:        uuid.New(),
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      req.Role,
	}
	wallet, err := h.Accounts.CreateWithWallet(r.Context(), acc, req.Currency)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		fail(w, h.Logger, "create account", err)
		return
	}

	h.Audit.Record(r.Context(), middleware.ActorFromCtx(r.Context()), audit.ActionWalletCreated, models.WalletRef(wallet.ID),
		map[string]any{"account_id": acc.ID, "currency": wallet.Currency})
	writeJSON(w, http.StatusCreated, createAccountResponse{Account: acc, Wallet: wallet})
}
