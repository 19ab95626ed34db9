package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/audit"
	"github.com/xfund/backend/internal/ledger"
	"github.com/xfund/backend/internal/middleware"
	"github.com/xfund/backend/internal/models"
	"github.com/xfund/backend/internal/validation"
)

// WalletLedger is the subset of ledger.Service exposed over HTTP.
type WalletLedger interface {
	Wallet(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	Deposit(ctx context.Context, walletID uuid.UUID, amount int64, reference string) (*models.Transaction, error)
	Withdraw(ctx context.Context, walletID uuid.UUID, amount int64, reference string) (*models.Transaction, error)
	Statement(ctx context.Context, walletID uuid.UUID) ([]*models.Transaction, error)
	Verify(ctx context.Context, walletID uuid.UUID) error
}

// WalletHandler serves /v1/wallets endpoints.
type WalletHandler struct {
	Ledger    WalletLedger
	Validator BodyValidator
	Audit     audit.Recorder
	Logger    *slog.Logger
}

type movementRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// Deposit handles POST /v1/wallets/{id}/deposits.
func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, audit.ActionDeposit, h.Ledger.Deposit)
}

// Withdraw handles POST /v1/wallets/{id}/withdrawals.
func (h *WalletHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, audit.ActionWithdraw, h.Ledger.Withdraw)
}

type movementFunc func(ctx context.Context, walletID uuid.UUID, amount int64, reference string) (*models.Transaction, error)

func (h *WalletHandler) move(w http.ResponseWriter, r *http.Request, action string, apply movementFunc) {
	wallet, ok := h.authorizedWallet(w, r)
	if !ok {
		return
	}

	var req movementRequest
	if err := decode(r, h.Validator, validation.SchemaDeposit, &req); err != nil {
		fail(w, h.Logger, "decode movement", err)
		return
	}

	t, err := apply(r.Context(), wallet.ID, req.Amount, req.Reference)
	if err != nil {
		fail(w, h.Logger, action, err)
		return
	}

	h.Audit.Record(r.Context(), middleware.ActorFromCtx(r.Context()), action, models.WalletRef(wallet.ID),
		map[string]any{"amount": req.Amount, "reference": req.Reference, "transaction_id": t.ID})
	writeJSON(w, http.StatusCreated, t)
}

// Transactions handles GET /v1/wallets/{id}/transactions.
func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.authorizedWallet(w, r)
	if !ok {
		return
	}
	txns, err := h.Ledger.Statement(r.Context(), wallet.ID)
	if err != nil {
		fail(w, h.Logger, "statement", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": wallet, "transactions": txns})
}

// Verify handles GET /v1/wallets/{id}/verify (admin).
func (h *WalletHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}
	err := h.Ledger.Verify(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"consistent": true})
	case errors.Is(err, ledger.ErrLedgerMismatch):
		h.Logger.Error("wallet replay mismatch", "wallet_id", id, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"consistent": false, "error": err.Error()})
	default:
		fail(w, h.Logger, "verify wallet", err)
	}
}

// authorizedWallet loads the path wallet and checks the caller owns it or is
// an admin.
func (h *WalletHandler) authorizedWallet(w http.ResponseWriter, r *http.Request) (*models.Wallet, bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return nil, false
	}
	wallet, err := h.Ledger.Wallet(r.Context(), id)
	if err != nil {
		fail(w, h.Logger, "load wallet", err)
		return nil, false
	}
	if wallet.AccountID != middleware.ActorFromCtx(r.Context()) && middleware.RoleFromCtx(r.Context()) != middleware.RoleAdmin {
		writeError(w, http.StatusForbidden, "wallet belongs to another account")
		return nil, false
	}
	return wallet, true
}
