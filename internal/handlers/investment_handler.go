package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/middleware"
	"github.com/xfund/backend/internal/models"
	"github.com/xfund/backend/internal/validation"
)

// Investor is the subset of investment.Service exposed over HTTP.
type Investor interface {
	Invest(ctx context.Context, investorID, projectID uuid.UUID, amount int64) (*models.Investment, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Investment, error)
}

// InvestmentHandler serves /v1/projects/{id}/investments.
type InvestmentHandler struct {
	Investments Investor
	Validator   BodyValidator
	Logger      *slog.Logger
}

type investRequest struct {
	Amount int64 `json:"amount"`
}

// Invest handles POST /v1/projects/{id}/investments. The caller invests from
// their own wallet.
func (h *InvestmentHandler) Invest(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	var req investRequest
	if err := decode(r, h.Validator, validation.SchemaInvestment, &req); err != nil {
		fail(w, h.Logger, "decode investment", err)
		return
	}

	inv, err := h.Investments.Invest(r.Context(), middleware.ActorFromCtx(r.Context()), projectID, req.Amount)
	if err != nil {
		fail(w, h.Logger, "invest", err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// List handles GET /v1/projects/{id}/investments (admin).
func (h *InvestmentHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	invs, err := h.Investments.ListByProject(r.Context(), projectID)
	if err != nil {
		fail(w, h.Logger, "list investments", err)
		return
	}
	writeJSON(w, http.StatusOK, invs)
}
