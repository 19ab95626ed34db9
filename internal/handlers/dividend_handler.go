package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/dividend"
	"github.com/xfund/backend/internal/middleware"
	"github.com/xfund/backend/internal/models"
	"github.com/xfund/backend/internal/validation"
)

// Distributor is the subset of dividend.Service exposed over HTTP.
type Distributor interface {
	Distribute(ctx context.Context, actor, projectID uuid.UUID, total int64, start, end time.Time) (*dividend.Result, error)
	RetryFailed(ctx context.Context, actor, dividendID uuid.UUID) (*dividend.Result, error)
	ListPayments(ctx context.Context, dividendID uuid.UUID) ([]*models.DividendPayment, error)
}

// DividendHandler serves dividend endpoints. All of them are admin only.
type DividendHandler struct {
	Dividends Distributor
	Validator BodyValidator
	Logger    *slog.Logger
}

type distributeRequest struct {
	TotalAmount int64     `json:"total_amount"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Distribute handles POST /v1/projects/{id}/dividends. Partial payment
// failure is still a 201; the failures are listed in the body.
func (h *DividendHandler) Distribute(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	var req distributeRequest
	if err := decode(r, h.Validator, validation.SchemaDividend, &req); err != nil {
		fail(w, h.Logger, "decode dividend", err)
		return
	}

	res, err := h.Dividends.Distribute(r.Context(), middleware.ActorFromCtx(r.Context()), projectID,
		req.TotalAmount, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		fail(w, h.Logger, "distribute dividend", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Retry handles POST /v1/dividends/{id}/retry.
func (h *DividendHandler) Retry(w http.ResponseWriter, r *http.Request) {
	dividendID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid dividend id")
		return
	}
	res, err := h.Dividends.RetryFailed(r.Context(), middleware.ActorFromCtx(r.Context()), dividendID)
	if err != nil {
		fail(w, h.Logger, "retry dividend payments", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Payments handles GET /v1/dividends/{id}/payments.
func (h *DividendHandler) Payments(w http.ResponseWriter, r *http.Request) {
	dividendID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid dividend id")
		return
	}
	payments, err := h.Dividends.ListPayments(r.Context(), dividendID)
	if err != nil {
		fail(w, h.Logger, "list dividend payments", err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}
