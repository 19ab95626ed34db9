package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/middleware"
	"github.com/xfund/backend/internal/models"
)

// ContractSigner is the subset of signing.Service exposed over HTTP.
type ContractSigner interface {
	Submit(ctx context.Context, actor, projectID uuid.UUID) (*models.Project, error)
	Sync(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	ResetAfterDecline(ctx context.Context, actor, projectID uuid.UUID) error
}

// FundingController moves a project into and out of its funding window.
type FundingController interface {
	OpenFunding(ctx context.Context, actor, projectID uuid.UUID) error
	MarkFunded(ctx context.Context, actor, projectID uuid.UUID) error
}

// ProjectHandler serves the admin project lifecycle endpoints.
type ProjectHandler struct {
	Signing ContractSigner
	Funding FundingController
	Logger  *slog.Logger
}

// SubmitContract handles POST /v1/projects/{id}/signature.
func (h *ProjectHandler) SubmitContract(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	p, err := h.Signing.Submit(r.Context(), middleware.ActorFromCtx(r.Context()), projectID)
	if err != nil {
		fail(w, h.Logger, "submit contract", err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

// SyncSignature handles POST /v1/projects/{id}/signature/sync.
func (h *ProjectHandler) SyncSignature(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	p, err := h.Signing.Sync(r.Context(), projectID)
	if err != nil {
		fail(w, h.Logger, "sync signature", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ResetSignature handles POST /v1/projects/{id}/signature/reset.
func (h *ProjectHandler) ResetSignature(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "reset declined signature", h.Signing.ResetAfterDecline)
}

// OpenFunding handles POST /v1/projects/{id}/funding/open.
func (h *ProjectHandler) OpenFunding(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "open funding", h.Funding.OpenFunding)
}

// MarkFunded handles POST /v1/projects/{id}/funding/close.
func (h *ProjectHandler) MarkFunded(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "mark funded", h.Funding.MarkFunded)
}

func (h *ProjectHandler) lifecycle(w http.ResponseWriter, r *http.Request, op string, fn func(ctx context.Context, actor, projectID uuid.UUID) error) {
	projectID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if err := fn(r.Context(), middleware.ActorFromCtx(r.Context()), projectID); err != nil {
		fail(w, h.Logger, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
