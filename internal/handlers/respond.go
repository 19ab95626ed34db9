// Package handlers serves the /v1 HTTP API on top of the domain services.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/dividend"
	"github.com/xfund/backend/internal/investment"
	"github.com/xfund/backend/internal/ledger"
	"github.com/xfund/backend/internal/lifecycle"
	"github.com/xfund/backend/internal/repository"
	"github.com/xfund/backend/internal/signing"
	"github.com/xfund/backend/internal/validation"
)

// maxBodyBytes bounds every request body read by this package.
const maxBodyBytes = 1 << 20

// BodyValidator is satisfied by *validation.Validator.
type BodyValidator interface {
	Validate(schema string, body []byte) error
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	var perr *signing.ProviderError
	switch {
	case errors.Is(err, validation.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, ledger.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.As(err, &perr):
		return http.StatusBadGateway
	case errors.Is(err, investment.ErrOversubscribed),
		errors.Is(err, investment.ErrProjectNotOpen),
		errors.Is(err, ledger.ErrReferenceConflict),
		errors.Is(err, lifecycle.ErrIllegalTransition),
		errors.Is(err, signing.ErrNotApproved),
		errors.Is(err, signing.ErrNotDeclined),
		errors.Is(err, signing.ErrSubmissionConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, investment.ErrBelowMinimum),
		errors.Is(err, investment.ErrAboveMaximum),
		errors.Is(err, investment.ErrInvalidShareCount),
		errors.Is(err, dividend.ErrInvalidPeriod),
		errors.Is(err, dividend.ErrInvalidAmount),
		errors.Is(err, dividend.ErrNoSharesSold),
		errors.Is(err, dividend.ErrPerShareTooSmall):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Only unmapped errors are logged
// at Error; they are hidden from the caller.
func fail(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(op, "error", err)
		writeError(w, status, "internal error")
		return
	}
	if status == http.StatusBadGateway {
		logger.Warn(op, "error", err)
	}
	writeError(w, status, err.Error())
}

// decode reads the body, validates it against schema and unmarshals it into v.
func decode(r *http.Request, validator BodyValidator, schema string, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if err := validator.Validate(schema, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
