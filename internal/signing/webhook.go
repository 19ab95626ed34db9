package signing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// Provider event names.
const (
	EventRequestDone     = "signature_request.done"
	EventRequestDeclined = "signature_request.declined"
	EventSignerDone      = "signer.done"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Signing-Signature-256"

const maxWebhookBody = 1 << 20

// Event is a decoded provider callback.
type Event struct {
	Name      string
	RequestID string
	SignerID  string
}

// Fact maps the event to a reconciliation fact. ok is false for events that
// carry no signing fact.
func (e Event) Fact() (f Fact, ok bool) {
	switch e.Name {
	case EventRequestDone:
		return Fact{Kind: FactRequestDone}, true
	case EventRequestDeclined:
		return Fact{Kind: FactRequestDeclined}, true
	case EventSignerDone:
		return Fact{Kind: FactSignerDone, SignerID: e.SignerID}, true
	}
	return Fact{}, false
}

type webhookPayload struct {
	EventName string `json:"event_name"`
	Data      struct {
		SignatureRequest struct {
			ID string `json:"id"`
		} `json:"signature_request"`
		Signer *struct {
			ID string `json:"id"`
		} `json:"signer"`
	} `json:"data"`
}

// ParseEvent decodes a provider callback body.
func ParseEvent(body []byte) (Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, err
	}
	if p.EventName == "" || p.Data.SignatureRequest.ID == "" {
		return Event{}, errors.New("missing event name or signature request id")
	}
	ev := Event{Name: p.EventName, RequestID: p.Data.SignatureRequest.ID}
	if p.Data.Signer != nil {
		ev.SignerID = p.Data.Signer.ID
	}
	return ev, nil
}

// EventHandler is implemented by *Service.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// WebhookHandler receives provider callbacks. It always answers 200 so the
// provider does not retry payloads we cannot or will not process.
type WebhookHandler struct {
	events EventHandler
	secret []byte
	logger *slog.Logger
}

func NewWebhookHandler(events EventHandler, secret string, logger *slog.Logger) *WebhookHandler {
	h := &WebhookHandler{events: events, logger: logger}
	if secret != "" {
		h.secret = []byte(secret)
	}
	return h
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer acknowledge(w)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("signing webhook unreadable", "error", err)
		return
	}
	if !h.authentic(body, r.Header.Get(SignatureHeader)) {
		h.logger.Warn("signing webhook signature mismatch", "remote_addr", r.RemoteAddr)
		return
	}
	ev, err := ParseEvent(body)
	if err != nil {
		h.logger.Warn("signing webhook unparseable", "error", err)
		return
	}
	if err := h.events.HandleEvent(r.Context(), ev); err != nil {
		if errors.Is(err, ErrUnknownRequest) {
			return
		}
		h.logger.Error("signing webhook not applied", "event", ev.Name, "request_id", ev.RequestID, "error", err)
	}
}

func (h *WebhookHandler) authentic(body []byte, signature string) bool {
	if h.secret == nil {
		return true
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"received":true}`))
}
