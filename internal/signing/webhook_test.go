package signing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	events []Event
	err    error
}

func (r *recordingEvents) HandleEvent(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

const signerDoneBody = `{"event_name":"signer.done","data":{"signature_request":{"id":"req_1"},"signer":{"id":"sgn_owner"}}}`

func post(h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/signing", strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(signerDoneBody))
	require.NoError(t, err)
	assert.Equal(t, Event{Name: EventSignerDone, RequestID: "req_1", SignerID: "sgn_owner"}, ev)

	ev, err = ParseEvent([]byte(`{"event_name":"signature_request.done","data":{"signature_request":{"id":"req_2"}}}`))
	require.NoError(t, err)
	assert.Empty(t, ev.SignerID)

	_, err = ParseEvent([]byte(`{"event_name":"signer.done","data":{}}`))
	assert.Error(t, err)
}

func TestWebhook_DispatchesEvent(t *testing.T) {
	events := &recordingEvents{}
	h := NewWebhookHandler(events, "", slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	rec := post(h, signerDoneBody, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, events.events, 1)
	assert.Equal(t, "sgn_owner", events.events[0].SignerID)
}

func TestWebhook_AlwaysAcknowledges(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
	}{
		{"unparseable", `not json`, nil},
		{"unknown request", signerDoneBody, ErrUnknownRequest},
		{"internal failure", signerDoneBody, errors.New("db down")},
	}
	for _, c := range cases {
		h := NewWebhookHandler(&recordingEvents{err: c.err}, "", slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		rec := post(h, c.body, nil)
		assert.Equal(t, http.StatusOK, rec.Code, c.name)
		assert.JSONEq(t, `{"received":true}`, rec.Body.String(), c.name)
	}
}

func TestWebhook_Signature(t *testing.T) {
	var logs bytes.Buffer
	events := &recordingEvents{}
	h := NewWebhookHandler(events, "whsec", slog.New(slog.NewTextHandler(&logs, nil)))

	rec := post(h, signerDoneBody, map[string]string{SignatureHeader: sign("other", signerDoneBody)})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, events.events, "forged callback must not be processed")
	assert.Contains(t, logs.String(), "signature mismatch")

	post(h, signerDoneBody, nil)
	assert.Empty(t, events.events, "unsigned callback must not be processed")

	post(h, signerDoneBody, map[string]string{SignatureHeader: sign("whsec", signerDoneBody)})
	assert.Len(t, events.events, 1)
}
