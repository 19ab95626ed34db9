package router

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/auth"
	"github.com/xfund/backend/internal/handlers"
	"github.com/xfund/backend/internal/middleware"
)

type stubFunding struct{ calls int }

func (s *stubFunding) OpenFunding(context.Context, uuid.UUID, uuid.UUID) error {
	s.calls++
	return nil
}

func (s *stubFunding) MarkFunded(context.Context, uuid.UUID, uuid.UUID) error {
	s.calls++
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *auth.Tokens, *stubFunding, *int) {
	t.Helper()
	tokens, err := auth.NewTokens("router-test-secret")
	if err != nil {
		t.Fatal(err)
	}
	funding := &stubFunding{}
	hooks := 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Handlers{
		Wallets:     &handlers.WalletHandler{Logger: logger},
		Investments: &handlers.InvestmentHandler{Logger: logger},
		Dividends:   &handlers.DividendHandler{Logger: logger},
		Projects:    &handlers.ProjectHandler{Funding: funding, Logger: logger},
		Webhook: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hooks++
		}),
	}
	return New(h, tokens), tokens, funding, &hooks
}

func bearer(t *testing.T, tokens *auth.Tokens, role string) string {
	t.Helper()
	raw, err := tokens.Issue(auth.Identity{AccountID: uuid.New(), Role: role}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + raw
}

func TestAdminRoutes(t *testing.T) {
	r, tokens, funding, _ := newTestRouter(t)
	path := "/v1/projects/" + uuid.NewString() + "/funding/open"

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"investor", bearer(t, tokens, "investor"), http.StatusForbidden},
		{"admin", bearer(t, tokens, middleware.RoleAdmin), http.StatusNoContent},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != c.status {
			t.Errorf("%s: expected %d, got %d", c.name, c.status, rec.Code)
		}
	}
	if funding.calls != 1 {
		t.Errorf("expected exactly one funding call, got %d", funding.calls)
	}
}

func TestWebhookIsUnauthenticated(t *testing.T) {
	r, _, _, hooks := newTestRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/webhooks/signing", nil))
	if rec.Code != http.StatusOK || *hooks != 1 {
		t.Errorf("expected webhook to be served without auth, got %d (calls %d)", rec.Code, *hooks)
	}
}
