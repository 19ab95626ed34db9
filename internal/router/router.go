package router

import (
	"net/http"

	"github.com/xfund/backend/internal/handlers"
	"github.com/xfund/backend/internal/middleware"
)

// Handlers groups everything served under /v1.
type Handlers struct {
	Accounts    *handlers.AccountHandler
	Wallets     *handlers.WalletHandler
	Investments *handlers.InvestmentHandler
	Dividends   *handlers.DividendHandler
	Projects    *handlers.ProjectHandler
	// Webhook is mounted without authentication.
	Webhook http.Handler
}

// New returns an http.Handler that serves the API under /v1.
// Middleware chain: Authenticate -> (RequireRole admin on operator routes) -> handler.
func New(h Handlers, tokens middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	authed := middleware.Authenticate(tokens)
	adminOnly := middleware.RequireRole(middleware.RoleAdmin)

	user := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(fn))
	}
	admin := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, authed(adminOnly(fn)))
	}

	admin("POST /v1/accounts", h.Accounts.Create)

	user("POST /v1/wallets/{id}/deposits", h.Wallets.Deposit)
	user("POST /v1/wallets/{id}/withdrawals", h.Wallets.Withdraw)
	user("GET /v1/wallets/{id}/transactions", h.Wallets.Transactions)
	admin("GET /v1/wallets/{id}/verify", h.Wallets.Verify)

	user("POST /v1/projects/{id}/investments", h.Investments.Invest)
	admin("GET /v1/projects/{id}/investments", h.Investments.List)

	admin("POST /v1/projects/{id}/dividends", h.Dividends.Distribute)
	admin("POST /v1/dividends/{id}/retry", h.Dividends.Retry)
	admin("GET /v1/dividends/{id}/payments", h.Dividends.Payments)

	admin("POST /v1/projects/{id}/signature", h.Projects.SubmitContract)
	admin("POST /v1/projects/{id}/signature/sync", h.Projects.SyncSignature)
	admin("POST /v1/projects/{id}/signature/reset", h.Projects.ResetSignature)
	admin("POST /v1/projects/{id}/funding/open", h.Projects.OpenFunding)
	admin("POST /v1/projects/{id}/funding/close", h.Projects.MarkFunded)

	mux.Handle("POST /v1/webhooks/signing", h.Webhook)

	return mux
}
