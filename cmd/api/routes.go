package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xfund/backend/internal/audit"
	"github.com/xfund/backend/internal/dividend"
	"github.com/xfund/backend/internal/handlers"
	"github.com/xfund/backend/internal/investment"
	"github.com/xfund/backend/internal/ledger"
	"github.com/xfund/backend/internal/middleware"
	"github.com/xfund/backend/internal/router"
	"github.com/xfund/backend/internal/signing"
	"github.com/xfund/backend/internal/validation"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type routeDeps struct {
	pool        Pinger
	registry    *prometheus.Registry
	tokens      middleware.TokenValidator
	validator   *validation.Validator
	accounts    handlers.AccountCreator
	ledger      ledger.Service
	investments *investment.Service
	dividends   *dividend.Service
	signing     *signing.Service
	audit       audit.Recorder
	webhook     http.Handler
	logger      *slog.Logger
}

// RegisterRoutes adds the /v1 API, health and metrics endpoints to mux.
func RegisterRoutes(mux *http.ServeMux, d routeDeps) {
	api := router.New(router.Handlers{
		Accounts: &handlers.AccountHandler{
			Accounts:  d.accounts,
			Validator: d.validator,
			Audit:     d.audit,
			Logger:    d.logger,
		},
		Wallets: &handlers.WalletHandler{
			Ledger:    d.ledger,
			Validator: d.validator,
			Audit:     d.audit,
			Logger:    d.logger,
		},
		Investments: &handlers.InvestmentHandler{
			Investments: d.investments,
			Validator:   d.validator,
			Logger:      d.logger,
		},
		Dividends: &handlers.DividendHandler{
			Dividends: d.dividends,
			Validator: d.validator,
			Logger:    d.logger,
		},
		Projects: &handlers.ProjectHandler{
			Signing: d.signing,
			Funding: d.investments,
			Logger:  d.logger,
		},
		Webhook: d.webhook,
	}, d.tokens)

	mux.Handle("/v1/", api)
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.pool.Ping(ctx); err != nil {
			d.logger.Error("health check failed", "error", err)
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
