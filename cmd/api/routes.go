package main

import (
	"net/http"

	httphandlers "finlink/internal/interfaces/http"
	"finlink/internal/shared/config"
	"finlink/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", httphandlers.HandleHealth(deps.HealthChecks...))

	auth := middleware.BearerToken
	mux.Handle("GET /api/accounts/display", auth(http.HandlerFunc(deps.AccountHandler.HandleDisplay)))
	mux.Handle("GET /api/transactions/overview", auth(http.HandlerFunc(deps.AccountHandler.HandleTransactions)))
	mux.Handle("POST /api/link/token", auth(http.HandlerFunc(deps.AccountHandler.HandleLinkToken)))
	mux.Handle("POST /api/link/exchange", auth(http.HandlerFunc(deps.AccountHandler.HandleLinkExchange)))
	mux.Handle("GET /api/ledger", auth(http.HandlerFunc(deps.LedgerHandler.HandleList)))
	mux.Handle("POST /api/ledger", auth(http.HandlerFunc(deps.LedgerHandler.HandleCreate)))
	mux.Handle("PATCH /api/ledger/{id}", auth(http.HandlerFunc(deps.LedgerHandler.HandleUpdate)))
	mux.Handle("DELETE /api/ledger/{id}", auth(http.HandlerFunc(deps.LedgerHandler.HandleDelete)))
	mux.Handle("GET /api/ledger/stream", auth(http.HandlerFunc(deps.StreamHandler.HandleStream)))

	handler := middleware.Tracing(mux)
	handler = middleware.CORS(cfg.Server.AllowedHosts)(handler)
	handler = middleware.Logging(deps.Logger)(handler)
	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(cfg.Telemetry.ServiceName)(handler)
	}
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(handler)
	}
	return handler
}
