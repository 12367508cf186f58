package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"finlink/internal/domain/account"
	"finlink/internal/domain/institution"
	"finlink/internal/domain/ledger"
	"finlink/internal/infrastructure/ledgerapi"
	"finlink/internal/infrastructure/nametier"
	"finlink/internal/infrastructure/openfinance"
	"finlink/internal/infrastructure/postgres/listener"
	httphandlers "finlink/internal/interfaces/http"
	"finlink/internal/interfaces/scheduler"
	"finlink/internal/shared/config"
	"finlink/internal/shared/messages"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	Logger zerolog.Logger

	Tier      *nametier.Tier
	Listener  *listener.InstitutionListener
	Sessions  *httphandlers.Sessions
	Refresher *scheduler.Refresher

	AccountHandler *httphandlers.AccountHandler
	LedgerHandler  *httphandlers.LedgerHandler
	StreamHandler  *httphandlers.StreamHandler
	HealthChecks   []httphandlers.HealthCheck
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, error) {
	msgs, err := messages.Load(cfg.Engine.MessagesFile)
	if err != nil {
		return nil, err
	}
	policy, err := account.ParseJoinPolicy(cfg.Engine.JoinPolicy)
	if err != nil {
		return nil, err
	}

	tier, err := nametier.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open institution cache: %w", err)
	}
	deps := &Dependencies{Logger: log, Tier: tier}

	cache := institution.NewLayeredCache(tier.Cache, log)
	if cfg.Cache.Warm {
		n, err := tier.Warm(ctx, cache.Local())
		if err != nil {
			log.Warn().Err(err).Msg("institution cache warm-up failed")
		} else {
			log.Info().Int("names", n).Str("backend", tier.Backend).Msg("institution cache warmed")
		}
	}
	if db := tier.DB(); db != nil {
		deps.Listener = listener.NewInstitutionListener(db.ConnString(), cache.Local(), log)
		deps.Listener.Start(ctx)
	}

	provider := openfinance.NewClient(cfg.Upstream.ProviderURL, cfg.Upstream.Timeout)
	resolver := institution.NewResolver(provider, cache,
		institution.WithLookupTimeout(cfg.Engine.LookupTimeout),
		institution.WithLogger(log),
	)
	service := account.NewService(provider, provider, resolver, account.Config{
		Policy:       policy,
		FetchTimeout: cfg.Engine.FetchTimeout,
		Logger:       log,
		Updater:      provider,
		Transactions: provider,
		Linker:       provider,
	})

	ledgerClient := ledgerapi.NewClient(cfg.Upstream.LedgerURL, cfg.Upstream.Timeout)
	deps.Sessions = httphandlers.NewSessions(service,
		func(token string) ledger.Store { return ledgerClient.Store(token) },
		httphandlers.SessionConfig{
			IdleTTL:         cfg.Engine.SessionIdleTTL,
			MutationTimeout: cfg.Engine.MutationTimeout,
			Messages:        msgs,
			Logger:          log,
		},
	)

	if cfg.Engine.RefreshInterval > 0 {
		pool := scheduler.NewWorkerPool(cfg.Engine.RefreshWorkers, cfg.Engine.RefreshWorkers*8, cfg.Engine.FetchTimeout, log)
		deps.Refresher = scheduler.NewRefresher(deps.Sessions, pool, cfg.Engine.RefreshInterval, log)
	}

	deps.AccountHandler = httphandlers.NewAccountHandler(deps.Sessions, msgs, log)
	deps.LedgerHandler = httphandlers.NewLedgerHandler(deps.Sessions, msgs, log)
	deps.StreamHandler = httphandlers.NewStreamHandler(deps.Sessions, cfg.Server.AllowedHosts, log)
	if tier.Cache != nil {
		deps.HealthChecks = append(deps.HealthChecks, httphandlers.HealthCheck{Name: tier.Backend, Check: tier.Ping})
	}

	log.Info().
		Str("provider", cfg.Upstream.ProviderURL).
		Str("ledger", cfg.Upstream.LedgerURL).
		Str("join_policy", policy.String()).
		Str("cache_backend", tier.Backend).
		Msg("dependencies initialized")

	return deps, nil
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.Listener != nil {
		d.Listener.Stop()
	}
	if d.Tier != nil {
		if err := d.Tier.Close(); err != nil {
			d.Logger.Warn().Err(err).Msg("closing institution cache failed")
		}
	}
}
