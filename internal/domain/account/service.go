package account

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"finlink/internal/models"
)

const defaultFetchTimeout = 30 * time.Second

var (
	passTracer     = otel.Tracer("finlink/account")
	passMeter      = otel.Meter("finlink/account")
	passTotal, _   = passMeter.Int64Counter("aggregation.pass.total", metric.WithDescription("Aggregation passes by status"))
	passSeconds, _ = passMeter.Float64Histogram("aggregation.pass.duration", metric.WithDescription("Aggregation pass duration in seconds"), metric.WithUnit("s"))
)

// Service runs aggregation passes: fetch balances and account summaries,
// resolve institution names, then join them into display accounts.
type Service struct {
	balances     BalanceSource
	catalog      AccountCatalog
	resolver     NameResolver
	updater      BalanceUpdater
	transactions TransactionSource
	linker       Linker
	policy       JoinPolicy
	fetchTimeout time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// Config holds optional Service settings. Operations whose provider port
// is nil return ErrNotSupported.
type Config struct {
	Policy       JoinPolicy
	FetchTimeout time.Duration
	Logger       zerolog.Logger

	Updater      BalanceUpdater
	Transactions TransactionSource
	Linker       Linker
}

// NewService creates a new aggregation service.
func NewService(balances BalanceSource, catalog AccountCatalog, resolver NameResolver, cfg Config) *Service {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Service{
		balances:     balances,
		catalog:      catalog,
		resolver:     resolver,
		updater:      cfg.Updater,
		transactions: cfg.Transactions,
		linker:       cfg.Linker,
		policy:       cfg.Policy,
		fetchTimeout: cfg.FetchTimeout,
		logger:       cfg.Logger,
		now:          time.Now,
	}
}

// Refresh runs one aggregation pass for the holder of token. Any fetch
// failure aborts the whole pass; nothing partial is returned. Institution
// lookup failures never abort it.
func (s *Service) Refresh(ctx context.Context, token string) (*Snapshot, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	start := s.now()
	ctx, span := passTracer.Start(ctx, "account.Refresh", trace.WithAttributes(
		attribute.String("join.policy", s.policy.String()),
	))
	defer span.End()

	snap, err := s.refresh(ctx, token)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error().Err(err).Msg("aggregation pass aborted")
	} else {
		span.SetAttributes(attribute.Int("accounts.count", len(snap.Accounts)))
		s.logger.Info().Int("accounts", len(snap.Accounts)).Int("institutions", len(snap.Institutions)).Msg("aggregation pass complete")
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	passTotal.Add(ctx, 1, attrs)
	passSeconds.Record(ctx, s.now().Sub(start).Seconds(), attrs)

	return snap, err
}

func (s *Service) refresh(ctx context.Context, token string) (*Snapshot, error) {
	var (
		balances  []models.BalanceRecord
		summaries []models.AccountSummary
	)

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(fetchCtx)
	g.Go(func() error {
		var err error
		balances, err = s.balances.FetchBalances(gctx, token)
		if err != nil {
			return fmt.Errorf("fetch balances: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		summaries, err = s.catalog.FetchAccountSummaries(gctx, token)
		if err != nil {
			return fmt.Errorf("fetch account summaries: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Every lookup has settled once Resolve returns.
	names, err := s.resolver.Resolve(ctx, summaries)
	if err != nil {
		return nil, err
	}

	accounts := Aggregate(balances, summaries, names, s.policy)
	return &Snapshot{
		Accounts:     accounts,
		Summary:      Summarize(accounts),
		Institutions: names,
		GeneratedAt:  s.now(),
	}, nil
}

// RefreshUpstream asks the provider to pull fresh balances before the next
// pass.
func (s *Service) RefreshUpstream(ctx context.Context, token string) error {
	if token == "" {
		return ErrMissingToken
	}
	if s.updater == nil {
		return ErrNotSupported
	}

	ctx, span := passTracer.Start(ctx, "account.RefreshUpstream")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	if err := s.updater.UpdateBalances(ctx, token); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update balances: %w", err)
	}
	return nil
}

// TransactionsOverview fetches the provider's transactions and totals them.
func (s *Service) TransactionsOverview(ctx context.Context, token string, groupBy GroupBy) (*TransactionOverview, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if s.transactions == nil {
		return nil, ErrNotSupported
	}

	ctx, span := passTracer.Start(ctx, "account.TransactionsOverview", trace.WithAttributes(
		attribute.String("group.by", string(groupBy)),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	txs, err := s.transactions.FetchTransactions(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	overview := SummarizeTransactions(txs, groupBy)
	return &overview, nil
}

// CreateLinkToken starts the provider's linking handshake.
func (s *Service) CreateLinkToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	if s.linker == nil {
		return "", ErrNotSupported
	}
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	linkToken, err := s.linker.CreateLinkToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("create link token: %w", err)
	}
	return linkToken, nil
}

// CompleteLink exchanges the widget's public token and, when the provider
// supports it, pulls balances for the new institution.
func (s *Service) CompleteLink(ctx context.Context, token, publicToken string) error {
	if token == "" {
		return ErrMissingToken
	}
	if publicToken == "" {
		return ErrMissingPublic
	}
	if s.linker == nil {
		return ErrNotSupported
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	if err := s.linker.ExchangePublicToken(exchangeCtx, token, publicToken); err != nil {
		return fmt.Errorf("exchange public token: %w", err)
	}
	if s.updater == nil {
		return nil
	}
	return s.RefreshUpstream(ctx, token)
}

// View keeps the last successful snapshot for one session so an aborted
// pass leaves the previous result on screen.
type View struct {
	service *Service
	token   string

	mu        sync.RWMutex
	started   uint64
	latestSeq uint64
	latest    *Snapshot
}

// NewView creates a view for the holder of token.
func NewView(service *Service, token string) *View {
	return &View{service: service, token: token}
}

// Refresh runs a pass. On failure it returns the previous snapshot (nil if
// there is none) together with the error. A pass only replaces a snapshot
// produced by a pass that started before it, so when passes overlap the
// latest one started wins and is returned.
func (v *View) Refresh(ctx context.Context) (*Snapshot, error) {
	v.mu.Lock()
	v.started++
	seq := v.started
	v.mu.Unlock()

	snap, err := v.service.Refresh(ctx, v.token)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		return v.latest, err
	}
	if seq > v.latestSeq {
		v.latest = snap
		v.latestSeq = seq
	}
	return v.latest, nil
}

// Sync pulls fresh balances upstream, then runs a pass. When the upstream
// step fails no pass runs and the previous snapshot is returned with the
// error.
func (v *View) Sync(ctx context.Context) (*Snapshot, error) {
	if err := v.service.RefreshUpstream(ctx, v.token); err != nil {
		v.mu.RLock()
		defer v.mu.RUnlock()
		return v.latest, err
	}
	return v.Refresh(ctx)
}

// Latest returns the last successful snapshot.
func (v *View) Latest() (*Snapshot, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.latest == nil {
		return nil, ErrNoSnapshot
	}
	return v.latest, nil
}
