package institution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"finlink/internal/models"
)

const defaultLookupTimeout = 10 * time.Second

var ErrEmptyName = errors.New("directory returned an empty institution name")

var (
	resolverTracer   = otel.Tracer("finlink/institution")
	resolverMeter    = otel.Meter("finlink/institution")
	lookupTotal, _   = resolverMeter.Int64Counter("institution.lookup.total", metric.WithDescription("Institution directory lookups by outcome"))
	cacheHitTotal, _ = resolverMeter.Int64Counter("institution.cache.hits", metric.WithDescription("Institution ids served from cache"))
)

// Directory looks up the display name of a single institution.
type Directory interface {
	FetchInstitutionName(ctx context.Context, institutionID string) (string, error)
}

// NameMap maps institution id to display name.
type NameMap = map[string]string

// Resolver turns institution ids found in account summaries into names.
// It owns its Cache: only successful lookups are written to it, so a
// failed id is looked up again on the next pass.
type Resolver struct {
	directory     Directory
	cache         Cache
	lookupTimeout time.Duration
	logger        zerolog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLookupTimeout bounds each directory call.
func WithLookupTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.lookupTimeout = d
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger zerolog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver backed by the given directory and cache.
func NewResolver(directory Directory, cache Cache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		directory:     directory,
		cache:         cache,
		lookupTimeout: defaultLookupTimeout,
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a name for every distinct non-empty institution id in
// summaries. Cached ids are returned as-is; missing ids are looked up
// concurrently, one call per id. A failed lookup yields the id itself as a
// degraded name and is not cached. Resolve only fails when ctx is done.
func (r *Resolver) Resolve(ctx context.Context, summaries []models.AccountSummary) (NameMap, error) {
	ctx, span := resolverTracer.Start(ctx, "institution.Resolve",
		trace.WithAttributes(attribute.Int("summaries.count", len(summaries))),
	)
	defer span.End()

	names := make(NameMap)
	missing, err := r.partition(ctx, summaries, names)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("institutions.cached", len(names)),
		attribute.Int("institutions.missing", len(missing)),
	)
	if len(missing) == 0 {
		return names, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range missing {
		g.Go(func() error {
			name := r.lookup(gctx, id)
			mu.Lock()
			names[id] = name
			mu.Unlock()
			return nil
		})
	}
	// Lookups never return an error; Wait only joins them.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve institutions: %w", err)
	}
	return names, nil
}

// partition copies cache hits into names and returns the sorted distinct ids
// that still need a lookup.
func (r *Resolver) partition(ctx context.Context, summaries []models.AccountSummary, names NameMap) ([]string, error) {
	seen := make(map[string]struct{}, len(summaries))
	var missing []string

	for _, s := range summaries {
		id := s.InstitutionID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("resolve institutions: %w", err)
		}

		name, ok, err := r.cache.Get(ctx, id)
		if err != nil {
			r.logger.Warn().Err(err).Str("institution_id", id).Msg("institution cache read failed")
		}
		if ok {
			names[id] = name
			cacheHitTotal.Add(ctx, 1)
			continue
		}
		missing = append(missing, id)
	}

	sort.Strings(missing)
	return missing, nil
}

// lookup fetches one name. It always returns something to display.
func (r *Resolver) lookup(ctx context.Context, id string) string {
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	ctx, span := resolverTracer.Start(ctx, "institution.lookup",
		trace.WithAttributes(attribute.String("institution.id", id)),
	)
	defer span.End()

	name, err := r.directory.FetchInstitutionName(ctx, id)
	if err == nil && name == "" {
		err = ErrEmptyName
	}
	if err != nil {
		span.RecordError(err)
		lookupTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "degraded")))
		r.logger.Warn().Err(err).Str("institution_id", id).Msg("institution lookup failed, using id as name")
		return id
	}

	lookupTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "resolved")))
	if err := r.cache.Put(ctx, id, name); err != nil {
		r.logger.Warn().Err(err).Str("institution_id", id).Msg("institution cache write failed")
	}
	return name
}
