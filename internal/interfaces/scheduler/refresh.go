package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"finlink/internal/domain/account"
)

// ViewSource lists the account views to keep fresh, keyed by a value that
// is safe to log.
type ViewSource interface {
	Views() map[string]*account.View
}

// RefreshJob runs one aggregation pass for a single view. A failure keeps
// the view's previous snapshot.
type RefreshJob struct {
	key  string
	view *account.View
}

func NewRefreshJob(key string, view *account.View) *RefreshJob {
	return &RefreshJob{key: key, view: view}
}

func (j *RefreshJob) Execute(ctx context.Context) error {
	_, err := j.view.Refresh(ctx)
	return err
}

func (j *RefreshJob) Key() string         { return j.key }
func (j *RefreshJob) Description() string { return "account refresh" }

// Refresher periodically queues a RefreshJob for every view in a
// ViewSource.
type Refresher struct {
	source   ViewSource
	pool     *WorkerPool
	interval time.Duration
	logger   zerolog.Logger
}

func NewRefresher(source ViewSource, pool *WorkerPool, interval time.Duration, logger zerolog.Logger) *Refresher {
	return &Refresher{
		source:   source,
		pool:     pool,
		interval: interval,
		logger:   logger.With().Str("component", "refresher").Logger(),
	}
}

// Tick queues one round of refresh jobs and returns how many were queued.
func (r *Refresher) Tick() int {
	views := r.source.Views()
	if len(views) == 0 {
		return 0
	}

	jobs := make([]Job, 0, len(views))
	for key, view := range views {
		jobs = append(jobs, NewRefreshJob(key, view))
	}
	queued := r.pool.SubmitBatch(jobs)
	r.logger.Debug().Int("views", len(views)).Int("queued", queued).Msg("refresh round")
	return queued
}

// Run starts the pool and ticks every interval until ctx is done, then
// drains the pool for up to drainTimeout.
func (r *Refresher) Run(ctx context.Context, drainTimeout time.Duration) {
	r.pool.Start()
	defer r.pool.Shutdown(drainTimeout)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("background refresh started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}
