package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"finlink/internal/shared/messages"
)

const (
	defaultMutationTimeout = 15 * time.Second
	placeholderPrefix      = "tmp-"
)

var (
	syncTracer         = otel.Tracer("finlink/ledger")
	syncMeter          = otel.Meter("finlink/ledger")
	mutationTotal, _   = syncMeter.Int64Counter("ledger.mutation.total", metric.WithDescription("Ledger remote calls by operation and outcome"))
	mutationLatency, _ = syncMeter.Float64Histogram("ledger.mutation.duration", metric.WithDescription("Remote ledger call duration in seconds"), metric.WithUnit("s"))
)

// State is the sync state of one entry.
type State int

const (
	// Clean means the local entry matches the last acknowledged remote state.
	Clean State = iota
	// Pending means a remote call for the entry is in flight.
	Pending
)

func (s State) String() string {
	if s == Pending {
		return "pending"
	}
	return "clean"
}

// Config holds optional Synchronizer settings.
type Config struct {
	// MutationTimeout bounds every remote call so no entry stays Pending forever.
	MutationTimeout time.Duration
	Logger          zerolog.Logger
	Messages        *messages.Messages
}

// Synchronizer owns the local ledger collection. Every mutation is applied
// locally first, sent to the Store, then kept or rolled back depending on
// the outcome. An entry accepts one mutation at a time; mutations on
// different entries run concurrently.
type Synchronizer struct {
	store    Store
	timeout  time.Duration
	logger   zerolog.Logger
	messages *messages.Messages
	newID    func() string

	mu      sync.Mutex
	entries []Entry
	pending map[string]Op
	gen     uint64
	subs    map[int]chan Event
	nextSub int
}

// NewSynchronizer creates a synchronizer with an empty collection.
func NewSynchronizer(store Store, cfg Config) *Synchronizer {
	if cfg.MutationTimeout <= 0 {
		cfg.MutationTimeout = defaultMutationTimeout
	}
	if cfg.Messages == nil {
		cfg.Messages = messages.Default()
	}
	return &Synchronizer{
		store:    store,
		timeout:  cfg.MutationTimeout,
		logger:   cfg.Logger,
		messages: cfg.Messages,
		newID:    func() string { return placeholderPrefix + uuid.NewString() },
		pending:  make(map[string]Op),
		subs:     make(map[int]chan Event),
	}
}

// Entries returns a copy of the collection in display order.
func (s *Synchronizer) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns the local entry with the given id.
func (s *Synchronizer) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.entries[i], true
	}
	return Entry{}, false
}

// State returns the sync state of an entry.
func (s *Synchronizer) State(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; ok {
		return Pending
	}
	return Clean
}

// Busy reports whether any remote call is in flight.
func (s *Synchronizer) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Load replaces the collection with the store's entries. It is refused
// while any mutation is in flight, and its result is discarded if a
// mutation started while the list was being fetched.
func (s *Synchronizer) Load(ctx context.Context) error {
	s.mu.Lock()
	if len(s.pending) > 0 {
		s.mu.Unlock()
		return ErrMutationPending
	}
	gen := s.gen
	s.mu.Unlock()

	list, err := call(ctx, s, OpLoad, "", s.store.List)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.emitLocked(Event{Op: OpLoad, Phase: PhaseFailed, Err: err, Message: s.messageFor(OpLoad, err)})
		return fmt.Errorf("load ledger: %w", err)
	}
	if s.gen != gen || len(s.pending) > 0 {
		return ErrMutationPending
	}

	s.entries = slices.Clone(list)
	s.emitLocked(Event{Op: OpLoad, Phase: PhaseCommitted})
	return nil
}

// Create appends a placeholder for the draft, asks the store to create the
// entry and swaps the placeholder for the stored entry. On failure the
// placeholder is removed.
func (s *Synchronizer) Create(ctx context.Context, draft Draft) (Entry, error) {
	if err := draft.Validate(); err != nil {
		return Entry{}, err
	}

	placeholder := draft.Entry(s.newID())

	s.mu.Lock()
	s.entries = append(s.entries, placeholder)
	s.pending[placeholder.ID] = OpCreate
	s.gen++
	s.emitLocked(Event{Op: OpCreate, Phase: PhaseApplied, EntryID: placeholder.ID})
	s.mu.Unlock()

	created, err := call(ctx, s, OpCreate, placeholder.ID, func(ctx context.Context) (Entry, error) {
		e, err := s.store.Create(ctx, draft)
		if err == nil && e.ID == "" {
			err = fmt.Errorf("%w: created entry has no id", ErrUnavailable)
		}
		return e, err
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, placeholder.ID)
	i := s.indexLocked(placeholder.ID)

	if err != nil {
		if i >= 0 {
			s.entries = slices.Delete(s.entries, i, i+1)
		}
		s.emitLocked(Event{Op: OpCreate, Phase: PhaseFailed, EntryID: placeholder.ID, Err: err, Message: s.messageFor(OpCreate, err)})
		return Entry{}, fmt.Errorf("create ledger entry: %w", err)
	}

	if i >= 0 {
		s.entries[i] = created
	} else {
		s.entries = append(s.entries, created)
	}
	s.emitLocked(Event{Op: OpCreate, Phase: PhaseCommitted, EntryID: created.ID})
	return created, nil
}

// Update applies the patch locally and sends only the fields that actually
// changed. On failure the entry is restored to exactly what it was before.
// A patch that changes nothing returns the current entry without a remote
// call.
func (s *Synchronizer) Update(ctx context.Context, id string, patch Patch) (Entry, error) {
	if err := patch.Validate(); err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if _, busy := s.pending[id]; busy {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrMutationPending, id)
	}

	before := s.entries[i]
	after := patch.Apply(before)
	diff := Diff(before, after)
	if diff.IsEmpty() {
		s.mu.Unlock()
		return before, nil
	}

	s.entries[i] = after
	s.pending[id] = OpUpdate
	s.gen++
	s.emitLocked(Event{Op: OpUpdate, Phase: PhaseApplied, EntryID: id})
	s.mu.Unlock()

	_, err := call(ctx, s, OpUpdate, id, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Patch(ctx, id, diff)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)

	if err != nil {
		if j := s.indexLocked(id); j >= 0 {
			s.entries[j] = before
		}
		s.emitLocked(Event{Op: OpUpdate, Phase: PhaseFailed, EntryID: id, Err: err, Message: s.messageFor(OpUpdate, err)})
		return Entry{}, fmt.Errorf("update ledger entry %s: %w", id, err)
	}

	s.emitLocked(Event{Op: OpUpdate, Phase: PhaseCommitted, EntryID: id})
	return after, nil
}

// Delete removes the entry locally and asks the store to delete it. An entry
// the store no longer has counts as deleted. Any other failure puts the
// entry back where it was.
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if _, busy := s.pending[id]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMutationPending, id)
	}

	removed := s.entries[i]
	var nextID string
	if i+1 < len(s.entries) {
		nextID = s.entries[i+1].ID
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	s.pending[id] = OpDelete
	s.gen++
	s.emitLocked(Event{Op: OpDelete, Phase: PhaseApplied, EntryID: id})
	s.mu.Unlock()

	_, err := call(ctx, s, OpDelete, id, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Delete(ctx, id)
	})
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug().Str("entry_id", id).Msg("Ledger entry already gone from store")
		err = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)

	if err != nil {
		s.reinsertLocked(removed, i, nextID)
		s.emitLocked(Event{Op: OpDelete, Phase: PhaseFailed, EntryID: id, Err: err, Message: s.messageFor(OpDelete, err)})
		return fmt.Errorf("delete ledger entry %s: %w", id, err)
	}

	s.emitLocked(Event{Op: OpDelete, Phase: PhaseCommitted, EntryID: id})
	return nil
}

// reinsertLocked puts e back in front of the entry that used to follow it,
// or at its old index when that entry is gone.
func (s *Synchronizer) reinsertLocked(e Entry, index int, nextID string) {
	pos := -1
	if nextID != "" {
		pos = s.indexLocked(nextID)
	}
	if pos < 0 {
		pos = min(index, len(s.entries))
	}
	s.entries = slices.Insert(s.entries, pos, e)
}

func (s *Synchronizer) indexLocked(id string) int {
	return slices.IndexFunc(s.entries, func(e Entry) bool { return e.ID == id })
}

func (s *Synchronizer) snapshotLocked() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

type result[T any] struct {
	val T
	err error
}

// call runs one remote store call under the mutation timeout. It returns
// when the call finishes or the deadline passes, whichever comes first, so
// a store that ignores its context cannot keep an entry Pending.
func call[T any](ctx context.Context, s *Synchronizer, op Op, id string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := syncTracer.Start(ctx, "ledger."+string(op),
		trace.WithAttributes(
			attribute.String("ledger.op", string(op)),
			attribute.String("ledger.entry_id", id),
		),
	)
	defer span.End()

	start := time.Now()
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	var r result[T]
	select {
	case r = <-done:
	case <-ctx.Done():
		r.err = fmt.Errorf("ledger %s abandoned: %w", op, ctx.Err())
	}

	outcome := "committed"
	if r.err != nil {
		outcome = "failed"
		span.RecordError(r.err)
		span.SetStatus(codes.Error, r.err.Error())
	}

	attrs := metric.WithAttributes(attribute.String("op", string(op)), attribute.String("outcome", outcome))
	mutationTotal.Add(context.WithoutCancel(ctx), 1, attrs)
	mutationLatency.Record(context.WithoutCancel(ctx), time.Since(start).Seconds(), attrs)

	if r.err != nil {
		s.logger.Warn().Err(r.err).Str("op", string(op)).Str("entry_id", id).Dur("elapsed", time.Since(start)).Msg("Ledger store call failed")
		var zero T
		return zero, r.err
	}
	s.logger.Debug().Str("op", string(op)).Str("entry_id", id).Dur("elapsed", time.Since(start)).Msg("Ledger store call committed")
	return r.val, nil
}

func isUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
