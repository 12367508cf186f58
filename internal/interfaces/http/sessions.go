package http

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"finlink/internal/domain/account"
	"finlink/internal/domain/ledger"
	"finlink/internal/shared/messages"
)

const defaultIdleTTL = 30 * time.Minute

// Session is the engine state kept for one bearer token: the last account
// snapshot and the local ledger copy.
type Session struct {
	// ID names the session in logs in place of its token.
	ID       string
	Accounts *account.View
	Ledger   *ledger.Synchronizer

	loadMu   sync.Mutex
	loaded   bool
	lastSeen time.Time
}

// EnsureLoaded loads the ledger from the store until one load succeeds.
func (s *Session) EnsureLoaded(ctx context.Context) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loaded {
		return nil
	}
	if err := s.Ledger.Load(ctx); err != nil {
		return err
	}
	s.loaded = true
	return nil
}

// StoreFactory returns the ledger store acting on behalf of token.
type StoreFactory func(token string) ledger.Store

type SessionConfig struct {
	IdleTTL         time.Duration
	MutationTimeout time.Duration
	Messages        *messages.Messages
	Logger          zerolog.Logger
}

// Sessions creates sessions lazily, one per token, and drops them once
// they have been idle for IdleTTL.
type Sessions struct {
	service *account.Service
	stores  StoreFactory
	cfg     SessionConfig
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions(service *account.Service, stores StoreFactory, cfg SessionConfig) *Sessions {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.Messages == nil {
		cfg.Messages = messages.Default()
	}
	return &Sessions{
		service:  service,
		stores:   stores,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for token, creating it if needed.
func (s *Sessions) Get(token string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		sess = &Session{
			ID:       uuid.NewString(),
			Accounts: account.NewView(s.service, token),
			Ledger: ledger.NewSynchronizer(s.stores(token), ledger.Config{
				MutationTimeout: s.cfg.MutationTimeout,
				Logger:          s.cfg.Logger,
				Messages:        s.cfg.Messages,
			}),
		}
		s.sessions[token] = sess
	}
	sess.lastSeen = s.now()
	return sess
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Views returns the account view of every live session keyed by session ID.
func (s *Sessions) Views() map[string]*account.View {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make(map[string]*account.View, len(s.sessions))
	for _, sess := range s.sessions {
		views[sess.ID] = sess.Accounts
	}
	return views
}

// Sweep drops sessions idle for longer than IdleTTL. Sessions with a
// remote call in flight or an open event stream are kept.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.cfg.IdleTTL)
	dropped := 0
	for token, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) && !sess.Ledger.Busy() && sess.Ledger.Subscribers() == 0 {
			delete(s.sessions, token)
			dropped++
		}
	}
	return dropped
}

// Run sweeps idle sessions until ctx is done.
func (s *Sessions) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.cfg.Logger.Debug().Int("dropped", n).Int("live", s.Len()).Msg("idle sessions swept")
			}
		}
	}
}
