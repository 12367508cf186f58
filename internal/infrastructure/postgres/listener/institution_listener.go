// Package listener relays Postgres notifications into the running process.
package listener

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"finlink/internal/domain/institution"
	"finlink/internal/infrastructure/postgres"
)

const (
	channelName       = postgres.InstitutionNamedChannel
	reconnectInterval = 5 * time.Second
	pingInterval      = 90 * time.Second
)

// InstitutionNotification is the payload of the institution_named channel.
type InstitutionNotification struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// InstitutionListener copies institution names written by any replica into
// this process's local cache, so a lookup done elsewhere is not repeated here.
type InstitutionListener struct {
	connStr    string
	local      institution.Cache
	logger     zerolog.Logger
	shutdownCh chan struct{}
	done       chan struct{}
}

// NewInstitutionListener creates a listener writing into local. local must
// be the in-process tier only; writing into a layered cache would echo the
// name back into Postgres.
func NewInstitutionListener(connStr string, local institution.Cache, logger zerolog.Logger) *InstitutionListener {
	return &InstitutionListener{
		connStr:    connStr,
		local:      local,
		logger:     logger.With().Str("component", "institution_listener").Logger(),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins listening in a background goroutine
func (l *InstitutionListener) Start(ctx context.Context) {
	go l.listen(ctx)
	l.logger.Info().Str("channel", channelName).Msg("Institution listener started")
}

// Stop shuts the listener down and waits for it to exit
func (l *InstitutionListener) Stop() {
	close(l.shutdownCh)
	<-l.done
	l.logger.Info().Msg("Institution listener stopped")
}

func (l *InstitutionListener) listen(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		default:
			l.connectAndListen(ctx)
		}

		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(reconnectInterval):
			l.logger.Info().Msg("Reconnecting to Postgres for notifications")
		}
	}
}

func (l *InstitutionListener) connectAndListen(ctx context.Context) {
	pl := pq.NewListener(l.connStr, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			l.logger.Debug().Msg("Connected to notification channel")
		case pq.ListenerEventDisconnected:
			l.logger.Warn().Err(err).Msg("Disconnected from notification channel")
		case pq.ListenerEventReconnected:
			l.logger.Info().Msg("Reconnected to notification channel")
		case pq.ListenerEventConnectionAttemptFailed:
			l.logger.Warn().Err(err).Msg("Notification connection attempt failed")
		}
	})
	defer pl.Close()

	if err := pl.Listen(channelName); err != nil {
		l.logger.Error().Err(err).Str("channel", channelName).Msg("Failed to listen")
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-l.shutdownCh:
			return
		case <-ctx.Done():
			return
		case n := <-pl.Notify:
			if n == nil {
				// connection lost; the outer loop reconnects
				return
			}
			l.handle(ctx, n.Extra)
		case <-ping.C:
			go func() {
				if err := pl.Ping(); err != nil {
					l.logger.Warn().Err(err).Msg("Listener ping failed")
				}
			}()
		}
	}
}

func (l *InstitutionListener) handle(ctx context.Context, payload string) {
	var n InstitutionNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		l.logger.Warn().Err(err).Msg("Failed to parse institution notification")
		return
	}
	if n.ID == "" || n.Name == "" {
		return
	}
	if err := l.local.Put(ctx, n.ID, n.Name); err != nil {
		l.logger.Warn().Err(err).Str("institution_id", n.ID).Msg("Failed to cache notified institution")
		return
	}
	l.logger.Debug().Str("institution_id", n.ID).Msg("Cached institution from notification")
}
