package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"finlink/internal/domain/account"
	"finlink/internal/models"
	"finlink/internal/shared/messages"
	"finlink/internal/shared/middleware"
)

// AccountHandler serves aggregated account balances.
type AccountHandler struct {
	sessions *Sessions
	messages *messages.Messages
	logger   zerolog.Logger
}

func NewAccountHandler(sessions *Sessions, msgs *messages.Messages, logger zerolog.Logger) *AccountHandler {
	if msgs == nil {
		msgs = messages.Default()
	}
	return &AccountHandler{sessions: sessions, messages: msgs, logger: logger}
}

// DisplayResponse is one aggregation result. Stale is set when the latest
// pass failed and the previous snapshot is served instead; Error then
// carries the banner text.
type DisplayResponse struct {
	Accounts     []models.DisplayAccount `json:"accounts"`
	Summary      account.Summary         `json:"summary"`
	Institutions map[string]string       `json:"institutions"`
	GeneratedAt  time.Time               `json:"generatedAt"`
	Stale        bool                    `json:"stale"`
	Error        string                  `json:"error,omitempty"`
}

// HandleDisplay runs an aggregation pass for the caller. With ?cached=true
// the last successful snapshot is returned without contacting upstream;
// with ?sync=true the provider pulls fresh balances before the pass.
func (h *AccountHandler) HandleDisplay(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, h.messages.Unauthorized.Body)
		return
	}
	view := h.sessions.Get(token).Accounts

	if r.URL.Query().Get("cached") == "true" {
		snap, err := view.Latest()
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toDisplayResponse(snap))
		return
	}

	refresh := view.Refresh
	if r.URL.Query().Get("sync") == "true" {
		refresh = view.Sync
	}
	snap, err := refresh(r.Context())
	if err != nil {
		msg := h.messages.RefreshFailed.Body
		if statusFor(err) == http.StatusUnauthorized {
			msg = h.messages.Unauthorized.Body
		}
		h.logger.Warn().Err(err).Bool("stale_available", snap != nil).Msg("account refresh failed")

		if snap == nil {
			writeError(w, statusFor(err), msg)
			return
		}
		resp := toDisplayResponse(snap)
		resp.Stale = true
		resp.Error = msg
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusOK, toDisplayResponse(snap))
}

func toDisplayResponse(snap *account.Snapshot) DisplayResponse {
	accounts := snap.Accounts
	if accounts == nil {
		accounts = []models.DisplayAccount{}
	}
	return DisplayResponse{
		Accounts:     accounts,
		Summary:      snap.Summary,
		Institutions: snap.Institutions,
		GeneratedAt:  snap.GeneratedAt,
	}
}

// HandleTransactions returns the provider's transactions totalled by month
// or by category (?group_by=month|category).
func (h *AccountHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, h.messages.Unauthorized.Body)
		return
	}
	groupBy, err := account.ParseGroupBy(r.URL.Query().Get("group_by"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	overview, err := h.sessions.service.TransactionsOverview(r.Context(), token, groupBy)
	if err != nil {
		h.fail(w, err, h.messages.TransactionsFailed.Body, "transactions overview failed")
		return
	}
	if overview.Totals == nil {
		overview.Totals = []account.Total{}
	}
	writeJSON(w, http.StatusOK, overview)
}

// LinkTokenResponse carries the token for the provider's link widget.
type LinkTokenResponse struct {
	LinkToken string `json:"linkToken"`
}

// HandleLinkToken starts linking a new institution.
func (h *AccountHandler) HandleLinkToken(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, h.messages.Unauthorized.Body)
		return
	}

	linkToken, err := h.sessions.service.CreateLinkToken(r.Context(), token)
	if err != nil {
		h.fail(w, err, h.messages.LinkFailed.Body, "link token request failed")
		return
	}
	writeJSON(w, http.StatusOK, LinkTokenResponse{LinkToken: linkToken})
}

type exchangeRequest struct {
	PublicToken string `json:"publicToken"`
}

// HandleLinkExchange completes linking with the widget's public token,
// then answers with a fresh aggregation that includes the new accounts.
func (h *AccountHandler) HandleLinkExchange(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, h.messages.Unauthorized.Body)
		return
	}
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := detach(r)
	if err := h.sessions.service.CompleteLink(ctx, token, req.PublicToken); err != nil {
		h.fail(w, err, h.messages.LinkFailed.Body, "link exchange failed")
		return
	}

	snap, err := h.sessions.Get(token).Accounts.Refresh(ctx)
	if err != nil {
		h.fail(w, err, h.messages.RefreshFailed.Body, "account refresh after link failed")
		return
	}
	writeJSON(w, http.StatusOK, toDisplayResponse(snap))
}

// fail answers with err's status. Client errors carry err's text, others
// the banner.
func (h *AccountHandler) fail(w http.ResponseWriter, err error, banner, logMsg string) {
	status := statusFor(err)
	msg := banner
	switch {
	case status == http.StatusBadRequest || status == http.StatusNotImplemented:
		msg = err.Error()
	case status == http.StatusUnauthorized:
		msg = h.messages.Unauthorized.Body
	}
	if status >= 500 && status != http.StatusNotImplemented {
		h.logger.Error().Err(err).Msg(logMsg)
	} else {
		h.logger.Warn().Err(err).Msg(logMsg)
	}
	writeError(w, status, msg)
}
