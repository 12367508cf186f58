package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"finlink/internal/domain/ledger"
	"finlink/internal/shared/messages"
	"finlink/internal/shared/middleware"
)

// LedgerHandler exposes the caller's ledger synchronizer.
type LedgerHandler struct {
	sessions *Sessions
	messages *messages.Messages
	logger   zerolog.Logger
}

func NewLedgerHandler(sessions *Sessions, msgs *messages.Messages, logger zerolog.Logger) *LedgerHandler {
	if msgs == nil {
		msgs = messages.Default()
	}
	return &LedgerHandler{sessions: sessions, messages: msgs, logger: logger}
}

// EntryResponse is an entry with its sync state.
type EntryResponse struct {
	ledger.Entry
	State string `json:"state"`
}

type ListResponse struct {
	Entries    []EntryResponse `json:"entries"`
	Categories []string        `json:"categories"`
}

// session resolves the caller's session and makes sure its ledger has been
// loaded. It writes the error response itself and returns nil on failure.
func (h *LedgerHandler) session(w http.ResponseWriter, r *http.Request) *Session {
	token, ok := middleware.TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, h.messages.Unauthorized.Body)
		return nil
	}
	sess := h.sessions.Get(token)
	if err := sess.EnsureLoaded(r.Context()); err != nil {
		h.fail(w, ledger.OpLoad, err)
		return nil
	}
	return sess
}

// HandleList returns the local ledger. ?refresh=true reloads it from the
// store first; a reload refused because of in-flight edits still returns
// the local copy.
func (h *LedgerHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	sess := h.session(w, r)
	if sess == nil {
		return
	}

	if r.URL.Query().Get("refresh") == "true" {
		if err := sess.Ledger.Load(r.Context()); err != nil && !errors.Is(err, ledger.ErrMutationPending) {
			h.fail(w, ledger.OpLoad, err)
			return
		}
	}

	entries := sess.Ledger.Entries()
	resp := ListResponse{
		Entries:    make([]EntryResponse, 0, len(entries)),
		Categories: ledger.Categories,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, EntryResponse{Entry: e, State: sess.Ledger.State(e.ID).String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LedgerHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var draft ledger.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := h.session(w, r)
	if sess == nil {
		return
	}

	entry, err := sess.Ledger.Create(detach(r), draft)
	if err != nil {
		h.fail(w, ledger.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, EntryResponse{Entry: entry, State: ledger.Clean.String()})
}

func (h *LedgerHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "entry id is required")
		return
	}

	var patch ledger.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess := h.session(w, r)
	if sess == nil {
		return
	}

	entry, err := sess.Ledger.Update(detach(r), id, patch)
	if err != nil {
		h.fail(w, ledger.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, EntryResponse{Entry: entry, State: ledger.Clean.String()})
}

func (h *LedgerHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "entry id is required")
		return
	}

	sess := h.session(w, r)
	if sess == nil {
		return
	}

	if err := sess.Ledger.Delete(detach(r), id); err != nil {
		h.fail(w, ledger.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// detach keeps a mutation running when the client disconnects. The
// synchronizer's mutation timeout still bounds it.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// fail writes the banner text for a failed operation. Validation and
// conflict errors carry their own message.
func (h *LedgerHandler) fail(w http.ResponseWriter, op ledger.Op, err error) {
	status := statusFor(err)

	var msg string
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		msg = err.Error()
	case http.StatusUnauthorized:
		msg = h.messages.Unauthorized.Body
	default:
		msg = h.bannerFor(op)
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("op", string(op)).Msg("ledger operation failed")
	}
	writeError(w, status, msg)
}

func (h *LedgerHandler) bannerFor(op ledger.Op) string {
	switch op {
	case ledger.OpLoad:
		return h.messages.LoadFailed.Body
	case ledger.OpCreate:
		return h.messages.CreateFailed.Body
	case ledger.OpUpdate:
		return h.messages.UpdateFailed.Body
	default:
		return h.messages.DeleteFailed.Body
	}
}
