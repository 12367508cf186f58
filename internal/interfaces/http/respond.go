package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"finlink/internal/domain/account"
	"finlink/internal/domain/ledger"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, account.ErrMissingToken),
		errors.Is(err, account.ErrMissingPublic),
		errors.Is(err, account.ErrInvalidGroup):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrUnauthorized),
		errors.Is(err, account.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrMutationPending):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrUnavailable),
		errors.Is(err, account.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, account.ErrNoSnapshot):
		return http.StatusNotFound
	case errors.Is(err, account.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
