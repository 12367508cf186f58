package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"finlink/internal/domain/ledger"
	"finlink/internal/shared/messages"
	"finlink/internal/shared/middleware"
)

func newLedgerRouter(t *testing.T, store *MockStore) http.Handler {
	t.Helper()
	h := NewLedgerHandler(newTestSessions(t, &MockBalanceSource{}, store), nil, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ledger", h.HandleList)
	mux.HandleFunc("POST /api/ledger", h.HandleCreate)
	mux.HandleFunc("PATCH /api/ledger/{id}", h.HandleUpdate)
	mux.HandleFunc("DELETE /api/ledger/{id}", h.HandleDelete)
	return middleware.BearerToken(mux)
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestLedgerList_LoadsOnce(t *testing.T) {
	store := &MockStore{ListFunc: func(ctx context.Context) ([]ledger.Entry, error) { return seedEntries(), nil }}
	router := newLedgerRouter(t, store)

	for i := 0; i < 2; i++ {
		rr := doRequest(router, http.MethodGet, "/api/ledger", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		var resp ListResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Entries) != 2 || resp.Entries[0].ID != "e1" || resp.Entries[0].State != "clean" {
			t.Errorf("entries = %+v", resp.Entries)
		}
		if len(resp.Categories) != len(ledger.Categories) {
			t.Errorf("categories = %v", resp.Categories)
		}
	}
	if store.ListCalls() != 1 {
		t.Errorf("List called %d times, want 1", store.ListCalls())
	}

	doRequest(router, http.MethodGet, "/api/ledger?refresh=true", "")
	if store.ListCalls() != 2 {
		t.Errorf("List called %d times after refresh, want 2", store.ListCalls())
	}
}

func TestLedgerCreate(t *testing.T) {
	store := &MockStore{ListFunc: func(ctx context.Context) ([]ledger.Entry, error) { return seedEntries(), nil }}
	router := newLedgerRouter(t, store)

	rr := doRequest(router, http.MethodPost, "/api/ledger",
		`{"name":"Lunch","category":"Food","amount":12.5,"type":"expense","date":"2025-03-04"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}
	var got EntryResponse
	json.NewDecoder(rr.Body).Decode(&got)
	if got.ID != "new-1" || got.Name != "Lunch" {
		t.Errorf("created = %+v", got)
	}
}

func TestLedgerErrors(t *testing.T) {
	msgs := messages.Default()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		store      *MockStore
		wantStatus int
		wantError  string
	}{
		{
			name:       "malformed body",
			method:     http.MethodPost,
			path:       "/api/ledger",
			body:       `{`,
			store:      &MockStore{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid draft",
			method:     http.MethodPost,
			path:       "/api/ledger",
			body:       `{"name":"x","category":"Food","amount":1,"type":"gift","date":"2025-03-04"}`,
			store:      &MockStore{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "create rejected upstream",
			method: http.MethodPost,
			path:   "/api/ledger",
			body:   `{"name":"x","category":"Food","amount":1,"type":"expense","date":"2025-03-04"}`,
			store: &MockStore{CreateFunc: func(ctx context.Context, d ledger.Draft) (ledger.Entry, error) {
				return ledger.Entry{}, fmt.Errorf("create: %w", ledger.ErrUnavailable)
			}},
			wantStatus: http.StatusBadGateway,
			wantError:  msgs.CreateFailed.Body,
		},
		{
			name:       "update unknown entry",
			method:     http.MethodPatch,
			path:       "/api/ledger/nope",
			body:       `{"name":"y"}`,
			store:      &MockStore{},
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "update token rejected",
			method: http.MethodPatch,
			path:   "/api/ledger/e1",
			body:   `{"name":"Tea"}`,
			store: &MockStore{PatchFunc: func(ctx context.Context, id string, p ledger.Patch) error {
				return ledger.ErrUnauthorized
			}},
			wantStatus: http.StatusUnauthorized,
			wantError:  msgs.Unauthorized.Body,
		},
		{
			name:   "delete fails",
			method: http.MethodDelete,
			path:   "/api/ledger/e2",
			store: &MockStore{DeleteFunc: func(ctx context.Context, id string) error {
				return errors.New("boom")
			}},
			wantStatus: http.StatusInternalServerError,
			wantError:  msgs.DeleteFailed.Body,
		},
		{
			name:   "load fails",
			method: http.MethodGet,
			path:   "/api/ledger",
			store: &MockStore{ListFunc: func(ctx context.Context) ([]ledger.Entry, error) {
				return nil, ledger.ErrUnavailable
			}},
			wantStatus: http.StatusBadGateway,
			wantError:  msgs.LoadFailed.Body,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.store.ListFunc == nil {
				tt.store.ListFunc = func(ctx context.Context) ([]ledger.Entry, error) { return seedEntries(), nil }
			}
			rr := doRequest(newLedgerRouter(t, tt.store), tt.method, tt.path, tt.body)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantError != "" {
				var body errorResponse
				json.NewDecoder(rr.Body).Decode(&body)
				if body.Error != tt.wantError {
					t.Errorf("error = %q, want %q", body.Error, tt.wantError)
				}
			}
		})
	}
}

func TestLedgerUpdateAndDelete(t *testing.T) {
	var patched ledger.Patch
	store := &MockStore{
		ListFunc: func(ctx context.Context) ([]ledger.Entry, error) { return seedEntries(), nil },
		PatchFunc: func(ctx context.Context, id string, p ledger.Patch) error {
			patched = p
			return nil
		},
	}
	router := newLedgerRouter(t, store)

	rr := doRequest(router, http.MethodPatch, "/api/ledger/e1", `{"name":"Tea","category":"Food"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rr.Code, rr.Body.String())
	}
	if patched.Name == nil || *patched.Name != "Tea" || patched.Category != nil {
		t.Errorf("patch sent = %+v, want only the name", patched)
	}

	rr = doRequest(router, http.MethodDelete, "/api/ledger/e1", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = doRequest(router, http.MethodGet, "/api/ledger", "")
	var resp ListResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Entries) != 1 || resp.Entries[0].ID != "e2" {
		t.Errorf("entries after delete = %+v", resp.Entries)
	}
}
