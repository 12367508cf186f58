package openfinance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", time.Second)
}

func TestFetchBalances(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != balancesPath {
			t.Errorf("path = %q, want %q", r.URL.Path, balancesPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"account_id":"a1","item_id":"A","name":"Checking","type":"depository","subtype":"checking",
			 "available":90.5,"current":100.25,"limit":null,"last_updated":"2025-03-01T12:00:00Z"},
			{"account_id":"a2","item_id":"B","subtype":"","current":null,"last_updated":"2025-03-01T12:00:00.123456"}
		]`))
	})

	got, err := client.FetchBalances(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FetchBalances() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(FetchBalances()) = %d, want 2", len(got))
	}

	if got[0].LinkItemID != "A" || got[0].Subtype != "checking" {
		t.Errorf("record[0] = %+v", got[0])
	}
	if !got[0].Current.Equal(decimal.RequireFromString("100.25")) {
		t.Errorf("record[0].Current = %s, want 100.25", got[0].Current)
	}
	if got[0].Available == nil || !got[0].Available.Equal(decimal.RequireFromString("90.5")) {
		t.Errorf("record[0].Available = %v, want 90.5", got[0].Available)
	}
	if got[0].Limit != nil {
		t.Errorf("record[0].Limit = %v, want nil", got[0].Limit)
	}
	if !got[1].Current.IsZero() {
		t.Errorf("record[1].Current = %s, want 0 for missing balance", got[1].Current)
	}
	if got[1].LastUpdatedAt.IsZero() {
		t.Error("record[1].LastUpdatedAt not parsed from zoneless timestamp")
	}
}

func TestFetchAccountSummaries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":7,"item_id":"A","institution_id":"ins_1","created_at":"2025-01-01T00:00:00Z"},
			{"id":"s-2","item_id":"B","institution_id":null,"created_at":""}
		]`))
	})

	got, err := client.FetchAccountSummaries(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FetchAccountSummaries() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "7" || got[0].InstitutionID != "ins_1" {
		t.Errorf("summary[0] = %+v", got[0])
	}
	if got[1].ID != "s-2" || got[1].InstitutionID != "" {
		t.Errorf("summary[1] = %+v", got[1])
	}
}

func TestFetchInstitutionName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != institutionPath {
			t.Errorf("path = %q, want %q", r.URL.Path, institutionPath)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("institution lookup should not send a token")
		}
		id := r.URL.Query().Get("institution_id")
		if id != "ins 3" {
			http.Error(w, `{"detail":"no such institution"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"institution_id":"ins 3","name":"Tartan Bank","products":["balance"]}`))
	})

	name, err := client.FetchInstitutionName(context.Background(), "ins 3")
	if err != nil {
		t.Fatalf("FetchInstitutionName() error: %v", err)
	}
	if name != "Tartan Bank" {
		t.Errorf("name = %q, want Tartan Bank", name)
	}

	if _, err := client.FetchInstitutionName(context.Background(), "ins_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing institution error = %v, want ErrNotFound", err)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"Invalid token"}`, account.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ``, account.ErrUnauthorized},
		{"not found", http.StatusNotFound, ``, ErrNotFound},
		{"server error", http.StatusInternalServerError, `oops`, account.ErrUnavailable},
		{"bad gateway", http.StatusBadGateway, ``, account.ErrUnavailable},
		{"malformed body", http.StatusOK, `{not json`, account.ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.FetchBalances(context.Background(), "tok")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FetchBalances() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, time.Second)
	if _, err := client.FetchAccountSummaries(context.Background(), "tok"); !errors.Is(err, account.ErrUnavailable) {
		t.Errorf("FetchAccountSummaries() error = %v, want ErrUnavailable", err)
	}
}

func TestCancelledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.FetchBalances(ctx, "tok"); !errors.Is(err, context.Canceled) {
		t.Errorf("FetchBalances() error = %v, want context.Canceled", err)
	}
}

func TestFetchBalances_ExactAmounts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"account_id":"a1","item_id":"A","current":12345678901234.123456789,"available":0.1,"limit":9007199254740993}]`))
	})

	got, err := client.FetchBalances(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FetchBalances() error: %v", err)
	}
	if want := decimal.RequireFromString("12345678901234.123456789"); !got[0].Current.Equal(want) {
		t.Errorf("Current = %s, want %s", got[0].Current, want)
	}
	if got[0].Available == nil || got[0].Available.String() != "0.1" {
		t.Errorf("Available = %v, want 0.1", got[0].Available)
	}
	if got[0].Limit == nil || got[0].Limit.String() != "9007199254740993" {
		t.Errorf("Limit = %v, want 9007199254740993", got[0].Limit)
	}
}

func TestUpdateBalances(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != updateAllPath {
			t.Errorf("request = %s %s, want POST %s", r.Method, r.URL.Path, updateAllPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		w.Write([]byte(`{"updated":3}`))
	})

	if err := client.UpdateBalances(context.Background(), "tok"); err != nil {
		t.Errorf("UpdateBalances() error: %v", err)
	}
}

func TestFetchTransactions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != transactionPath {
			t.Errorf("request = %s %s, want GET %s", r.Method, r.URL.Path, transactionPath)
		}
		w.Write([]byte(`{"total_transactions":2,"accounts":[],"transactions":[
			{"transaction_id":"t1","account_id":"a1","name":"Uber","amount":6.33,"category":["Travel","Taxi"],"date":"2025-02-01"},
			{"transaction_id":"t2","account_id":"a1","name":"Refund","amount":-500,"category":null,"date":"2025-02-03"}
		]}`))
	})

	got, err := client.FetchTransactions(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FetchTransactions() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "t1" || got[0].Date != "2025-02-01" || len(got[0].Categories) != 2 || got[0].Categories[0] != "Travel" {
		t.Errorf("transaction[0] = %+v", got[0])
	}
	if !got[0].Amount.Equal(decimal.RequireFromString("6.33")) || !got[1].Amount.Equal(decimal.NewFromInt(-500)) {
		t.Errorf("amounts = %s, %s", got[0].Amount, got[1].Amount)
	}
	if got[1].Categories != nil {
		t.Errorf("transaction[1].Categories = %v, want nil", got[1].Categories)
	}
}

func TestLinkFlow(t *testing.T) {
	var exchanged string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		switch r.URL.Path {
		case linkTokenPath:
			w.Write([]byte(`{"link_token":"link-sandbox-abc","expiration":"2025-03-01T12:00:00Z"}`))
		case exchangePath:
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			exchanged = body["public_token"]
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})
	ctx := context.Background()

	linkToken, err := client.CreateLinkToken(ctx, "tok")
	if err != nil || linkToken != "link-sandbox-abc" {
		t.Fatalf("CreateLinkToken() = (%q, %v)", linkToken, err)
	}
	if err := client.ExchangePublicToken(ctx, "tok", "public-sandbox-1"); err != nil {
		t.Fatalf("ExchangePublicToken() error: %v", err)
	}
	if exchanged != "public-sandbox-1" {
		t.Errorf("exchanged = %q, want public-sandbox-1", exchanged)
	}
}

func TestCreateLinkToken_Empty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	if _, err := client.CreateLinkToken(context.Background(), "tok"); !errors.Is(err, account.ErrUnavailable) {
		t.Errorf("CreateLinkToken() error = %v, want ErrUnavailable", err)
	}
}
