package http

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/domain/ledger"
)

func TestSessions_OnePerToken(t *testing.T) {
	sessions := newTestSessions(t, &MockBalanceSource{}, &MockStore{})

	a := sessions.Get("tok-a")
	if sessions.Get("tok-a") != a {
		t.Error("same token returned a different session")
	}
	if sessions.Get("tok-b") == a {
		t.Error("different tokens share a session")
	}
	if sessions.Len() != 2 {
		t.Errorf("Len() = %d, want 2", sessions.Len())
	}
}

func TestSessions_Sweep(t *testing.T) {
	release := make(chan struct{})
	store := &MockStore{
		ListFunc: func(ctx context.Context) ([]ledger.Entry, error) { return seedEntries(), nil },
		DeleteFunc: func(ctx context.Context, id string) error {
			<-release
			return nil
		},
	}
	sessions := newTestSessions(t, &MockBalanceSource{}, store)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return now }

	sessions.Get("idle")
	busy := sessions.Get("busy")
	if err := busy.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded() error: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		busy.Ledger.Delete(context.Background(), "e1")
	}()
	for !busy.Ledger.Busy() {
		time.Sleep(time.Millisecond)
	}

	now = now.Add(defaultIdleTTL + time.Minute)
	sessions.Get("fresh")

	if dropped := sessions.Sweep(); dropped != 1 {
		t.Errorf("Sweep() dropped %d, want 1", dropped)
	}
	if sessions.Len() != 2 {
		t.Errorf("Len() = %d, want busy and fresh to remain", sessions.Len())
	}

	close(release)
	<-done
	if dropped := sessions.Sweep(); dropped != 1 {
		t.Errorf("second Sweep() dropped %d, want 1", dropped)
	}
}

func TestSessions_ViewsKeyedByID(t *testing.T) {
	sessions := newTestSessions(t, &MockBalanceSource{}, &MockStore{})
	a := sessions.Get("tok-a")
	b := sessions.Get("tok-b")

	views := sessions.Views()
	if len(views) != 2 {
		t.Fatalf("len(Views()) = %d, want 2", len(views))
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("session ids = %q, %q, want distinct non-empty", a.ID, b.ID)
	}
	if views[a.ID] != a.Accounts || views[b.ID] != b.Accounts {
		t.Error("Views() does not map session ids to their account views")
	}
	if _, leaked := views["tok-a"]; leaked {
		t.Error("Views() is keyed by token")
	}
}

func TestSessions_SweepKeepsStreamedSession(t *testing.T) {
	store := &MockStore{
		ListFunc: func(ctx context.Context) ([]ledger.Entry, error) { return seedEntries(), nil },
		CreateFunc: func(ctx context.Context, d ledger.Draft) (ledger.Entry, error) {
			return ledger.Entry{ID: "e9", Name: d.Name, Category: d.Category, Amount: d.Amount, Kind: d.Kind, Date: d.Date}, nil
		},
	}
	sessions := newTestSessions(t, &MockBalanceSource{}, store)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions.now = func() time.Time { return now }

	streamed := sessions.Get("tok")
	if err := streamed.EnsureLoaded(context.Background()); err != nil {
		t.Fatalf("EnsureLoaded() error: %v", err)
	}
	events, unsubscribe := streamed.Ledger.Subscribe()

	now = now.Add(time.Hour)
	if dropped := sessions.Sweep(); dropped != 0 {
		t.Fatalf("Sweep() dropped %d, want 0 while a stream is open", dropped)
	}

	again := sessions.Get("tok")
	if again != streamed {
		t.Fatal("Get() after Sweep() returned a new session for a streamed token")
	}
	draft := ledger.Draft{Name: "Lunch", Category: "Food", Amount: decimal.NewFromInt(12), Kind: ledger.KindExpense, Date: "2025-03-04"}
	if _, err := again.Ledger.Create(context.Background(), draft); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Op != ledger.OpCreate {
			t.Errorf("event op = %s, want create", ev.Op)
		}
	case <-time.After(time.Second):
		t.Fatal("open stream received no event")
	}

	unsubscribe()
	now = now.Add(time.Hour)
	if dropped := sessions.Sweep(); dropped != 1 {
		t.Errorf("Sweep() after unsubscribe dropped %d, want 1", dropped)
	}
}
