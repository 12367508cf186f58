package http

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"finlink/internal/domain/account"
	"finlink/internal/domain/ledger"
	"finlink/internal/models"
)

// MockBalanceSource implements account.BalanceSource
type MockBalanceSource struct {
	FetchBalancesFunc func(ctx context.Context, token string) ([]models.BalanceRecord, error)
}

func (m *MockBalanceSource) FetchBalances(ctx context.Context, token string) ([]models.BalanceRecord, error) {
	if m.FetchBalancesFunc != nil {
		return m.FetchBalancesFunc(ctx, token)
	}
	return nil, nil
}

// MockAccountCatalog implements account.AccountCatalog
type MockAccountCatalog struct {
	FetchAccountSummariesFunc func(ctx context.Context, token string) ([]models.AccountSummary, error)
}

func (m *MockAccountCatalog) FetchAccountSummaries(ctx context.Context, token string) ([]models.AccountSummary, error) {
	if m.FetchAccountSummariesFunc != nil {
		return m.FetchAccountSummariesFunc(ctx, token)
	}
	return nil, nil
}

// MockResolver implements account.NameResolver
type MockResolver struct {
	ResolveFunc func(ctx context.Context, summaries []models.AccountSummary) (map[string]string, error)
}

func (m *MockResolver) Resolve(ctx context.Context, summaries []models.AccountSummary) (map[string]string, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, summaries)
	}
	return map[string]string{}, nil
}

// MockProvider implements account.BalanceUpdater, account.TransactionSource
// and account.Linker
type MockProvider struct {
	UpdateBalancesFunc      func(ctx context.Context, token string) error
	FetchTransactionsFunc   func(ctx context.Context, token string) ([]models.ProviderTransaction, error)
	CreateLinkTokenFunc     func(ctx context.Context, token string) (string, error)
	ExchangePublicTokenFunc func(ctx context.Context, token, publicToken string) error
}

func (m *MockProvider) UpdateBalances(ctx context.Context, token string) error {
	if m.UpdateBalancesFunc != nil {
		return m.UpdateBalancesFunc(ctx, token)
	}
	return nil
}

func (m *MockProvider) FetchTransactions(ctx context.Context, token string) ([]models.ProviderTransaction, error) {
	if m.FetchTransactionsFunc != nil {
		return m.FetchTransactionsFunc(ctx, token)
	}
	return nil, nil
}

func (m *MockProvider) CreateLinkToken(ctx context.Context, token string) (string, error) {
	if m.CreateLinkTokenFunc != nil {
		return m.CreateLinkTokenFunc(ctx, token)
	}
	return "link-sandbox-1", nil
}

func (m *MockProvider) ExchangePublicToken(ctx context.Context, token, publicToken string) error {
	if m.ExchangePublicTokenFunc != nil {
		return m.ExchangePublicTokenFunc(ctx, token, publicToken)
	}
	return nil
}

// MockStore implements ledger.Store
type MockStore struct {
	mu         sync.Mutex
	ListFunc   func(ctx context.Context) ([]ledger.Entry, error)
	CreateFunc func(ctx context.Context, draft ledger.Draft) (ledger.Entry, error)
	PatchFunc  func(ctx context.Context, id string, patch ledger.Patch) error
	DeleteFunc func(ctx context.Context, id string) error
	listCalls  int
}

func (m *MockStore) List(ctx context.Context) ([]ledger.Entry, error) {
	m.mu.Lock()
	m.listCalls++
	m.mu.Unlock()
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *MockStore) Create(ctx context.Context, draft ledger.Draft) (ledger.Entry, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, draft)
	}
	return draft.Entry("new-1"), nil
}

func (m *MockStore) Patch(ctx context.Context, id string, patch ledger.Patch) error {
	if m.PatchFunc != nil {
		return m.PatchFunc(ctx, id, patch)
	}
	return nil
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *MockStore) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func seedEntries() []ledger.Entry {
	return []ledger.Entry{
		{ID: "e1", Name: "Coffee", Category: "Food", Amount: decimal.RequireFromString("3.50"), Kind: ledger.KindExpense, Date: "2025-03-01"},
		{ID: "e2", Name: "Salary", Category: "Salary", Amount: decimal.NewFromInt(2500), Kind: ledger.KindIncome, Date: "2025-03-02"},
	}
}

// newTestSessions wires a session registry whose every token uses store.
func newTestSessions(t *testing.T, b *MockBalanceSource, store *MockStore) *Sessions {
	t.Helper()
	return newProviderSessions(t, b, nil, store)
}

// newProviderSessions is newTestSessions with the optional provider ports
// backed by p. A nil p leaves them unsupported.
func newProviderSessions(t *testing.T, b *MockBalanceSource, p *MockProvider, store *MockStore) *Sessions {
	t.Helper()
	catalog := &MockAccountCatalog{
		FetchAccountSummariesFunc: func(ctx context.Context, token string) ([]models.AccountSummary, error) {
			return []models.AccountSummary{{ID: "s1", LinkItemID: "A", InstitutionID: "ins_1"}}, nil
		},
	}
	resolver := &MockResolver{
		ResolveFunc: func(ctx context.Context, summaries []models.AccountSummary) (map[string]string, error) {
			return map[string]string{"ins_1": "Tartan Bank"}, nil
		},
	}
	cfg := account.Config{Policy: account.PreferResolvable, Logger: zerolog.Nop()}
	if p != nil {
		cfg.Updater, cfg.Transactions, cfg.Linker = p, p, p
	}
	service := account.NewService(b, catalog, resolver, cfg)

	return NewSessions(service, func(token string) ledger.Store { return store }, SessionConfig{Logger: zerolog.Nop()})
}
