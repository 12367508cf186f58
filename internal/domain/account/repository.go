package account

import (
	"context"

	"finlink/internal/models"
)

// BalanceSource returns the current balances of every linked account.
// These interfaces are defined in the domain layer and implemented in the
// infrastructure layer.
type BalanceSource interface {
	FetchBalances(ctx context.Context, token string) ([]models.BalanceRecord, error)
}

// AccountCatalog returns the account summaries used to find institutions.
type AccountCatalog interface {
	FetchAccountSummaries(ctx context.Context, token string) ([]models.AccountSummary, error)
}

// NameResolver resolves institution ids to names for one pass.
type NameResolver interface {
	Resolve(ctx context.Context, summaries []models.AccountSummary) (map[string]string, error)
}

// BalanceUpdater asks the provider to pull fresh balances from every linked
// institution. Fetches made after it returns see the new values.
type BalanceUpdater interface {
	UpdateBalances(ctx context.Context, token string) error
}

// TransactionSource returns the provider's transactions for the caller.
type TransactionSource interface {
	FetchTransactions(ctx context.Context, token string) ([]models.ProviderTransaction, error)
}

// Linker runs the provider's account linking handshake. The link token is
// handed to the provider widget, which answers with a public token.
type Linker interface {
	CreateLinkToken(ctx context.Context, token string) (string, error)
	ExchangePublicToken(ctx context.Context, token, publicToken string) error
}
