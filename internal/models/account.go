package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceRecord is a balance entry reported by the balance source for one
// linked account. Records are replaced wholesale on every fetch.
type BalanceRecord struct {
	AccountID     string           `json:"account_id"`
	LinkItemID    string           `json:"item_id"`
	Name          string           `json:"name"`
	Type          string           `json:"type"`    // depository, credit, ...
	Subtype       string           `json:"subtype"` // checking, savings, ...
	Current       decimal.Decimal  `json:"current"`
	Available     *decimal.Decimal `json:"available,omitempty"`
	Limit         *decimal.Decimal `json:"limit,omitempty"`
	LastUpdatedAt time.Time        `json:"last_updated"`
}

// AccountSummary is a catalog entry for a linked account. It is only used to
// find the institution behind a link item.
type AccountSummary struct {
	ID            string    `json:"id"`
	LinkItemID    string    `json:"item_id"`
	InstitutionID string    `json:"institution_id"` // empty when the provider did not report one
	CreatedAt     time.Time `json:"created_at"`
}

// DisplayAccount is a balance joined with its institution name. It is
// recomputed on every aggregation pass and never stored.
type DisplayAccount struct {
	AccountID   string          `json:"accountId"`
	BankName    string          `json:"bankName"`
	AccountType string          `json:"accountType"`
	Balance     decimal.Decimal `json:"balance"`
	AsOf        time.Time       `json:"asOf"`
}

// ProviderTransaction is a transaction reported by the linked-account
// provider. Categories runs from the most general to the most specific.
type ProviderTransaction struct {
	ID         string          `json:"transaction_id"`
	AccountID  string          `json:"account_id"`
	Name       string          `json:"name"`
	Amount     decimal.Decimal `json:"amount"`
	Categories []string        `json:"category"`
	Date       string          `json:"date"` // YYYY-MM-DD
}
