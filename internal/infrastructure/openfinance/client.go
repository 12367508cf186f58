package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finlink/internal/domain/account"
	"finlink/internal/models"
)

const (
	defaultTimeout  = 30 * time.Second
	balancesPath    = "/plaid/balances/all"
	accountsPath    = "/plaid/accounts/all"
	institutionPath = "/plaid/institution/info"
	updateAllPath   = "/plaid/balances/update_all"
	transactionPath = "/plaid/transactions"
	linkTokenPath   = "/plaid/create_link_token"
	exchangePath    = "/plaid/exchange_public_token"

	maxErrorBody = 4 << 10
)

// ErrNotFound is returned when the provider has no such resource.
var ErrNotFound = errors.New("provider resource not found")

// Client handles communication with the linked-account provider API
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a provider client. A zero timeout uses the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// balanceDTO is one entry of GET /plaid/balances/all
type balanceDTO struct {
	AccountID   string              `json:"account_id"`
	ItemID      string              `json:"item_id"`
	Name        string              `json:"name"`
	Type        string              `json:"type"`
	Subtype     string              `json:"subtype"`
	Available   decimal.NullDecimal `json:"available"`
	Current     decimal.NullDecimal `json:"current"`
	Limit       decimal.NullDecimal `json:"limit"`
	LastUpdated timestamp           `json:"last_updated"`
}

// accountDTO is one entry of GET /plaid/accounts/all
type accountDTO struct {
	ID            json.RawMessage `json:"id"`
	ItemID        string          `json:"item_id"`
	InstitutionID string          `json:"institution_id"`
	CreatedAt     timestamp       `json:"created_at"`
}

// institutionDTO is the body of GET /plaid/institution/info
type institutionDTO struct {
	InstitutionID string `json:"institution_id"`
	Name          string `json:"name"`
}

// transactionsDTO is the body of GET /plaid/transactions
type transactionsDTO struct {
	Transactions []transactionDTO `json:"transactions"`
}

type transactionDTO struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Name          string          `json:"name"`
	Amount        decimal.Decimal `json:"amount"`
	Category      []string        `json:"category"`
	Date          string          `json:"date"`
}

type linkTokenDTO struct {
	LinkToken string `json:"link_token"`
}

type exchangeRequest struct {
	PublicToken string `json:"public_token"`
}

// ErrorResponse represents an error body from the API
type ErrorResponse struct {
	Detail  string `json:"detail"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e ErrorResponse) text() string {
	for _, s := range []string{e.Detail, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// FetchBalances returns the caller's balance records in provider order.
func (c *Client) FetchBalances(ctx context.Context, token string) ([]models.BalanceRecord, error) {
	var dtos []balanceDTO
	if err := c.get(ctx, balancesPath, token, &dtos); err != nil {
		return nil, err
	}

	records := make([]models.BalanceRecord, len(dtos))
	for i, d := range dtos {
		records[i] = models.BalanceRecord{
			AccountID:     d.AccountID,
			LinkItemID:    d.ItemID,
			Name:          d.Name,
			Type:          d.Type,
			Subtype:       d.Subtype,
			Current:       d.Current.Decimal,
			Available:     decimalPtr(d.Available),
			Limit:         decimalPtr(d.Limit),
			LastUpdatedAt: d.LastUpdated.Time,
		}
	}
	return records, nil
}

// FetchAccountSummaries returns the caller's linked-account summaries.
func (c *Client) FetchAccountSummaries(ctx context.Context, token string) ([]models.AccountSummary, error) {
	var dtos []accountDTO
	if err := c.get(ctx, accountsPath, token, &dtos); err != nil {
		return nil, err
	}

	summaries := make([]models.AccountSummary, len(dtos))
	for i, d := range dtos {
		summaries[i] = models.AccountSummary{
			ID:            rawID(d.ID),
			LinkItemID:    d.ItemID,
			InstitutionID: d.InstitutionID,
			CreatedAt:     d.CreatedAt.Time,
		}
	}
	return summaries, nil
}

// FetchInstitutionName looks up the display name of one institution.
func (c *Client) FetchInstitutionName(ctx context.Context, institutionID string) (string, error) {
	path := institutionPath + "?institution_id=" + url.QueryEscape(institutionID)

	var dto institutionDTO
	if err := c.get(ctx, path, "", &dto); err != nil {
		return "", err
	}
	return dto.Name, nil
}

// UpdateBalances asks the provider to pull fresh balances from every
// linked institution.
func (c *Client) UpdateBalances(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, updateAllPath, token, nil, nil)
}

// FetchTransactions returns the caller's provider transactions.
func (c *Client) FetchTransactions(ctx context.Context, token string) ([]models.ProviderTransaction, error) {
	var dto transactionsDTO
	if err := c.get(ctx, transactionPath, token, &dto); err != nil {
		return nil, err
	}

	txs := make([]models.ProviderTransaction, len(dto.Transactions))
	for i, d := range dto.Transactions {
		txs[i] = models.ProviderTransaction{
			ID:         d.TransactionID,
			AccountID:  d.AccountID,
			Name:       d.Name,
			Amount:     d.Amount,
			Categories: d.Category,
			Date:       d.Date,
		}
	}
	return txs, nil
}

// CreateLinkToken returns a token for the provider's link widget.
func (c *Client) CreateLinkToken(ctx context.Context, token string) (string, error) {
	var dto linkTokenDTO
	if err := c.do(ctx, http.MethodPost, linkTokenPath, token, nil, &dto); err != nil {
		return "", err
	}
	if dto.LinkToken == "" {
		return "", fmt.Errorf("POST %s: %w: empty link token", linkTokenPath, account.ErrUnavailable)
	}
	return dto.LinkToken, nil
}

// ExchangePublicToken completes linking with the widget's public token.
func (c *Client) ExchangePublicToken(ctx context.Context, token, publicToken string) error {
	return c.do(ctx, http.MethodPost, exchangePath, token, exchangeRequest{PublicToken: publicToken}, nil)
}

func (c *Client) get(ctx context.Context, path, token string, out any) error {
	return c.do(ctx, http.MethodGet, path, token, nil, out)
}

// do sends one request. A nil body sends no payload; a nil out discards
// the response body.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, account.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w: failed to decode response: %v", method, path, account.ErrUnavailable, err)
	}
	return nil
}

// statusError maps a non-200 response onto the domain error taxonomy.
func statusError(method, path string, status int, body []byte) error {
	var sentinel error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = account.ErrUnauthorized
	case http.StatusNotFound:
		sentinel = ErrNotFound
	default:
		sentinel = account.ErrUnavailable
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.text() != "" {
		return fmt.Errorf("%s %s: %w (status %d): %s", method, path, sentinel, status, errResp.text())
	}
	return fmt.Errorf("%s %s: %w (status %d)", method, path, sentinel, status)
}
