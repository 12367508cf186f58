// Package ledgerapi is the HTTP client for the remote ledger store.
package ledgerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finlink/internal/domain/ledger"
)

const (
	defaultTimeout   = 15 * time.Second
	transactionsPath = "/transactions/"
	maxErrorBody     = 4 << 10
)

// Client talks to the ledger store. It is shared by every session; use
// Store to get a ledger.Store bound to one bearer token.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

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

// Store returns the ledger of the user owning token.
func (c *Client) Store(token string) *Store {
	return &Store{client: c, token: token}
}

// Store implements ledger.Store for one user.
type Store struct {
	client *Client
	token  string
}

var _ ledger.Store = (*Store)(nil)

// entryDTO is the wire shape of a stored ledger entry. The store uses
// numeric ids and amounts.
type entryDTO struct {
	ID       json.RawMessage `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Type     ledger.Kind     `json:"type"`
	Date     string          `json:"date"`
}

type draftDTO struct {
	Name     string      `json:"name"`
	Category string      `json:"category"`
	Amount   json.Number `json:"amount"`
	Type     ledger.Kind `json:"type"`
	Date     string      `json:"date"`
}

type patchDTO struct {
	Name     *string      `json:"name,omitempty"`
	Category *string      `json:"category,omitempty"`
	Amount   *json.Number `json:"amount,omitempty"`
	Type     *ledger.Kind `json:"type,omitempty"`
	Date     *string      `json:"date,omitempty"`
}

func newPatchDTO(p ledger.Patch) patchDTO {
	dto := patchDTO{Name: p.Name, Category: p.Category, Type: p.Kind, Date: p.Date}
	if p.Amount != nil {
		n := json.Number(p.Amount.String())
		dto.Amount = &n
	}
	return dto
}

func (d entryDTO) entry() ledger.Entry {
	return ledger.Entry{
		ID:       rawID(d.ID),
		Name:     d.Name,
		Category: d.Category,
		Amount:   d.Amount,
		Kind:     d.Type,
		Date:     d.Date,
	}
}

func (s *Store) List(ctx context.Context) ([]ledger.Entry, error) {
	var dtos []entryDTO
	if err := s.do(ctx, http.MethodGet, transactionsPath, nil, &dtos); err != nil {
		return nil, err
	}
	entries := make([]ledger.Entry, len(dtos))
	for i, d := range dtos {
		entries[i] = d.entry()
	}
	return entries, nil
}

func (s *Store) Create(ctx context.Context, draft ledger.Draft) (ledger.Entry, error) {
	body := draftDTO{
		Name:     draft.Name,
		Category: draft.Category,
		Amount:   json.Number(draft.Amount.String()),
		Type:     draft.Kind,
		Date:     draft.Date,
	}
	var created entryDTO
	if err := s.do(ctx, http.MethodPost, transactionsPath, body, &created); err != nil {
		return ledger.Entry{}, err
	}
	return created.entry(), nil
}

// Patch sends only the fields set on the patch.
func (s *Store) Patch(ctx context.Context, id string, patch ledger.Patch) error {
	return s.do(ctx, http.MethodPatch, entryPath(id), newPatchDTO(patch), nil)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.do(ctx, http.MethodDelete, entryPath(id), nil, nil)
}

func entryPath(id string) string {
	return strings.TrimSuffix(transactionsPath, "/") + "/" + url.PathEscape(id)
}

func (s *Store) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.client.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, ledger.ErrUnavailable, err)
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
		return fmt.Errorf("%s %s: %w: failed to decode response: %v", method, path, ledger.ErrUnavailable, err)
	}
	return nil
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func statusError(method, path string, status int, body []byte) error {
	var sentinel error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = ledger.ErrUnauthorized
	case http.StatusNotFound:
		sentinel = ledger.ErrNotFound
	default:
		sentinel = ledger.ErrUnavailable
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
		return fmt.Errorf("%s %s: %w (status %d): %s", method, path, sentinel, status, errResp.Detail)
	}
	return fmt.Errorf("%s %s: %w (status %d)", method, path, sentinel, status)
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
