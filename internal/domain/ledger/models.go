// Package ledger keeps a local, optimistically edited copy of the manual
// transaction ledger in sync with the remote ledger store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DateLayout is the only accepted entry date format.
const DateLayout = "2006-01-02"

// Kind tells income from expense.
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// Categories are the suggested categories. Custom categories are allowed.
var Categories = []string{
	"General", "Food", "Transport", "Utilities", "Shopping", "Salary", "Investment", "Savings", "Other",
}

// Errors returned by the Synchronizer.
var (
	ErrEntryNotFound   = errors.New("ledger entry not found")
	ErrMutationPending = errors.New("ledger entry has a mutation in flight")
	ErrInvalidEntry    = errors.New("invalid ledger entry")
)

// Errors a Store reports. Implementations wrap one of these so callers can
// match them with errors.Is.
var (
	ErrUnauthorized = errors.New("ledger store rejected the token")
	ErrNotFound     = errors.New("ledger store has no such entry")
	ErrUnavailable  = errors.New("ledger store unavailable")
)

// Entry is one manually entered transaction.
type Entry struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Kind     Kind            `json:"type"`
	Date     string          `json:"date"`
}

// Draft is a new entry before the store has assigned it an id.
type Draft struct {
	Name     string          `json:"name"`
	Category string          `json:"category" validate:"required"`
	Amount   decimal.Decimal `json:"amount"`
	Kind     Kind            `json:"type" validate:"required,oneof=income expense"`
	Date     string          `json:"date" validate:"required,datetime=2006-01-02"`
}

// Patch changes some fields of an entry. Nil fields are left untouched.
type Patch struct {
	Name     *string          `json:"name,omitempty"`
	Category *string          `json:"category,omitempty" validate:"omitempty,min=1"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Kind     *Kind            `json:"type,omitempty" validate:"omitempty,oneof=income expense"`
	Date     *string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// Store is the remote, authoritative ledger.
type Store interface {
	List(ctx context.Context) ([]Entry, error)
	Create(ctx context.Context, draft Draft) (Entry, error)
	Patch(ctx context.Context, id string, patch Patch) error
	Delete(ctx context.Context, id string) error
}

var validate = validator.New()

// Validate checks the draft before it is applied.
func (d Draft) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, describe(err))
	}
	return nil
}

// Validate checks the fields the patch sets.
func (p Patch) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, describe(err))
	}
	return nil
}

// describe turns validator errors into a short field list.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// Entry builds the local entry a draft turns into under the given id.
func (d Draft) Entry(id string) Entry {
	return Entry{
		ID:       id,
		Name:     d.Name,
		Category: d.Category,
		Amount:   d.Amount,
		Kind:     d.Kind,
		Date:     d.Date,
	}
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Category == nil && p.Amount == nil && p.Kind == nil && p.Date == nil
}

// Apply returns e with the patch's fields set.
func (p Patch) Apply(e Entry) Entry {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Amount != nil {
		e.Amount = *p.Amount
	}
	if p.Kind != nil {
		e.Kind = *p.Kind
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	return e
}

// Diff returns the minimal patch turning before into after: only fields
// whose values differ are set. Amounts compare numerically.
func Diff(before, after Entry) Patch {
	var p Patch
	if before.Name != after.Name {
		p.Name = &after.Name
	}
	if before.Category != after.Category {
		p.Category = &after.Category
	}
	if !before.Amount.Equal(after.Amount) {
		p.Amount = &after.Amount
	}
	if before.Kind != after.Kind {
		p.Kind = &after.Kind
	}
	if before.Date != after.Date {
		p.Date = &after.Date
	}
	return p
}
