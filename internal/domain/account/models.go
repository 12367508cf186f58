package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finlink/internal/models"
)

// Unknown is shown when a bank name or account type cannot be determined.
const Unknown = "Unknown"

// Domain errors
var (
	ErrUnauthorized  = errors.New("balance provider rejected the token")
	ErrUnavailable   = errors.New("balance provider unavailable")
	ErrNoSnapshot    = errors.New("no successful aggregation pass yet")
	ErrMissingToken  = errors.New("auth token is required")
	ErrInvalidPolicy = errors.New("invalid join policy")
	ErrInvalidGroup  = errors.New("invalid transaction grouping")
	ErrNotSupported  = errors.New("provider does not support this operation")
	ErrMissingPublic = errors.New("public token is required")
)

// JoinPolicy decides which account summary wins when more than one shares
// a balance's link item.
type JoinPolicy int

const (
	// FirstMatch uses the first summary in catalog order.
	FirstMatch JoinPolicy = iota
	// LastMatch uses the last summary in catalog order.
	LastMatch
	// PreferResolvable uses the first summary carrying an institution id,
	// falling back to FirstMatch.
	PreferResolvable
)

// DefaultJoinPolicy keeps "Unknown" reserved for link items where no
// summary carries an institution id.
const DefaultJoinPolicy = PreferResolvable

func (p JoinPolicy) String() string {
	switch p {
	case FirstMatch:
		return "first"
	case LastMatch:
		return "last"
	case PreferResolvable:
		return "resolvable"
	default:
		return fmt.Sprintf("JoinPolicy(%d)", int(p))
	}
}

// ParseJoinPolicy parses the config spelling of a policy.
func ParseJoinPolicy(s string) (JoinPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultJoinPolicy, nil
	case "first":
		return FirstMatch, nil
	case "last":
		return LastMatch, nil
	case "resolvable":
		return PreferResolvable, nil
	default:
		return DefaultJoinPolicy, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

// Total is a labelled sum of balances.
type Total struct {
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

// BreakdownRow holds one bank's balances split by account type, the shape
// stacked bar charts consume.
type BreakdownRow struct {
	BankName string                     `json:"name"`
	ByType   map[string]decimal.Decimal `json:"byType"`
}

// Summary aggregates display accounts for dashboards.
type Summary struct {
	Total         decimal.Decimal `json:"total"`
	ByBank        []Total         `json:"byBank"`
	ByAccountType []Total         `json:"byAccountType"`
	Breakdown     []BreakdownRow  `json:"breakdown"`
	AccountTypes  []string        `json:"accountTypes"`
}

// Snapshot is the result of one successful aggregation pass.
type Snapshot struct {
	Accounts     []models.DisplayAccount `json:"accounts"`
	Summary      Summary                 `json:"summary"`
	Institutions map[string]string       `json:"institutions"`
	GeneratedAt  time.Time               `json:"generatedAt"`
}
