package account

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"finlink/internal/models"
)

// GroupBy selects how provider transactions are totalled.
type GroupBy string

const (
	// GroupByMonth totals by YYYY-MM, oldest month first.
	GroupByMonth GroupBy = "month"
	// GroupByCategory totals by the most general category, largest first.
	GroupByCategory GroupBy = "category"
)

// OtherCategory labels transactions without a category.
const OtherCategory = "Other"

// ParseGroupBy parses a grouping name. Empty means GroupByMonth.
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(strings.ToLower(strings.TrimSpace(s))) {
	case "", GroupByMonth:
		return GroupByMonth, nil
	case GroupByCategory:
		return GroupByCategory, nil
	default:
		return GroupByMonth, fmt.Errorf("%w: %q", ErrInvalidGroup, s)
	}
}

// TransactionOverview is the grouped view of the provider's transactions.
type TransactionOverview struct {
	GroupBy GroupBy         `json:"groupBy"`
	Totals  []Total         `json:"totals"`
	Total   decimal.Decimal `json:"total"`
	Count   int             `json:"count"`
}

// SummarizeTransactions totals transactions by month or by category. It is
// pure. Month totals are sorted by month ascending; category totals by
// amount descending, ties by name.
func SummarizeTransactions(txs []models.ProviderTransaction, groupBy GroupBy) TransactionOverview {
	sums := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, tx := range txs {
		key := transactionKey(tx, groupBy)
		sums[key] = sums[key].Add(tx.Amount)
		total = total.Add(tx.Amount)
	}

	totals := make([]Total, 0, len(sums))
	for name, amount := range sums {
		totals = append(totals, Total{Name: name, Balance: amount})
	}
	if groupBy == GroupByCategory {
		sort.Slice(totals, func(i, j int) bool {
			if c := totals[i].Balance.Cmp(totals[j].Balance); c != 0 {
				return c > 0
			}
			return totals[i].Name < totals[j].Name
		})
	} else {
		sort.Slice(totals, func(i, j int) bool { return totals[i].Name < totals[j].Name })
	}

	return TransactionOverview{GroupBy: groupBy, Totals: totals, Total: total, Count: len(txs)}
}

func transactionKey(tx models.ProviderTransaction, groupBy GroupBy) string {
	if groupBy == GroupByCategory {
		if len(tx.Categories) > 0 && tx.Categories[0] != "" {
			return tx.Categories[0]
		}
		return OtherCategory
	}
	if len(tx.Date) >= 7 {
		return tx.Date[:7]
	}
	return Unknown
}
