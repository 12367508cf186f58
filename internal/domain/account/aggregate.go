package account

import (
	"sort"

	"github.com/shopspring/decimal"

	"finlink/internal/models"
)

// Aggregate joins balances to account summaries by link item and names each
// balance's bank from names. It is pure: it performs no I/O and returns one
// DisplayAccount per balance, in input order.
func Aggregate(balances []models.BalanceRecord, summaries []models.AccountSummary, names map[string]string, policy JoinPolicy) []models.DisplayAccount {
	byItem := indexSummaries(summaries, policy)

	out := make([]models.DisplayAccount, 0, len(balances))
	for _, b := range balances {
		bankName := Unknown
		if s, ok := byItem[b.LinkItemID]; ok && s.InstitutionID != "" {
			if name, ok := names[s.InstitutionID]; ok && name != "" {
				bankName = name
			}
		}

		accountType := b.Subtype
		if accountType == "" {
			accountType = Unknown
		}

		out = append(out, models.DisplayAccount{
			AccountID:   b.AccountID,
			BankName:    bankName,
			AccountType: accountType,
			Balance:     b.Current,
			AsOf:        b.LastUpdatedAt,
		})
	}
	return out
}

// indexSummaries picks one summary per link item according to policy.
func indexSummaries(summaries []models.AccountSummary, policy JoinPolicy) map[string]models.AccountSummary {
	byItem := make(map[string]models.AccountSummary, len(summaries))
	for _, s := range summaries {
		current, seen := byItem[s.LinkItemID]
		switch {
		case !seen:
			byItem[s.LinkItemID] = s
		case policy == LastMatch:
			byItem[s.LinkItemID] = s
		case policy == PreferResolvable && current.InstitutionID == "" && s.InstitutionID != "":
			byItem[s.LinkItemID] = s
		}
	}
	return byItem
}

// Summarize totals display accounts by bank, by account type and by both.
// Totals are sorted by name so the output is deterministic.
func Summarize(accounts []models.DisplayAccount) Summary {
	total := decimal.Zero
	byBank := make(map[string]decimal.Decimal)
	byType := make(map[string]decimal.Decimal)
	breakdown := make(map[string]map[string]decimal.Decimal)

	for _, a := range accounts {
		total = total.Add(a.Balance)
		byBank[a.BankName] = byBank[a.BankName].Add(a.Balance)
		byType[a.AccountType] = byType[a.AccountType].Add(a.Balance)

		row, ok := breakdown[a.BankName]
		if !ok {
			row = make(map[string]decimal.Decimal)
			breakdown[a.BankName] = row
		}
		row[a.AccountType] = row[a.AccountType].Add(a.Balance)
	}

	types := sortedKeys(byType)
	rows := make([]BreakdownRow, 0, len(breakdown))
	for _, bank := range sortedKeys(byBank) {
		// Every row carries every account type so stacked series line up.
		row := make(map[string]decimal.Decimal, len(types))
		for _, t := range types {
			row[t] = breakdown[bank][t]
		}
		rows = append(rows, BreakdownRow{BankName: bank, ByType: row})
	}

	return Summary{
		Total:         total,
		ByBank:        toTotals(byBank),
		ByAccountType: toTotals(byType),
		Breakdown:     rows,
		AccountTypes:  types,
	}
}

func toTotals(m map[string]decimal.Decimal) []Total {
	out := make([]Total, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, Total{Name: k, Balance: m[k]})
	}
	return out
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
