// Package messages holds the user-facing texts shown in error banners.
package messages

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type Messages struct {
	LoadFailed    MessageText `json:"load_failed"`
	CreateFailed  MessageText `json:"create_failed"`
	UpdateFailed  MessageText `json:"update_failed"`
	DeleteFailed  MessageText `json:"delete_failed"`
	RefreshFailed MessageText `json:"refresh_failed"`
	Unauthorized  MessageText `json:"unauthorized"`

	TransactionsFailed MessageText `json:"transactions_failed"`
	LinkFailed         MessageText `json:"link_failed"`
}

// Default returns the built-in English texts.
func Default() *Messages {
	return &Messages{
		LoadFailed:    MessageText{Title: "Ledger", Body: "Failed to load transactions"},
		CreateFailed:  MessageText{Title: "Ledger", Body: "Failed to add a new transaction"},
		UpdateFailed:  MessageText{Title: "Ledger", Body: "Failed to update transaction"},
		DeleteFailed:  MessageText{Title: "Ledger", Body: "Failed to delete transaction"},
		RefreshFailed: MessageText{Title: "Accounts", Body: "Failed to load account balances"},
		Unauthorized:  MessageText{Title: "Session", Body: "Your session has expired, please log in again"},

		TransactionsFailed: MessageText{Title: "Transactions", Body: "Failed to load transactions"},
		LinkFailed:         MessageText{Title: "Accounts", Body: "Failed to link bank account"},
	}
}

var (
	loaded   *Messages
	loadOnce sync.Once
	loadErr  error
)

// Load reads the messages JSON file and caches the result. Texts missing
// from the file keep their default value. An empty path returns Default().
// Safe to call from multiple goroutines.
func Load(path string) (*Messages, error) {
	if path == "" {
		return Default(), nil
	}
	loadOnce.Do(func() {
		data, err := os.ReadFile(path)
		if err != nil {
			loadErr = fmt.Errorf("failed to read messages file: %w", err)
			return
		}
		m := Default()
		if err := json.Unmarshal(data, m); err != nil {
			loadErr = fmt.Errorf("failed to parse messages file: %w", err)
			return
		}
		loaded = m
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return loaded, nil
}
