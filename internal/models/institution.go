package models

import "time"

// Institution is a financial institution as stored in the durable name tier.
type Institution struct {
	ID        string    `json:"institution_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
