package entities

import "time"

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is pushed to dashboard subscribers whenever a row changes.
type ChangeEvent struct {
	Table        string      `json:"table"`
	Type         ChangeType  `json:"type"`
	RestaurantID string      `json:"restaurant_id"`
	Record       interface{} `json:"record"`
	At           time.Time   `json:"at"`
}
