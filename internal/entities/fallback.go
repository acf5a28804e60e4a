package entities

import (
	"sort"
	"time"
)

// FallbackScenario escalates a conversation to staff when the customer's
// sentiment drops below a threshold.
type FallbackScenario struct {
	ID                 string    `db:"id" json:"id"`
	RestaurantID       string    `db:"restaurant_id" json:"restaurant_id"`
	AgentID            string    `db:"agent_id" json:"agent_id" validate:"required"`
	Name               string    `db:"name" json:"name"`
	SentimentThreshold float64   `db:"sentiment_threshold" json:"sentiment_threshold" validate:"gte=-1,lte=1"`
	AutoTrigger        bool      `db:"auto_trigger" json:"auto_trigger"`
	CustomMessage      string    `db:"custom_message" json:"custom_message"`
	Priority           int       `db:"priority" json:"priority"`
	IsActive           bool      `db:"is_active" json:"is_active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Matches reports whether the scenario fires for a sentiment score.
func (f *FallbackScenario) Matches(score float64) bool {
	return f.IsActive && f.AutoTrigger && score < f.SentimentThreshold
}

// MessageOr returns the scenario's custom text or def when none is set.
func (f *FallbackScenario) MessageOr(def string) string {
	if f.CustomMessage != "" {
		return f.CustomMessage
	}
	return def
}

// FirstMatchingScenario orders scenarios by priority (highest first, ties by
// name) and returns the first one that fires for score.
func FirstMatchingScenario(scenarios []FallbackScenario, score float64) *FallbackScenario {
	ordered := make([]FallbackScenario, len(scenarios))
	copy(ordered, scenarios)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})
	for i := range ordered {
		if ordered[i].Matches(score) {
			return &ordered[i]
		}
	}
	return nil
}
