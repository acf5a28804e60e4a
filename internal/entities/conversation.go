package entities

import (
	"fmt"
	"time"

	"restobot/internal/apperrors"
)

type ConversationStatus string

const (
	ConversationActive       ConversationStatus = "active"
	ConversationPaused       ConversationStatus = "paused"
	ConversationHumanHandoff ConversationStatus = "human_handoff"
	ConversationEnded        ConversationStatus = "ended"
)

var conversationTransitions = map[ConversationStatus][]ConversationStatus{
	ConversationActive:       {ConversationPaused, ConversationHumanHandoff, ConversationEnded},
	ConversationPaused:       {ConversationActive, ConversationHumanHandoff, ConversationEnded},
	ConversationHumanHandoff: {ConversationActive, ConversationEnded},
	ConversationEnded:        nil,
}

func (s ConversationStatus) Valid() bool {
	_, ok := conversationTransitions[s]
	return ok
}

// Open reports whether the conversation still owns the customer's phone for
// its agent. Only ended conversations release it.
func (s ConversationStatus) Open() bool {
	return s.Valid() && s != ConversationEnded
}

// AIEnabled reports whether the assistant may answer in this state.
func (s ConversationStatus) AIEnabled() bool {
	return s == ConversationActive
}

func (s ConversationStatus) CanTransitionTo(next ConversationStatus) bool {
	for _, allowed := range conversationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition validates a status change and returns the new status.
func (s ConversationStatus) Transition(next ConversationStatus) (ConversationStatus, error) {
	if !next.Valid() {
		return s, apperrors.Invalid("ConversationStatus.Transition", fmt.Sprintf("unknown conversation status %q", next))
	}
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("conversation %s -> %s: %w", s, next, apperrors.ErrInvalidTransition)
	}
	return next, nil
}

type Conversation struct {
	ID            string             `db:"id" json:"id"`
	RestaurantID  string             `db:"restaurant_id" json:"restaurant_id"`
	AgentID       string             `db:"agent_id" json:"agent_id"`
	CustomerPhone string             `db:"customer_phone" json:"customer_phone"`
	CustomerName  string             `db:"customer_name" json:"customer_name"`
	Status        ConversationStatus `db:"status" json:"status"`
	LastMessageAt time.Time          `db:"last_message_at" json:"last_message_at"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}
