package entities

import "time"

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderHuman    SenderType = "human"
)

// Message is immutable once stored.
type Message struct {
	ID                string     `db:"id" json:"id"`
	ConversationID    string     `db:"conversation_id" json:"conversation_id"`
	SenderType        SenderType `db:"sender_type" json:"sender_type"`
	Content           string     `db:"content" json:"content"`
	ProviderMessageID *string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

// InboundMessage is a customer message normalised from any WhatsApp transport.
// AgentID is set by native sessions, which already know their agent.
type InboundMessage struct {
	Instance          string
	AgentID           string
	SenderPhone       string
	PushName          string
	Text              string
	ProviderMessageID string
	ReceivedAt        time.Time
}

// OutboundMessage is a text to deliver to a customer through an agent's gateway.
type OutboundMessage struct {
	Agent *Agent
	Phone string
	Text  string
}
