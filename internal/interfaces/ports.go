package interfaces

import (
	"context"
	"time"

	"restobot/internal/entities"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	JSONOutput  bool
	// Purpose labels metrics and logs ("reply", "sentiment").
	Purpose string
}

// AIClient produces chat completions.
type AIClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Messenger delivers a text to a customer through the agent's gateway.
type Messenger interface {
	Send(ctx context.Context, msg entities.OutboundMessage) error
}

// HandoffNotifier alerts restaurant staff that a conversation needs a human.
type HandoffNotifier interface {
	NotifyHandoff(ctx context.Context, restaurantID string, conv *entities.Conversation, reason string) error
}

// ChangePublisher fans row changes out to realtime subscribers.
type ChangePublisher interface {
	Publish(ctx context.Context, evt entities.ChangeEvent) error
}

// Deduplicator remembers provider message ids. FirstSeen is true only for
// the first delivery of a key.
type Deduplicator interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	// Forget drops a key so a failed delivery can be retried.
	Forget(ctx context.Context, key string) error
}

type AgentStore interface {
	FindActiveForInbound(ctx context.Context, instance, phone string) (*entities.Agent, error)
	AgentByID(ctx context.Context, id string) (*entities.Agent, error)
}

type ConversationStore interface {
	// ResolveOpen returns the open conversation for (agent, phone), creating
	// an active one when none exists. created reports which happened.
	ResolveOpen(ctx context.Context, agent *entities.Agent, phone, name string) (conv *entities.Conversation, created bool, err error)
	UpdateStatus(ctx context.Context, id string, from, to entities.ConversationStatus) error
	Touch(ctx context.Context, id string, at time.Time) error
}

type MessageStore interface {
	Create(ctx context.Context, msg *entities.Message) error
	// Recent returns up to limit messages newest first, skipping excludeID.
	Recent(ctx context.Context, conversationID string, limit int, excludeID string) ([]entities.Message, error)
}

type CatalogReader interface {
	Inventory(ctx context.Context, restaurantID string) ([]entities.Product, error)
	RunningPromotions(ctx context.Context, restaurantID string, now time.Time) ([]entities.Promotion, error)
}

type FallbackStore interface {
	ActiveForAgent(ctx context.Context, agentID string) ([]entities.FallbackScenario, error)
}

type LearningStore interface {
	SaveSentiment(ctx context.Context, row *entities.SentimentAnalytics) error
	SaveInteraction(ctx context.Context, row *entities.LearningInteraction) error
	BumpPattern(ctx context.Context, agentID string, kind entities.InteractionType, key string, keywords []string) error
	TopPatterns(ctx context.Context, agentID string, limit int) ([]entities.LearningPattern, error)
}

type ExperimentStore interface {
	RunningTest(ctx context.Context, agentID string) (*entities.ABTest, []entities.ABTestVariant, error)
	RecordResult(ctx context.Context, row *entities.ABTestResult) error
}

type UsageStore interface {
	IncrementReceived(ctx context.Context, restaurantID string) error
	IncrementSent(ctx context.Context, restaurantID string) error
}
