package entities

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/lib/pq"
)

type ResponseStrategy string

const (
	StrategyEmpathetic    ResponseStrategy = "empathetic"
	StrategyPromotional   ResponseStrategy = "promotional"
	StrategyInformational ResponseStrategy = "informational"
)

// SentimentResult is what the classifier returns for one customer message.
type SentimentResult struct {
	Score            float64            `json:"sentiment_score"`
	Label            string             `json:"label"`
	Confidence       float64            `json:"confidence"`
	Emotions         map[string]float64 `json:"emotions"`
	ResponseStrategy ResponseStrategy   `json:"response_strategy"`
}

type SentimentAnalytics struct {
	ID               string           `db:"id" json:"id"`
	RestaurantID     string           `db:"restaurant_id" json:"restaurant_id"`
	AgentID          string           `db:"agent_id" json:"agent_id"`
	ConversationID   string           `db:"conversation_id" json:"conversation_id"`
	MessageID        string           `db:"message_id" json:"message_id"`
	Score            float64          `db:"sentiment_score" json:"sentiment_score"`
	Label            string           `db:"label" json:"label"`
	Confidence       float64          `db:"confidence" json:"confidence"`
	Emotions         RawJSON          `db:"emotions" json:"emotions"`
	ResponseStrategy ResponseStrategy `db:"response_strategy" json:"response_strategy"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

type SentimentSummary struct {
	Total        int            `json:"total"`
	AverageScore float64        `json:"average_score"`
	ByLabel      map[string]int `json:"by_label"`
}

type InteractionType string

const (
	InteractionOrder      InteractionType = "order"
	InteractionComplaint  InteractionType = "complaint"
	InteractionCompliment InteractionType = "compliment"
	InteractionQuestion   InteractionType = "question"
)

type LearningInteraction struct {
	ID              string          `db:"id" json:"id"`
	RestaurantID    string          `db:"restaurant_id" json:"restaurant_id"`
	AgentID         string          `db:"agent_id" json:"agent_id"`
	ConversationID  string          `db:"conversation_id" json:"conversation_id"`
	InteractionType InteractionType `db:"interaction_type" json:"interaction_type"`
	CustomerMessage string          `db:"customer_message" json:"customer_message"`
	AIResponse      string          `db:"ai_response" json:"ai_response"`
	SentimentScore  *float64        `db:"sentiment_score" json:"sentiment_score,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

type LearningPattern struct {
	ID          string          `db:"id" json:"id"`
	AgentID     string          `db:"agent_id" json:"agent_id"`
	PatternType InteractionType `db:"pattern_type" json:"pattern_type"`
	PatternKey  string          `db:"pattern_key" json:"pattern_key"`
	Frequency   int             `db:"frequency" json:"frequency"`
	Keywords    pq.StringArray  `db:"keywords" json:"keywords"`
	LastSeenAt  time.Time       `db:"last_seen_at" json:"last_seen_at"`
}

type ABTest struct {
	ID        string    `db:"id" json:"id"`
	AgentID   string    `db:"agent_id" json:"agent_id"`
	Name      string    `db:"name" json:"name"`
	IsRunning bool      `db:"is_running" json:"is_running"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type ABTestVariant struct {
	ID           string  `db:"id" json:"id"`
	TestID       string  `db:"test_id" json:"test_id"`
	Name         string  `db:"name" json:"name"`
	Instructions string  `db:"instructions" json:"instructions"`
	Weight       float64 `db:"weight" json:"weight"`
}

type ABTestResult struct {
	ID              string          `db:"id" json:"id"`
	TestID          string          `db:"test_id" json:"test_id"`
	VariantID       string          `db:"variant_id" json:"variant_id"`
	ConversationID  string          `db:"conversation_id" json:"conversation_id"`
	InteractionType InteractionType `db:"interaction_type" json:"interaction_type"`
	SentimentScore  *float64        `db:"sentiment_score" json:"sentiment_score,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

type VariantStats struct {
	VariantID      string   `db:"variant_id" json:"variant_id"`
	VariantName    string   `db:"variant_name" json:"variant_name"`
	Interactions   int      `db:"interactions" json:"interactions"`
	Orders         int      `db:"orders" json:"orders"`
	AverageScore   *float64 `db:"average_score" json:"average_score,omitempty"`
	ConversionRate float64  `db:"-" json:"conversion_rate"`
}

type DailyUsage struct {
	Date             time.Time `db:"date" json:"date"`
	MessagesSent     int       `db:"messages_sent" json:"messages_sent"`
	MessagesReceived int       `db:"messages_received" json:"messages_received"`
}

// DailyQuantity is one product's sold quantity on one day.
type DailyQuantity struct {
	ProductID   string    `db:"product_id" json:"product_id"`
	ProductName string    `db:"product_name" json:"product_name"`
	Day         time.Time `db:"day" json:"day"`
	Quantity    int       `db:"quantity" json:"quantity"`
}

type DemandForecast struct {
	ProductID    string    `json:"product_id"`
	ProductName  string    `json:"product_name"`
	Slope        float64   `json:"slope"`
	Intercept    float64   `json:"intercept"`
	Forecast     []float64 `json:"forecast"`
	CurrentStock int       `json:"current_stock"`
	Restock      bool      `json:"restock"`
}

// RawJSON holds a jsonb column verbatim.
type RawJSON []byte

func (j *RawJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = RawJSON(v)
	default:
		return fmt.Errorf("RawJSON: unsupported source %T", src)
	}
	return nil
}

func (j RawJSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	return string(j), nil
}

func (j RawJSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *RawJSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}
