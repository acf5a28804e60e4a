package entities

import "time"

type GatewayKind string

const (
	GatewayEvolution GatewayKind = "evolution"
	GatewayNative    GatewayKind = "native"
)

// Agent is a restaurant's configured AI assistant bound to a WhatsApp number.
type Agent struct {
	ID                       string      `db:"id" json:"id"`
	RestaurantID             string      `db:"restaurant_id" json:"restaurant_id"`
	Name                     string      `db:"name" json:"name" validate:"required"`
	Personality              string      `db:"personality" json:"personality"`
	Instructions             string      `db:"instructions" json:"instructions"`
	IsActive                 bool        `db:"is_active" json:"is_active"`
	FallbackEnabled          bool        `db:"fallback_enabled" json:"fallback_enabled"`
	SentimentAnalysisEnabled bool        `db:"sentiment_analysis_enabled" json:"sentiment_analysis_enabled"`
	WhatsAppNumber           string      `db:"whatsapp_number" json:"whatsapp_number"`
	GatewayKind              GatewayKind `db:"gateway_kind" json:"gateway_kind" validate:"omitempty,oneof=evolution native"`
	EvolutionAPIURL          string      `db:"evolution_api_url" json:"evolution_api_url"`
	EvolutionAPIKey          string      `db:"evolution_api_key" json:"-"`
	EvolutionInstanceID      string      `db:"evolution_instance_id" json:"evolution_instance_id"`
	LLMModel                 string      `db:"llm_model" json:"llm_model"`
	Temperature              float64     `db:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens                int         `db:"max_tokens" json:"max_tokens" validate:"gte=0"`
	ContextMemoryTurns       int         `db:"context_memory_turns" json:"context_memory_turns" validate:"gte=0,lte=50"`
	CreatedAt                time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time   `db:"updated_at" json:"updated_at"`
}

// MemoryTurns returns how many past messages go into the prompt.
func (a *Agent) MemoryTurns(fallback int) int {
	if a.ContextMemoryTurns > 0 {
		return a.ContextMemoryTurns
	}
	return fallback
}
