package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

// ConfigRepository stores the AI configuration of a restaurant: its agents
// and their fallback scenarios.
type ConfigRepository struct {
	db *sqlx.DB

	Agents    *Table[entities.Agent]
	Scenarios *Table[entities.FallbackScenario]
}

var agentColumns = []string{
	"name", "personality", "instructions", "is_active", "fallback_enabled", "sentiment_analysis_enabled",
	"whatsapp_number", "gateway_kind", "evolution_api_url", "evolution_api_key", "evolution_instance_id",
	"llm_model", "temperature", "max_tokens", "context_memory_turns",
}

func NewConfigRepository(db *sqlx.DB, feed interfaces.ChangePublisher) *ConfigRepository {
	return &ConfigRepository{
		db: db,
		Agents: NewTable(db, "agents", agentColumns,
			func(a *entities.Agent) string { return a.RestaurantID },
			WithDefaultOrder[entities.Agent]("name"), WithFeed[entities.Agent](feed)),
		Scenarios: NewTable(db, "fallback_scenarios",
			[]string{"agent_id", "name", "sentiment_threshold", "auto_trigger", "custom_message", "priority", "is_active"},
			func(f *entities.FallbackScenario) string { return f.RestaurantID },
			WithDefaultOrder[entities.FallbackScenario]("priority"), WithFeed[entities.FallbackScenario](feed)),
	}
}

// FindActiveForInbound resolves the tenant of an inbound message: an active
// agent bound to the gateway instance, or else one whose WhatsApp number is
// the sender's. Returns nil when nothing matches.
func (r *ConfigRepository) FindActiveForInbound(ctx context.Context, instance, phone string) (*entities.Agent, error) {
	if instance == "" && phone == "" {
		return nil, nil
	}
	var agent entities.Agent
	err := r.db.GetContext(ctx, &agent, `
		SELECT * FROM agents
		WHERE is_active
		  AND ((evolution_instance_id <> '' AND evolution_instance_id = $1)
		    OR (whatsapp_number <> '' AND whatsapp_number = $2))
		ORDER BY (evolution_instance_id = $1) DESC, created_at ASC
		LIMIT 1
	`, instance, phone)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find agent: %w", err)
	}
	return &agent, nil
}

// AgentByID loads an agent regardless of restaurant.
func (r *ConfigRepository) AgentByID(ctx context.Context, id string) (*entities.Agent, error) {
	var agent entities.Agent
	err := r.db.GetContext(ctx, &agent, `SELECT * FROM agents WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("ConfigRepository.AgentByID", "agent")
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	return &agent, nil
}

// NativeAgents lists active agents that use an in-process WhatsApp session.
func (r *ConfigRepository) NativeAgents(ctx context.Context) ([]entities.Agent, error) {
	agents := []entities.Agent{}
	err := r.db.SelectContext(ctx, &agents, `
		SELECT * FROM agents WHERE is_active AND gateway_kind = $1 ORDER BY created_at
	`, entities.GatewayNative)
	if err != nil {
		return nil, fmt.Errorf("list native agents: %w", err)
	}
	return agents, nil
}

// ActiveForAgent returns the agent's enabled scenarios, highest priority first.
func (r *ConfigRepository) ActiveForAgent(ctx context.Context, agentID string) ([]entities.FallbackScenario, error) {
	scenarios := []entities.FallbackScenario{}
	err := r.db.SelectContext(ctx, &scenarios, `
		SELECT * FROM fallback_scenarios
		WHERE agent_id = $1 AND is_active
		ORDER BY priority DESC, name ASC
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("load fallback scenarios: %w", err)
	}
	return scenarios, nil
}
