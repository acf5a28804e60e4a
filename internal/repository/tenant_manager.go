package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

// TenantManager provisions restaurants and answers ownership questions.
type TenantManager struct {
	db   *sqlx.DB
	feed interfaces.ChangePublisher
}

func NewTenantManager(db *sqlx.DB, feed interfaces.ChangePublisher) *TenantManager {
	return &TenantManager{db: db, feed: feed}
}

// Provision creates a restaurant with a default agent and a default fallback
// scenario in one transaction. The agent starts inactive until a WhatsApp
// number or gateway instance is configured.
func (t *TenantManager) Provision(ctx context.Context, restaurant *entities.Restaurant, handoffMessage string) (*entities.Agent, error) {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := tx.GetContext(ctx, restaurant, `
		INSERT INTO restaurants (owner_id, name, phone, address)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, restaurant.OwnerID, restaurant.Name, restaurant.Phone, restaurant.Address); err != nil {
		return nil, fmt.Errorf("failed to create restaurant: %w", err)
	}

	var agent entities.Agent
	if err := tx.GetContext(ctx, &agent, `
		INSERT INTO agents (restaurant_id, name, personality, is_active)
		VALUES ($1, $2, $3, false)
		RETURNING *
	`, restaurant.ID, "Atendente "+restaurant.Name, "friendly and concise"); err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO fallback_scenarios (restaurant_id, agent_id, name, sentiment_threshold, custom_message, priority)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, restaurant.ID, agent.ID, "Cliente insatisfeito", -0.5, handoffMessage, 10); err != nil {
		return nil, fmt.Errorf("failed to create fallback scenario: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	publishChange(ctx, t.feed, "restaurants", entities.ChangeInsert, restaurant.ID, restaurant)
	return &agent, nil
}

// ForOwner lists the restaurants a user owns.
func (t *TenantManager) ForOwner(ctx context.Context, ownerID string) ([]entities.Restaurant, error) {
	restaurants := []entities.Restaurant{}
	err := t.db.SelectContext(ctx, &restaurants, `
		SELECT * FROM restaurants WHERE owner_id = $1 ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list restaurants: %w", err)
	}
	return restaurants, nil
}

func (t *TenantManager) Get(ctx context.Context, id string) (*entities.Restaurant, error) {
	var r entities.Restaurant
	err := t.db.GetContext(ctx, &r, `SELECT * FROM restaurants WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("TenantManager.Get", "restaurant")
	}
	if err != nil {
		return nil, fmt.Errorf("load restaurant: %w", err)
	}
	return &r, nil
}

// OwnedBy reports whether the user owns the restaurant.
func (t *TenantManager) OwnedBy(ctx context.Context, restaurantID, userID string) (bool, error) {
	var owned bool
	err := t.db.GetContext(ctx, &owned, `
		SELECT EXISTS (SELECT 1 FROM restaurants WHERE id = $1 AND owner_id = $2)
	`, restaurantID, userID)
	if err != nil {
		return false, fmt.Errorf("check ownership: %w", err)
	}
	return owned, nil
}

func (t *TenantManager) Update(ctx context.Context, r *entities.Restaurant) error {
	err := t.db.GetContext(ctx, r, `
		UPDATE restaurants SET name = $2, phone = $3, address = $4, updated_at = now()
		WHERE id = $1
		RETURNING *
	`, r.ID, r.Name, r.Phone, r.Address)
	if isNoRows(err) {
		return apperrors.NotFound("TenantManager.Update", "restaurant")
	}
	if err != nil {
		return fmt.Errorf("update restaurant: %w", err)
	}
	publishChange(ctx, t.feed, "restaurants", entities.ChangeUpdate, r.ID, r)
	return nil
}

// SetTelegramChat links (or with nil, unlinks) the staff chat that receives
// handoff alerts.
func (t *TenantManager) SetTelegramChat(ctx context.Context, restaurantID string, chatID *int64) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE restaurants SET telegram_chat_id = $2, updated_at = now() WHERE id = $1
	`, restaurantID, chatID)
	if err != nil {
		return fmt.Errorf("set telegram chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("TenantManager.SetTelegramChat", "restaurant")
	}
	return nil
}

// TelegramChat returns the linked staff chat, or nil when none is linked.
func (t *TenantManager) TelegramChat(ctx context.Context, restaurantID string) (*int64, error) {
	var chatID *int64
	err := t.db.GetContext(ctx, &chatID, `SELECT telegram_chat_id FROM restaurants WHERE id = $1`, restaurantID)
	if isNoRows(err) {
		return nil, apperrors.NotFound("TenantManager.TelegramChat", "restaurant")
	}
	if err != nil {
		return nil, fmt.Errorf("load telegram chat: %w", err)
	}
	return chatID, nil
}

// PlatformStats counts tenants and traffic across the platform.
type PlatformStats struct {
	Restaurants   int `db:"restaurants" json:"restaurants"`
	ActiveAgents  int `db:"active_agents" json:"active_agents"`
	Conversations int `db:"conversations" json:"conversations"`
	MessagesToday int `db:"messages_today" json:"messages_today"`
}

func (t *TenantManager) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	var stats PlatformStats
	err := t.db.GetContext(ctx, &stats, `
		SELECT
			(SELECT COUNT(*) FROM restaurants) AS restaurants,
			(SELECT COUNT(*) FROM agents WHERE is_active) AS active_agents,
			(SELECT COUNT(*) FROM conversations WHERE status <> 'ended') AS conversations,
			(SELECT COALESCE(SUM(messages_sent + messages_received), 0) FROM message_usage WHERE date = CURRENT_DATE) AS messages_today
	`)
	if err != nil {
		return nil, fmt.Errorf("platform stats: %w", err)
	}
	return &stats, nil
}
