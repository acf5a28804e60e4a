package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

type ConversationRepository struct {
	db   *sqlx.DB
	feed interfaces.ChangePublisher

	table *Table[entities.Conversation]
}

func NewConversationRepository(db *sqlx.DB, feed interfaces.ChangePublisher) *ConversationRepository {
	return &ConversationRepository{
		db:   db,
		feed: feed,
		table: NewTable(db, "conversations",
			[]string{"agent_id", "customer_phone", "customer_name", "status", "last_message_at"},
			func(c *entities.Conversation) string { return c.RestaurantID },
			WithDefaultOrder[entities.Conversation]("last_message_at")),
	}
}

type resolvedConversation struct {
	entities.Conversation
	Created bool `db:"created"`
}

// ResolveOpen finds or creates the open conversation for (agent, phone) in a
// single statement backed by the conversations_open_uniq partial index, so
// concurrent deliveries converge on one row.
func (r *ConversationRepository) ResolveOpen(ctx context.Context, agent *entities.Agent, phone, name string) (*entities.Conversation, bool, error) {
	var row resolvedConversation
	err := r.db.GetContext(ctx, &row, `
		INSERT INTO conversations (restaurant_id, agent_id, customer_phone, customer_name, status, last_message_at)
		VALUES ($1, $2, $3, $4, 'active', now())
		ON CONFLICT (agent_id, customer_phone) WHERE status <> 'ended'
		DO UPDATE SET last_message_at = now(), updated_at = now()
		RETURNING *, (xmax = 0) AS created
	`, agent.RestaurantID, agent.ID, phone, name)
	if err != nil {
		return nil, false, fmt.Errorf("resolve conversation: %w", err)
	}

	conv := row.Conversation
	if row.Created {
		publishChange(ctx, r.feed, "conversations", entities.ChangeInsert, conv.RestaurantID, &conv)
	}
	return &conv, row.Created, nil
}

// UpdateStatus moves a conversation from one status to another. The update
// only applies while the row still has the expected status.
func (r *ConversationRepository) UpdateStatus(ctx context.Context, id string, from, to entities.ConversationStatus) error {
	if _, err := from.Transition(to); err != nil {
		return err
	}
	var conv entities.Conversation
	err := r.db.GetContext(ctx, &conv, `
		UPDATE conversations SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING *
	`, id, from, to)
	if isNoRows(err) {
		return fmt.Errorf("conversation %s is no longer %s: %w", id, from, apperrors.ErrInvalidTransition)
	}
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	publishChange(ctx, r.feed, "conversations", entities.ChangeUpdate, conv.RestaurantID, &conv)
	return nil
}

func (r *ConversationRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = $2, updated_at = now() WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepository) Get(ctx context.Context, restaurantID, id string) (*entities.Conversation, error) {
	return r.table.Get(ctx, restaurantID, id)
}

// ByID loads a conversation without a restaurant scope. Callers must check
// ownership themselves.
func (r *ConversationRepository) ByID(ctx context.Context, id string) (*entities.Conversation, error) {
	var conv entities.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT * FROM conversations WHERE id = $1`, id)
	if isNoRows(err) {
		return nil, apperrors.NotFound("ConversationRepository.ByID", "conversation")
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return &conv, nil
}

func (r *ConversationRepository) List(ctx context.Context, restaurantID string, opts ListOptions) ([]entities.Conversation, error) {
	if opts.OrderBy == "" {
		opts.OrderBy = "last_message_at"
		opts.Desc = true
	}
	return r.table.List(ctx, restaurantID, opts)
}

// EndIdle closes active conversations with no traffic since cutoff.
func (r *ConversationRepository) EndIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	var ended []entities.Conversation
	err := r.db.SelectContext(ctx, &ended, `
		UPDATE conversations SET status = 'ended', updated_at = now()
		WHERE status = 'active' AND last_message_at < $1
		RETURNING *
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("end idle conversations: %w", err)
	}
	for i := range ended {
		publishChange(ctx, r.feed, "conversations", entities.ChangeUpdate, ended[i].RestaurantID, &ended[i])
	}
	return int64(len(ended)), nil
}
