package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

type MessageRepository struct {
	db   *sqlx.DB
	feed interfaces.ChangePublisher
}

func NewMessageRepository(db *sqlx.DB, feed interfaces.ChangePublisher) *MessageRepository {
	return &MessageRepository{db: db, feed: feed}
}

// Create stores msg and fills its id and timestamp.
func (r *MessageRepository) Create(ctx context.Context, msg *entities.Message) error {
	var out struct {
		ID           string    `db:"id"`
		CreatedAt    time.Time `db:"created_at"`
		RestaurantID string    `db:"restaurant_id"`
	}
	err := r.db.GetContext(ctx, &out, `
		INSERT INTO messages (conversation_id, sender_type, content, provider_message_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at,
			(SELECT restaurant_id FROM conversations WHERE id = $1) AS restaurant_id
	`, msg.ConversationID, msg.SenderType, msg.Content, msg.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID = out.ID
	msg.CreatedAt = out.CreatedAt
	publishChange(ctx, r.feed, "messages", entities.ChangeInsert, out.RestaurantID, msg)
	return nil
}

func (r *MessageRepository) Recent(ctx context.Context, conversationID string, limit int, excludeID string) ([]entities.Message, error) {
	msgs := []entities.Message{}
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE conversation_id = $1 AND id::text <> $2
		ORDER BY created_at DESC
		LIMIT $3
	`, conversationID, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// ForConversation returns a page of a conversation's messages in
// chronological order.
func (r *MessageRepository) ForConversation(ctx context.Context, conversationID string, limit, offset int) ([]entities.Message, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	msgs := []entities.Message{}
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
