package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"restobot/internal/apperrors"
	"restobot/internal/entities"
	"restobot/internal/interfaces"
)

// AnalyticsRepository records what the assistant observes and learns.
type AnalyticsRepository struct {
	db   *sqlx.DB
	feed interfaces.ChangePublisher
}

func NewAnalyticsRepository(db *sqlx.DB, feed interfaces.ChangePublisher) *AnalyticsRepository {
	return &AnalyticsRepository{db: db, feed: feed}
}

func (r *AnalyticsRepository) SaveSentiment(ctx context.Context, row *entities.SentimentAnalytics) error {
	if len(row.Emotions) == 0 {
		row.Emotions = []byte("{}")
	}
	err := r.db.GetContext(ctx, row, `
		INSERT INTO sentiment_analytics (restaurant_id, agent_id, conversation_id, message_id,
			sentiment_score, label, confidence, emotions, response_strategy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *
	`, row.RestaurantID, row.AgentID, row.ConversationID, row.MessageID,
		row.Score, row.Label, row.Confidence, string(row.Emotions), row.ResponseStrategy)
	if err != nil {
		return fmt.Errorf("insert sentiment: %w", err)
	}
	publishChange(ctx, r.feed, "sentiment_analytics", entities.ChangeInsert, row.RestaurantID, row)
	return nil
}

func (r *AnalyticsRepository) SaveInteraction(ctx context.Context, row *entities.LearningInteraction) error {
	err := r.db.GetContext(ctx, row, `
		INSERT INTO ai_learning_interactions (restaurant_id, agent_id, conversation_id, interaction_type,
			customer_message, ai_response, sentiment_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, row.RestaurantID, row.AgentID, row.ConversationID, row.InteractionType,
		row.CustomerMessage, row.AIResponse, row.SentimentScore)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// BumpPattern counts one more occurrence of a pattern, merging keywords.
func (r *AnalyticsRepository) BumpPattern(ctx context.Context, agentID string, kind entities.InteractionType, key string, keywords []string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ai_learning_patterns (agent_id, pattern_type, pattern_key, frequency, keywords, last_seen_at)
		VALUES ($1, $2, $3, 1, $4, now())
		ON CONFLICT (agent_id, pattern_type, pattern_key)
		DO UPDATE SET frequency = ai_learning_patterns.frequency + 1,
			keywords = ARRAY(SELECT DISTINCT unnest(ai_learning_patterns.keywords || EXCLUDED.keywords)),
			last_seen_at = now()
	`, agentID, kind, key, pq.StringArray(keywords))
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

func (r *AnalyticsRepository) TopPatterns(ctx context.Context, agentID string, limit int) ([]entities.LearningPattern, error) {
	patterns := []entities.LearningPattern{}
	err := r.db.SelectContext(ctx, &patterns, `
		SELECT * FROM ai_learning_patterns
		WHERE agent_id = $1
		ORDER BY frequency DESC, last_seen_at DESC
		LIMIT $2
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	return patterns, nil
}

// RunningTest returns the agent's running A/B test and its variants, or nil.
func (r *AnalyticsRepository) RunningTest(ctx context.Context, agentID string) (*entities.ABTest, []entities.ABTestVariant, error) {
	var test entities.ABTest
	err := r.db.GetContext(ctx, &test, `
		SELECT * FROM ab_tests WHERE agent_id = $1 AND is_running ORDER BY created_at DESC LIMIT 1
	`, agentID)
	if isNoRows(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load ab test: %w", err)
	}

	variants := []entities.ABTestVariant{}
	if err := r.db.SelectContext(ctx, &variants, `
		SELECT * FROM ab_test_variants WHERE test_id = $1 ORDER BY name
	`, test.ID); err != nil {
		return nil, nil, fmt.Errorf("load ab variants: %w", err)
	}
	return &test, variants, nil
}

func (r *AnalyticsRepository) RecordResult(ctx context.Context, row *entities.ABTestResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ab_test_results (test_id, variant_id, conversation_id, interaction_type, sentiment_score)
		VALUES ($1, $2, $3, $4, $5)
	`, row.TestID, row.VariantID, row.ConversationID, row.InteractionType, row.SentimentScore)
	if err != nil {
		return fmt.Errorf("insert ab result: %w", err)
	}
	return nil
}

// CreateTest stores a test with its variants in one transaction.
func (r *AnalyticsRepository) CreateTest(ctx context.Context, test *entities.ABTest, variants []entities.ABTestVariant) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if test.IsRunning {
		if _, err := tx.ExecContext(ctx, `UPDATE ab_tests SET is_running = false WHERE agent_id = $1`, test.AgentID); err != nil {
			return fmt.Errorf("stop running tests: %w", err)
		}
	}
	if err := tx.GetContext(ctx, test, `
		INSERT INTO ab_tests (agent_id, name, is_running) VALUES ($1, $2, $3) RETURNING *
	`, test.AgentID, test.Name, test.IsRunning); err != nil {
		return fmt.Errorf("insert ab test: %w", err)
	}
	for i := range variants {
		variants[i].TestID = test.ID
		if err := tx.GetContext(ctx, &variants[i], `
			INSERT INTO ab_test_variants (test_id, name, instructions, weight) VALUES ($1, $2, $3, $4) RETURNING *
		`, test.ID, variants[i].Name, variants[i].Instructions, variants[i].Weight); err != nil {
			return fmt.Errorf("insert ab variant: %w", err)
		}
	}
	return tx.Commit()
}

func (r *AnalyticsRepository) SetTestRunning(ctx context.Context, testID string, running bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE ab_tests SET is_running = $2 WHERE id = $1`, testID, running)
	if err != nil {
		return fmt.Errorf("update ab test: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("AnalyticsRepository.SetTestRunning", "ab test")
	}
	return nil
}

func (r *AnalyticsRepository) TestsForAgent(ctx context.Context, agentID string) ([]entities.ABTest, error) {
	tests := []entities.ABTest{}
	err := r.db.SelectContext(ctx, &tests, `SELECT * FROM ab_tests WHERE agent_id = $1 ORDER BY created_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list ab tests: %w", err)
	}
	return tests, nil
}

// VariantStats aggregates results per variant. Orders count interactions
// classified as orders.
func (r *AnalyticsRepository) VariantStats(ctx context.Context, testID string) ([]entities.VariantStats, error) {
	stats := []entities.VariantStats{}
	err := r.db.SelectContext(ctx, &stats, `
		SELECT v.id AS variant_id, v.name AS variant_name,
			COUNT(res.id) AS interactions,
			COUNT(res.id) FILTER (WHERE res.interaction_type = 'order') AS orders,
			AVG(res.sentiment_score) AS average_score
		FROM ab_test_variants v
		LEFT JOIN ab_test_results res ON res.variant_id = v.id
		WHERE v.test_id = $1
		GROUP BY v.id, v.name
		ORDER BY v.name
	`, testID)
	if err != nil {
		return nil, fmt.Errorf("variant stats: %w", err)
	}
	for i := range stats {
		if stats[i].Interactions > 0 {
			stats[i].ConversionRate = float64(stats[i].Orders) / float64(stats[i].Interactions)
		}
	}
	return stats, nil
}

func (r *AnalyticsRepository) SentimentSummary(ctx context.Context, restaurantID string, since time.Time) (*entities.SentimentSummary, error) {
	var rows []struct {
		Label string  `db:"label"`
		Count int     `db:"count"`
		Sum   float64 `db:"sum"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT label, COUNT(*) AS count, COALESCE(SUM(sentiment_score), 0) AS sum
		FROM sentiment_analytics
		WHERE restaurant_id = $1 AND created_at >= $2
		GROUP BY label
	`, restaurantID, since)
	if err != nil {
		return nil, fmt.Errorf("sentiment summary: %w", err)
	}

	summary := &entities.SentimentSummary{ByLabel: map[string]int{}}
	var total float64
	for _, row := range rows {
		summary.ByLabel[row.Label] = row.Count
		summary.Total += row.Count
		total += row.Sum
	}
	if summary.Total > 0 {
		summary.AverageScore = total / float64(summary.Total)
	}
	return summary, nil
}

func (r *AnalyticsRepository) PatternsForRestaurant(ctx context.Context, restaurantID string, limit int) ([]entities.LearningPattern, error) {
	patterns := []entities.LearningPattern{}
	err := r.db.SelectContext(ctx, &patterns, `
		SELECT p.* FROM ai_learning_patterns p
		JOIN agents a ON a.id = p.agent_id
		WHERE a.restaurant_id = $1
		ORDER BY p.frequency DESC
		LIMIT $2
	`, restaurantID, limit)
	if err != nil {
		return nil, fmt.Errorf("restaurant patterns: %w", err)
	}
	return patterns, nil
}

// DailyQuantities returns units sold per product per day since the given
// time, excluding cancelled orders.
func (r *AnalyticsRepository) DailyQuantities(ctx context.Context, restaurantID string, since time.Time) ([]entities.DailyQuantity, error) {
	rows := []entities.DailyQuantity{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT i.product_id, i.product_name, date_trunc('day', o.created_at) AS day, SUM(i.quantity) AS quantity
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE o.restaurant_id = $1 AND o.created_at >= $2 AND o.status <> 'cancelled'
		GROUP BY i.product_id, i.product_name, day
		ORDER BY i.product_id, day
	`, restaurantID, since)
	if err != nil {
		return nil, fmt.Errorf("daily quantities: %w", err)
	}
	return rows, nil
}
