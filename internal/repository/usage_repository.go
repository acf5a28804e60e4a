package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"restobot/internal/entities"
)

// UsageRepository counts WhatsApp traffic per restaurant per day.
type UsageRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

type UsageTotals struct {
	TodaySent     int `json:"today_sent"`
	TodayReceived int `json:"today_received"`
	MonthSent     int `json:"month_sent"`
	MonthReceived int `json:"month_received"`
}

func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db, now: time.Now}
}

func (r *UsageRepository) today() string {
	return r.now().Format("2006-01-02")
}

// IncrementSent increments messages_sent for today
func (r *UsageRepository) IncrementSent(ctx context.Context, restaurantID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_usage (restaurant_id, date, messages_sent, messages_received)
		VALUES ($1, $2, 1, 0)
		ON CONFLICT (restaurant_id, date)
		DO UPDATE SET messages_sent = message_usage.messages_sent + 1
	`, restaurantID, r.today())
	if err != nil {
		return fmt.Errorf("increment sent: %w", err)
	}
	return nil
}

// IncrementReceived increments messages_received for today
func (r *UsageRepository) IncrementReceived(ctx context.Context, restaurantID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO message_usage (restaurant_id, date, messages_sent, messages_received)
		VALUES ($1, $2, 0, 1)
		ON CONFLICT (restaurant_id, date)
		DO UPDATE SET messages_received = message_usage.messages_received + 1
	`, restaurantID, r.today())
	if err != nil {
		return fmt.Errorf("increment received: %w", err)
	}
	return nil
}

// Totals returns today's and this month's counts.
func (r *UsageRepository) Totals(ctx context.Context, restaurantID string) (*UsageTotals, error) {
	now := r.now()
	firstOfMonth := now.Format("2006-01") + "-01"
	var totals UsageTotals
	err := r.db.QueryRowxContext(ctx, `
		SELECT
			COALESCE(SUM(messages_sent) FILTER (WHERE date = $2), 0),
			COALESCE(SUM(messages_received) FILTER (WHERE date = $2), 0),
			COALESCE(SUM(messages_sent), 0),
			COALESCE(SUM(messages_received), 0)
		FROM message_usage
		WHERE restaurant_id = $1 AND date >= $3
	`, restaurantID, now.Format("2006-01-02"), firstOfMonth).Scan(
		&totals.TodaySent, &totals.TodayReceived, &totals.MonthSent, &totals.MonthReceived)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	return &totals, nil
}

// History returns last N days of usage
func (r *UsageRepository) History(ctx context.Context, restaurantID string, days int) ([]entities.DailyUsage, error) {
	start := r.now().AddDate(0, 0, -days).Format("2006-01-02")
	usage := []entities.DailyUsage{}
	err := r.db.SelectContext(ctx, &usage, `
		SELECT date, messages_sent, messages_received
		FROM message_usage
		WHERE restaurant_id = $1 AND date >= $2
		ORDER BY date ASC
	`, restaurantID, start)
	if err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}
	return usage, nil
}
