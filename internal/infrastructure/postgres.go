package infrastructure

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"restobot/internal/config"
	"restobot/internal/logger"
)

// PostgresClient owns the pgx pool. DB is a sqlx handle over the same pool
// used by the repositories.
type PostgresClient struct {
	Pool *pgxpool.Pool
	DB   *sqlx.DB
	log  logger.Logger
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*PostgresClient, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	client := &PostgresClient{
		Pool: pool,
		DB:   sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx"),
		log:  log,
	}

	if err := client.Migrate(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

// Migrate creates the schema when missing. Statements are idempotent.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	for _, m := range schema {
		if _, err := p.Pool.Exec(ctx, m.ddl); err != nil {
			return fmt.Errorf("create %s: %w", m.name, err)
		}
	}
	p.log.Info("database schema ready", map[string]interface{}{"statements": len(schema)})
	return nil
}

func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

func (p *PostgresClient) Close() {
	if p.DB != nil {
		_ = p.DB.Close()
	}
	p.Pool.Close()
}

type migration struct {
	name string
	ddl  string
}

var schema = []migration{
	{"users table", `
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			password_hash VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'owner',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"restaurants table", `
		CREATE TABLE IF NOT EXISTS restaurants (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			owner_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			phone VARCHAR(32) NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			telegram_chat_id BIGINT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"agents table", `
		CREATE TABLE IF NOT EXISTS agents (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			personality TEXT NOT NULL DEFAULT '',
			instructions TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT true,
			fallback_enabled BOOLEAN NOT NULL DEFAULT true,
			sentiment_analysis_enabled BOOLEAN NOT NULL DEFAULT false,
			whatsapp_number VARCHAR(32) NOT NULL DEFAULT '',
			gateway_kind VARCHAR(16) NOT NULL DEFAULT 'evolution',
			evolution_api_url TEXT NOT NULL DEFAULT '',
			evolution_api_key TEXT NOT NULL DEFAULT '',
			evolution_instance_id VARCHAR(128) NOT NULL DEFAULT '',
			llm_model VARCHAR(64) NOT NULL DEFAULT '',
			temperature DOUBLE PRECISION NOT NULL DEFAULT 0.7,
			max_tokens INT NOT NULL DEFAULT 500,
			context_memory_turns INT NOT NULL DEFAULT 10,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"agents lookup index", `CREATE INDEX IF NOT EXISTS agents_instance_idx ON agents (evolution_instance_id) WHERE is_active`},
	{"agents number index", `CREATE INDEX IF NOT EXISTS agents_number_idx ON agents (whatsapp_number) WHERE is_active`},
	{"conversations table", `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			customer_phone VARCHAR(32) NOT NULL,
			customer_name VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'active'
				CHECK (status IN ('active', 'paused', 'human_handoff', 'ended')),
			last_message_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"open conversation unique index", `
		CREATE UNIQUE INDEX IF NOT EXISTS conversations_open_uniq
			ON conversations (agent_id, customer_phone) WHERE status <> 'ended'`},
	{"messages table", `
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_type VARCHAR(16) NOT NULL CHECK (sender_type IN ('customer', 'agent', 'human')),
			content TEXT NOT NULL,
			provider_message_id VARCHAR(128),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"messages history index", `CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at DESC)`},
	{"categories table", `
		CREATE TABLE IF NOT EXISTS categories (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			sort_order INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"products table", `
		CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			category_id UUID REFERENCES categories(id) ON DELETE SET NULL,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price DECIMAL(12, 2) NOT NULL DEFAULT 0,
			stock INT NOT NULL DEFAULT 0,
			low_stock_threshold INT NOT NULL DEFAULT 5,
			is_available BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"modifiers table", `
		CREATE TABLE IF NOT EXISTS modifiers (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			product_id UUID REFERENCES products(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			price_delta DECIMAL(12, 2) NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"payment_methods table", `
		CREATE TABLE IF NOT EXISTS payment_methods (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			instructions TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"delivery_zones table", `
		CREATE TABLE IF NOT EXISTS delivery_zones (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			fee DECIMAL(12, 2) NOT NULL DEFAULT 0,
			min_order DECIMAL(12, 2) NOT NULL DEFAULT 0,
			estimated_minutes INT NOT NULL DEFAULT 0,
			neighborhoods TEXT[] NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"promotions table", `
		CREATE TABLE IF NOT EXISTS promotions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			discount_percent DECIMAL(5, 2) NOT NULL DEFAULT 0,
			valid_until TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"orders table", `
		CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			conversation_id UUID REFERENCES conversations(id) ON DELETE SET NULL,
			customer_phone VARCHAR(32) NOT NULL DEFAULT '',
			customer_name VARCHAR(255) NOT NULL DEFAULT '',
			delivery_address TEXT NOT NULL DEFAULT '',
			delivery_zone_id UUID REFERENCES delivery_zones(id) ON DELETE SET NULL,
			payment_method_id UUID REFERENCES payment_methods(id) ON DELETE SET NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'confirmed', 'preparing', 'ready', 'delivered', 'cancelled')),
			subtotal DECIMAL(12, 2) NOT NULL DEFAULT 0,
			delivery_fee DECIMAL(12, 2) NOT NULL DEFAULT 0,
			total DECIMAL(12, 2) NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"order_items table", `
		CREATE TABLE IF NOT EXISTS order_items (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			order_id UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			product_id UUID NOT NULL REFERENCES products(id),
			product_name VARCHAR(255) NOT NULL,
			quantity INT NOT NULL CHECK (quantity > 0),
			unit_price DECIMAL(12, 2) NOT NULL,
			modifier_total DECIMAL(12, 2) NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT ''
		)`},
	{"fallback_scenarios table", `
		CREATE TABLE IF NOT EXISTS fallback_scenarios (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			sentiment_threshold DOUBLE PRECISION NOT NULL DEFAULT -0.5,
			auto_trigger BOOLEAN NOT NULL DEFAULT true,
			custom_message TEXT NOT NULL DEFAULT '',
			priority INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"sentiment_analytics table", `
		CREATE TABLE IF NOT EXISTS sentiment_analytics (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			sentiment_score DOUBLE PRECISION NOT NULL,
			label VARCHAR(32) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			emotions JSONB NOT NULL DEFAULT '{}',
			response_strategy VARCHAR(32) NOT NULL DEFAULT 'informational',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"ai_learning_interactions table", `
		CREATE TABLE IF NOT EXISTS ai_learning_interactions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			interaction_type VARCHAR(32) NOT NULL,
			customer_message TEXT NOT NULL,
			ai_response TEXT NOT NULL,
			sentiment_score DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"ai_learning_patterns table", `
		CREATE TABLE IF NOT EXISTS ai_learning_patterns (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			pattern_type VARCHAR(32) NOT NULL,
			pattern_key VARCHAR(255) NOT NULL,
			frequency INT NOT NULL DEFAULT 1,
			keywords TEXT[] NOT NULL DEFAULT '{}',
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (agent_id, pattern_type, pattern_key)
		)`},
	{"ab_tests table", `
		CREATE TABLE IF NOT EXISTS ab_tests (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			is_running BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"ab_test_variants table", `
		CREATE TABLE IF NOT EXISTS ab_test_variants (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			test_id UUID NOT NULL REFERENCES ab_tests(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			instructions TEXT NOT NULL DEFAULT '',
			weight DOUBLE PRECISION NOT NULL DEFAULT 1 CHECK (weight >= 0)
		)`},
	{"ab_test_results table", `
		CREATE TABLE IF NOT EXISTS ab_test_results (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			test_id UUID NOT NULL REFERENCES ab_tests(id) ON DELETE CASCADE,
			variant_id UUID NOT NULL REFERENCES ab_test_variants(id) ON DELETE CASCADE,
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			interaction_type VARCHAR(32) NOT NULL,
			sentiment_score DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`},
	{"message_usage table", `
		CREATE TABLE IF NOT EXISTS message_usage (
			restaurant_id UUID NOT NULL REFERENCES restaurants(id) ON DELETE CASCADE,
			date DATE NOT NULL,
			messages_sent INT NOT NULL DEFAULT 0,
			messages_received INT NOT NULL DEFAULT 0,
			PRIMARY KEY (restaurant_id, date)
		)`},
}
