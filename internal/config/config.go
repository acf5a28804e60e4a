package config

import "time"

// Config is the whole runtime configuration. It is built once in main and
// passed explicitly into constructors.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	UserRateLimit   float64       `mapstructure:"user_rate_limit"`
	UserRateBurst   int           `mapstructure:"user_rate_burst"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type LLMConfig struct {
	APIURL       string        `mapstructure:"api_url"`
	APIKey       string        `mapstructure:"api_key"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type GatewayConfig struct {
	EvolutionURL string        `mapstructure:"evolution_url"`
	EvolutionKey string        `mapstructure:"evolution_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	AdminEmail    string        `mapstructure:"admin_email"`
	AdminPassword string        `mapstructure:"admin_password"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
}

type WhatsAppConfig struct {
	DeviceDir string `mapstructure:"device_dir"`
	LogLevel  string `mapstructure:"log_level"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type PipelineConfig struct {
	DefaultMemoryTurns int    `mapstructure:"default_memory_turns"`
	PatternLimit       int    `mapstructure:"pattern_limit"`
	DefaultCustomer    string `mapstructure:"default_customer"`
	HandoffMessage     string `mapstructure:"handoff_message"`
}

type SchedulerConfig struct {
	Enabled                 bool          `mapstructure:"enabled"`
	IdleConversationTimeout time.Duration `mapstructure:"idle_conversation_timeout"`
	IdleSweepSpec           string        `mapstructure:"idle_sweep_spec"`
	PromotionSweepSpec      string        `mapstructure:"promotion_sweep_spec"`
}
