package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envBindings maps config keys to the flat environment variable names used in
// deployments. Nested keys are also reachable as APP_SECTION_KEY through the
// key replacer.
var envBindings = map[string]string{
	"http.addr":                           "HTTP_ADDR",
	"database.url":                        "DATABASE_URL",
	"database.max_conns":                  "DB_MAX_CONNS",
	"redis.addr":                          "REDIS_ADDR",
	"redis.password":                      "REDIS_PASSWORD",
	"llm.api_url":                         "LLM_API_URL",
	"llm.api_key":                         "LLM_API_KEY",
	"llm.default_model":                   "LLM_DEFAULT_MODEL",
	"llm.timeout":                         "LLM_TIMEOUT",
	"gateway.evolution_url":               "EVOLUTION_API_URL",
	"gateway.evolution_key":               "EVOLUTION_API_KEY",
	"gateway.timeout":                     "GATEWAY_TIMEOUT",
	"auth.jwt_secret":                     "JWT_SECRET",
	"auth.admin_email":                    "ADMIN_EMAIL",
	"auth.admin_password":                 "ADMIN_PASSWORD",
	"telegram.bot_token":                  "TELEGRAM_BOT_TOKEN",
	"whatsapp.device_dir":                 "WHATSAPP_DEVICE_DIR",
	"logging.level":                       "LOG_LEVEL",
	"logging.format":                      "LOG_FORMAT",
	"tracing.enabled":                     "TRACING_ENABLED",
	"scheduler.idle_conversation_timeout": "IDLE_CONVERSATION_TIMEOUT",
	"app.environment":                     "APP_ENVIRONMENT",
}

// Load reads .env (when present), an optional config.yaml and the process
// environment, then applies defaults and validates the result.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	paths := []string{".env"}
	if root := findProjectRoot(); root != "" {
		paths = append(paths, filepath.Join(root, ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			if err := godotenv.Load(p); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "restobot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("http.addr", "0.0.0.0:8080")
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("http.user_rate_limit", 5.0)
	v.SetDefault("http.user_rate_burst", 10)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dedup_ttl", 24*time.Hour)

	v.SetDefault("llm.api_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.default_model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_retries", 0)

	v.SetDefault("gateway.evolution_url", "")
	v.SetDefault("gateway.evolution_key", "")
	v.SetDefault("gateway.timeout", 10*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("telegram.bot_token", "")

	v.SetDefault("whatsapp.device_dir", "devices")
	v.SetDefault("whatsapp.log_level", "INFO")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("pipeline.default_memory_turns", 10)
	v.SetDefault("pipeline.pattern_limit", 5)
	v.SetDefault("pipeline.default_customer", "Cliente")
	v.SetDefault("pipeline.handoff_message", DefaultHandoffMessage)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.idle_conversation_timeout", 24*time.Hour)
	v.SetDefault("scheduler.idle_sweep_spec", "@every 15m")
	v.SetDefault("scheduler.promotion_sweep_spec", "@hourly")
}

// DefaultHandoffMessage is sent to the customer when a conversation is
// escalated and the matching scenario has no custom text.
const DefaultHandoffMessage = "Vou transferir você para um atendente humano. Aguarde um momento, por favor."

// applyDefaults repairs values that unmarshal to zero when the environment
// sets them to an empty string.
func applyDefaults(cfg *Config) {
	if cfg.Pipeline.DefaultMemoryTurns <= 0 {
		cfg.Pipeline.DefaultMemoryTurns = 10
	}
	if cfg.Pipeline.PatternLimit <= 0 {
		cfg.Pipeline.PatternLimit = 5
	}
	if cfg.Pipeline.DefaultCustomer == "" {
		cfg.Pipeline.DefaultCustomer = "Cliente"
	}
	if cfg.Pipeline.HandoffMessage == "" {
		cfg.Pipeline.HandoffMessage = DefaultHandoffMessage
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = 30 * time.Second
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Gateway.EvolutionURL = strings.TrimRight(cfg.Gateway.EvolutionURL, "/")
	cfg.LLM.APIURL = strings.TrimRight(cfg.LLM.APIURL, "/")
}

func validateConfig(cfg *Config) error {
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(cfg.Auth.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported log format %q", cfg.Logging.Format)
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio %v out of range", cfg.Tracing.SampleRatio)
	}
	return nil
}
