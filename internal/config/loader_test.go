package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/resto")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("LLM_TIMEOUT", "45s")
	t.Setenv("EVOLUTION_API_URL", "http://gateway.local/")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := loadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/resto", cfg.Database.URL)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "http://gateway.local", cfg.Gateway.EvolutionURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Pipeline.DefaultMemoryTurns)
	assert.Equal(t, "Cliente", cfg.Pipeline.DefaultCustomer)
	assert.Equal(t, DefaultHandoffMessage, cfg.Pipeline.HandoffMessage)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")

	_, err := loadFrom(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/resto")
	t.Setenv("JWT_SECRET", "short")

	_, err := loadFrom(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}
