package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, "token", cfg.TelegramBotToken)
	require.Equal(t, 30*time.Minute, cfg.SessionTTL)
	require.Equal(t, 72*time.Hour, cfg.LegitCheckTTL)
	require.Equal(t, 8, cfg.Workers)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Empty(t, cfg.DatabaseURL)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("WORKERS", "0")
	t.Setenv("ADMIN_USER", "42")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.SessionTTL)
	require.Equal(t, 1, cfg.Workers)
	require.Equal(t, int64(42), cfg.AdminUserID)
}

func TestParse_RequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "x")
	require.NoError(t, os.Unsetenv("TELEGRAM_BOT_TOKEN"))
	_, err := Parse()
	require.Error(t, err)
}
