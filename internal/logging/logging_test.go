package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitWritesLogFile(t *testing.T) {
	prev := sugar
	t.Cleanup(func() { sugar = prev })

	dir := t.TempDir()
	require.NoError(t, Init("debug", "json", dir))
	Infow("flow started", "user_id", 7)
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, "bot.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"flow started"`)
	require.Contains(t, string(data), `"user_id":7`)
}

func TestInitFallsBackToInfoOnBadLevel(t *testing.T) {
	prev := sugar
	t.Cleanup(func() { sugar = prev })

	require.NoError(t, InitStderr("loud", "console"))
	require.True(t, sugar.Desugar().Core().Enabled(zap.InfoLevel))
	require.False(t, sugar.Desugar().Core().Enabled(zap.DebugLevel))
}
