package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Equal(t, 10, s.Dialog.MaxHistoryTurns)
	assert.Equal(t, 3, s.Dialog.FailureThreshold)
	assert.Equal(t, 8000, s.Audio.SampleRate)
	assert.Equal(t, 20*time.Millisecond, s.Audio.SegmentDuration)
	assert.Equal(t, int64(8), s.Backends.MaxConcurrent)
	assert.NotEmpty(t, s.Dialog.TransferPhrases)
	assert.NotEmpty(t, s.Dialog.SystemPrompt)
}

func TestLoadOverridesKeepDefaultsElsewhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9999"
dialog:
  max_history_turns: 4
  transfer_phrases: ["operator please"]
redis:
  enabled: true
  addr: "redis:6379"
`), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", s.Server.Addr)
	assert.Equal(t, 4, s.Dialog.MaxHistoryTurns)
	assert.Equal(t, []string{"operator please"}, s.Dialog.TransferPhrases)
	assert.True(t, s.Redis.Enabled)
	assert.Equal(t, "redis:6379", s.Redis.Addr)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, s.Dialog.FailureThreshold)
	assert.Equal(t, "switchboard", s.Redis.Group)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a map"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
