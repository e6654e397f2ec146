package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.25, cfg.Router.ConfidenceFloor)
	assert.Greater(t, cfg.Router.ShortConfidenceFloor, cfg.Router.ConfidenceFloor,
		"short utterances get the stricter floor")
	assert.Equal(t, 40, cfg.Cascade.MinContextChars)
	assert.Less(t, cfg.Cascade.CurrentThreshold, cfg.Cascade.SessionThreshold)
	assert.Less(t, cfg.Cascade.SessionThreshold, cfg.Cascade.CrossThreshold,
		"wider scopes require stricter similarity")
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Router, cfg.Router)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  base_url: http://example.test/v1
  model: test-model
  timeout: 5s
  max_tokens: 128
router:
  min_margin: 0.2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 0.2, cfg.Router.MinMargin)
	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().Cascade, cfg.Cascade)
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("THINKDROP_LLM_BASE_URL", "http://env.test/v1")
	t.Setenv("THINKDROP_LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  base_url: http://file.test/v1\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env.test/v1", cfg.LLM.BaseURL, "environment beats the file")
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.LLM.Model = "custom"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", loaded.LLM.Model)
}

func TestTimeoutFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "garbage"
	cfg.Cascade.CompletionTimeout = ""

	assert.Equal(t, float64(30), cfg.GetLLMTimeout().Seconds())
	assert.Equal(t, float64(15), cfg.GetCompletionTimeout().Seconds())
}

func TestValidateRejectsBadGates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Router.ConfidenceFloor = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Router.MinMargin = -0.1
	assert.Error(t, cfg.Validate())
}
