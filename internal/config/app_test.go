package config

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppConfig_Defaults(t *testing.T) {
	cfg, err := LoadAppConfigWith(env.Options{Environment: map[string]string{}})
	require.NoError(t, err)

	assert.Equal(t, ".recall", cfg.RuntimePath)
	assert.Equal(t, "pattern", cfg.FactExtractor)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, DefaultMemoryConfig(), cfg.Memory)
}

func TestLoadAppConfig_Overrides(t *testing.T) {
	cfg, err := LoadAppConfigWith(env.Options{Environment: map[string]string{
		"LLM_PROVIDER":                "anthropic",
		"MEMORY_MAX_CONTEXT_WINDOW":   "8192",
		"MEMORY_SHORT_TERM_TURNS":     "6",
		"MEMORY_CORRECTION_MARKERS":   "incorrect:,correction:",
		"MEMORY_CORRECTION_MAX_AGE":   "720h",
		"MEMORY_SIMILARITY_THRESHOLD": "0.55",
		"MEMORY_EXTERNAL_TIMEOUT":     "2s",
	}})
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider.Provider)
	assert.Equal(t, 8192, cfg.Memory.MaxContextWindow)
	assert.Equal(t, 6, cfg.Memory.ShortTermTurns)
	assert.Equal(t, []string{"incorrect:", "correction:"}, cfg.Memory.CorrectionMarkers)
	assert.Equal(t, 720*time.Hour, cfg.Memory.CorrectionMaxAge)
	assert.InDelta(t, 0.55, cfg.Memory.SimilarityThreshold, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.Memory.ExternalTimeout)
}

func TestLoadAppConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "zero window", env: map[string]string{"MEMORY_MAX_CONTEXT_WINDOW": "0"}},
		{name: "threshold above one", env: map[string]string{"MEMORY_SIMILARITY_THRESHOLD": "1.5"}},
		{name: "unknown extractor", env: map[string]string{"FACT_EXTRACTOR": "magic"}},
		{name: "not a number", env: map[string]string{"MEMORY_SHORT_TERM_TURNS": "ten"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadAppConfigWith(env.Options{Environment: tt.env})
			assert.Error(t, err)
		})
	}
}

func TestMemoryConfig_SystemPrompt(t *testing.T) {
	cfg := DefaultMemoryConfig()
	assert.Equal(t, DefaultSystemPrompt, cfg.GetSystemPrompt())

	cfg.SystemPrompt = "be brief"
	assert.Equal(t, "be brief", cfg.GetSystemPrompt())
}
