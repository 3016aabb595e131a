package config

import (
	"fmt"
	"time"
)

const DefaultSystemPrompt = "You are a helpful assistant with memory of past conversations. " +
	"Use the provided context about the user when it is relevant, and always follow the user's corrections."

// MemoryConfig holds the orchestration policy knobs.
type MemoryConfig struct {
	MaxContextWindow     int     `env:"MAX_CONTEXT_WINDOW" envDefault:"4096"`
	ResponseBufferTokens int     `env:"RESPONSE_BUFFER_TOKENS" envDefault:"1000"`
	MaxResponseTokens    int     `env:"MAX_RESPONSE_TOKENS" envDefault:"1000"`
	ShortTermTurns       int     `env:"SHORT_TERM_TURNS" envDefault:"10"`
	SummarizeThreshold   int     `env:"SUMMARIZE_THRESHOLD" envDefault:"2000"`
	SummaryMaxTokens     int     `env:"SUMMARY_MAX_TOKENS" envDefault:"800"`
	SemanticTopK         int     `env:"SEMANTIC_TOP_K" envDefault:"5"`
	SimilarityThreshold  float64 `env:"SIMILARITY_THRESHOLD" envDefault:"0.7"`
	CorrectionTokenCap   int     `env:"CORRECTION_TOKEN_CAP" envDefault:"300"`

	// CorrectionMaxAge hides older corrections at read time. Zero keeps them forever.
	CorrectionMaxAge  time.Duration `env:"CORRECTION_MAX_AGE" envDefault:"0s"`
	CorrectionMarkers []string      `env:"CORRECTION_MARKERS" envDefault:"incorrect:" envSeparator:","`

	ExternalTimeout time.Duration `env:"EXTERNAL_TIMEOUT" envDefault:"15s"`
	ModelTimeout    time.Duration `env:"MODEL_TIMEOUT" envDefault:"60s"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"2"`

	SystemPrompt string `env:"SYSTEM_PROMPT"`
}

// DefaultMemoryConfig mirrors the envDefault tags for programmatic construction.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxContextWindow:     4096,
		ResponseBufferTokens: 1000,
		MaxResponseTokens:    1000,
		ShortTermTurns:       10,
		SummarizeThreshold:   2000,
		SummaryMaxTokens:     800,
		SemanticTopK:         5,
		SimilarityThreshold:  0.7,
		CorrectionTokenCap:   300,
		CorrectionMarkers:    []string{"incorrect:"},
		ExternalTimeout:      15 * time.Second,
		ModelTimeout:         60 * time.Second,
		MaxRetries:           2,
	}
}

func (c MemoryConfig) Validate() error {
	switch {
	case c.MaxContextWindow <= 0:
		return fmt.Errorf("MEMORY_MAX_CONTEXT_WINDOW must be positive")
	case c.ResponseBufferTokens < 0:
		return fmt.Errorf("MEMORY_RESPONSE_BUFFER_TOKENS must not be negative")
	case c.ShortTermTurns <= 0:
		return fmt.Errorf("MEMORY_SHORT_TERM_TURNS must be positive")
	case c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1:
		return fmt.Errorf("MEMORY_SIMILARITY_THRESHOLD must be within [0,1]")
	case c.SemanticTopK < 0:
		return fmt.Errorf("MEMORY_SEMANTIC_TOP_K must not be negative")
	case len(c.CorrectionMarkers) == 0:
		return fmt.Errorf("MEMORY_CORRECTION_MARKERS must not be empty")
	}
	return nil
}

func (c MemoryConfig) GetSystemPrompt() string {
	if c.SystemPrompt == "" {
		return DefaultSystemPrompt
	}
	return c.SystemPrompt
}
