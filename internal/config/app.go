package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/sandevgo/recall/pkg/log"
)

type AppConfig struct {
	RuntimePath string `env:"RECALL_RUNTIME_PATH" envDefault:".recall"`
	MetricsAddr string `env:"METRICS_ADDR"`

	// VectorPersist keeps the vector index on disk under the runtime path.
	VectorPersist bool `env:"VECTOR_PERSIST" envDefault:"true"`

	// FactExtractor selects "pattern" (offline rules) or "llm".
	FactExtractor string `env:"FACT_EXTRACTOR" envDefault:"pattern"`

	Provider  ProviderConfig
	Embedding EmbeddingConfig
	Memory    MemoryConfig `envPrefix:"MEMORY_"`
}

func NewAppConfig(ctx context.Context) *AppConfig {
	c, err := LoadAppConfig()
	if err != nil {
		log.FromCtx(ctx).Fatal().Err(err).Msg("failed to parse App config")
	}
	return c
}

func LoadAppConfig() (*AppConfig, error) {
	return LoadAppConfigWith(env.Options{})
}

// LoadAppConfigWith parses with explicit options, tests pass Environment to avoid touching the process env.
func LoadAppConfigWith(opts env.Options) (*AppConfig, error) {
	c := &AppConfig{}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return nil, err
	}
	if err := c.Memory.Validate(); err != nil {
		return nil, err
	}
	switch c.FactExtractor {
	case "pattern", "llm":
	default:
		return nil, fmt.Errorf("unknown fact extractor %q", c.FactExtractor)
	}
	return c, nil
}

func (c AppConfig) GetRuntimePath() string {
	return resolveRuntimePath(c.RuntimePath)
}

func (c AppConfig) GetDatabasePath() string {
	return filepath.Join(c.GetRuntimePath(), "recall.db")
}

func (c AppConfig) GetVectorPath() string {
	return filepath.Join(c.GetRuntimePath(), "vectors")
}
