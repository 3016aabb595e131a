package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sandevgo/recall/internal/config"
	"github.com/sandevgo/recall/internal/core"
	"github.com/sandevgo/recall/internal/observability"
	"github.com/sandevgo/recall/internal/providers/llm"
	"github.com/sandevgo/recall/internal/providers/rag"
	"github.com/sandevgo/recall/internal/service/memory"
	"github.com/sandevgo/recall/internal/service/orchestrator"
	"github.com/sandevgo/recall/internal/storage/sqlite"
	"github.com/sandevgo/recall/internal/storage/vector"
	"github.com/sandevgo/recall/pkg/log"
	"github.com/sandevgo/recall/pkg/srv"
)

// App holds the wired engine. Services are ordered so that reverse shutdown
// drains enrichment before the stores close.
type App struct {
	Config       *config.AppConfig
	Orchestrator *orchestrator.Orchestrator
	Traces       core.TraceRepository
	Services     []srv.Service
}

func NewApp(ctx context.Context) (*App, error) {
	logger := log.FromCtx(ctx)
	services := make([]srv.Service, 0)

	// 1. Configuration
	if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
		return nil, fmt.Errorf("init env: %w", err)
	}
	cfg, err := config.LoadAppConfig()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	model := cfg.Provider.Model

	// 2. Storage
	db, err := sqlite.NewDB(ctx, cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	services = append(services, srv.NewCleanup(db.Close))

	index, err := initVectorIndex(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init vector index: %w", err)
	}

	// 3. Providers
	lm, err := llm.NewProvider(ctx, cfg.Provider)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	embedder, err := rag.NewEmbedder(ctx, cfg.Embedding, cfg.Provider.OpenAIAPIKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	// 4. Memory layers
	counter := memory.NewTokenCounter(model)

	profiles, err := memory.NewProfileStore(ctx, sqlite.NewProfilesRepo(db), newExtractor(cfg, lm), cfg.Memory.ExternalTimeout)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init profile store: %w", err)
	}
	services = append(services, srv.NewCleanup(func() error {
		profiles.Close()
		return nil
	}))

	shortTerm := memory.NewShortTermStore(
		sqlite.NewConversationsRepo(db),
		counter,
		newSummarizer(cfg, lm),
		memory.ShortTermConfig{
			MaxTurns:           cfg.Memory.ShortTermTurns,
			SummarizeThreshold: cfg.Memory.SummarizeThreshold,
			SummaryMaxTokens:   cfg.Memory.SummaryMaxTokens,
			Timeout:            cfg.Memory.ExternalTimeout,
			Model:              model,
		},
	)
	semantic := memory.NewSemanticRetriever(index, embedder, cfg.Memory.ExternalTimeout)
	feedback := memory.NewFeedbackStore(sqlite.NewCorrectionsRepo(db), cfg.Memory.CorrectionMarkers, cfg.Memory.CorrectionMaxAge)

	// 5. Metrics
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(reg)
		services = append(services, observability.NewServer(cfg.MetricsAddr, reg))
	}

	// 6. Orchestrator
	traces := sqlite.NewTracesRepo(db)
	orch := orchestrator.New(cfg.Memory, orchestrator.Deps{
		Model:     lm,
		ModelName: model,
		Counter:   counter,
		ShortTerm: shortTerm,
		Profiles:  profiles,
		Semantic:  semantic,
		Feedback:  feedback,
		Traces:    traces,
		Metrics:   metrics,
	})
	services = append(services, srv.NewDrain(orch.Close))

	logger.Debug().
		Str("runtime", cfg.GetRuntimePath()).
		Int("window", cfg.Memory.MaxContextWindow).
		Str("extractor", cfg.FactExtractor).
		Msg("engine ready")

	return &App{
		Config:       cfg,
		Orchestrator: orch,
		Traces:       traces,
		Services:     services,
	}, nil
}

// OpenTraces opens only the trace store, for read-only commands.
func OpenTraces(ctx context.Context) (core.TraceRepository, *sql.DB, error) {
	if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
		return nil, nil, fmt.Errorf("init env: %w", err)
	}
	cfg, err := config.LoadAppConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("parse config: %w", err)
	}
	db, err := sqlite.NewDB(ctx, cfg.GetDatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}
	return sqlite.NewTracesRepo(db), db, nil
}

func initVectorIndex(cfg *config.AppConfig) (core.VectorIndex, error) {
	if !cfg.VectorPersist {
		return vector.NewMemoryIndex(), nil
	}
	return vector.NewPersistentIndex(cfg.GetVectorPath())
}

func newExtractor(cfg *config.AppConfig, lm core.LanguageModel) core.FactExtractor {
	if cfg.FactExtractor == "llm" {
		return memory.NewLLMExtractor(lm)
	}
	return memory.NewPatternExtractor()
}

// the echo model would only parrot the fold back, so it gets no summarizer
func newSummarizer(cfg *config.AppConfig, lm core.LanguageModel) core.Summarizer {
	if cfg.Provider.Provider == "echo" {
		return nil
	}
	return llm.NewSummarizer(lm, cfg.Memory.SummaryMaxTokens)
}

func initEnv(ctx context.Context, runtimePath string) error {
	logger := log.FromCtx(ctx)
	envFile := filepath.Join(runtimePath, ".env")

	if _, err := os.Stat(envFile); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.Warn().Err(err).Str("path", envFile).Msg("failed to load .env file")
		return err
	}

	logger.Debug().Str("path", envFile).Msg("loaded .env file")
	return nil
}
