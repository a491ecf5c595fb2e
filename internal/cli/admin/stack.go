package admin

import (
	"context"
	"fmt"
	"log"

	"github.com/cloo-solutions/kbqa/internal/bedrock"
	"github.com/cloo-solutions/kbqa/internal/chunkstore"
	"github.com/cloo-solutions/kbqa/internal/config"
	"github.com/cloo-solutions/kbqa/internal/database"
	"github.com/cloo-solutions/kbqa/internal/openai"
	"github.com/cloo-solutions/kbqa/internal/repository"
	"github.com/cloo-solutions/kbqa/internal/service"
	goopenai "github.com/sashabaranov/go-openai"
)

// openStore returns the Postgres chunk store when a database is configured and
// the in-memory store otherwise. The returned func releases the connection pool.
func openStore(ctx context.Context, cfg *config.Config, migrate bool) (service.ChunkStore, func(), error) {
	if !cfg.HasDatabase() {
		log.Printf("no DATABASE_URL set, using in-memory chunk store (%d dims)", cfg.EmbeddingDimensions)
		return chunkstore.NewMemoryStore(cfg.EmbeddingDimensions), func() {}, nil
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("connected to database")

	if migrate {
		if err := database.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return repository.NewChunkRepository(pool, cfg.EmbeddingDimensions), pool.Close, nil
}

func openAIConfig(cfg *config.Config) openai.Config {
	return openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.OpenAIEmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		ChatModel:           cfg.OpenAIChatModel,
	}
}

func newEmbedder(cfg *config.Config) (*openai.Client, error) {
	if !cfg.HasOpenAI() {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for embeddings")
	}
	return openai.NewClientWithConfig(openAIConfig(cfg)), nil
}

func newIngestService(cfg *config.Config, embedder service.EmbeddingClient, store service.ChunkStore, m service.Metrics) *service.IngestService {
	ingestCfg := service.DefaultIngestConfig()
	ingestCfg.Concurrency = cfg.IngestConcurrency
	ingestCfg.BatchSize = cfg.EmbedBatchSize
	return service.NewIngestService(embedder, store, ingestCfg, m)
}

func newBackend(ctx context.Context, cfg *config.Config) (service.GenerationBackend, error) {
	if cfg.UseBedrock() {
		backend, err := bedrock.NewBackend(ctx, bedrock.Config{
			Region:  cfg.BedrockRegion,
			ModelID: cfg.BedrockModelID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock backend: %w", err)
		}
		log.Printf("generation: bedrock model %s", cfg.BedrockModelID)
		return backend, nil
	}

	if !cfg.HasOpenAI() {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai generation provider")
	}
	log.Printf("generation: openai model %s", cfg.OpenAIChatModel)
	return openai.NewCompletionBackend(openAIConfig(cfg)), nil
}

// newEngine assembles the turn pipeline from cfg. The session manager is
// returned separately so the idle sweeper can share it.
func newEngine(cfg *config.Config, embedder service.EmbeddingClient, backend service.GenerationBackend, store service.ChunkStore, m service.Metrics) (*service.Engine, *service.SessionManager) {
	tokenizer := service.WordTokenizer{}
	sessions := service.NewSessionManager(cfg.MaxHistory, m)

	retrieverCfg := service.DefaultRetrieverConfig()
	retrieverCfg.MinScore = cfg.MinScore

	reconcilerCfg := service.DefaultReconcilerConfig()
	reconcilerCfg.GroundingThreshold = cfg.GroundingThreshold

	orchestratorCfg := service.DefaultOrchestratorConfig()
	orchestratorCfg.HistoryTurns = cfg.HistoryTurns
	orchestratorCfg.MaxPromptTokens = cfg.MaxPromptTokens
	orchestratorCfg.MaxRetries = cfg.MaxRetries
	orchestratorCfg.InitialInterval = cfg.RetryInitial

	engine := service.NewEngine(
		embedder,
		service.NewRetriever(store, retrieverCfg),
		service.NewAssembler(tokenizer, service.AssemblerConfig{MinViableTokens: cfg.MinContextTokens}),
		service.NewOrchestrator(backend, service.NewReconciler(reconcilerCfg), tokenizer, orchestratorCfg, m),
		sessions,
		service.EngineConfig{
			DefaultK:           cfg.DefaultK,
			DefaultTokenBudget: cfg.TokenBudget,
			DefaultTimeout:     cfg.TurnTimeout,
		},
		m,
	)
	return engine, sessions
}
