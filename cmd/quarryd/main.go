package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbellec/quarry/internal/auth"
	"github.com/mbellec/quarry/internal/config"
	"github.com/mbellec/quarry/internal/embedder"
	"github.com/mbellec/quarry/internal/llm"
	"github.com/mbellec/quarry/internal/memory"
	"github.com/mbellec/quarry/internal/repository"
	"github.com/mbellec/quarry/internal/repository/postgres"
	"github.com/mbellec/quarry/internal/retrieval"
	"github.com/mbellec/quarry/internal/server"
	"github.com/mbellec/quarry/internal/service"
	"github.com/mbellec/quarry/internal/vectorstore"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting retrieval service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// Initialize PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	slog.Info("connected to PostgreSQL")

	// Initialize repositories
	docRepo := postgres.NewDocumentRepository(pool)
	promptRepo := postgres.NewPromptRepository(pool)
	userRepo := postgres.NewUserRepository(pool)

	// Initialize Qdrant vector store
	store, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer store.Close()
	slog.Info("connected to Qdrant", "collection", cfg.QdrantCollection)

	// Initialize Ollama embedder
	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	// Initialize Ollama LLM with bounded in-flight calls
	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
		llm.WithContextChars(cfg.ContextChars),
		llm.WithConcurrency(cfg.LLMConcurrency),
	)
	slog.Info("initialized Ollama LLM",
		"model", cfg.OllamaLLMModel,
		"concurrency", cfg.LLMConcurrency,
	)

	// Assemble the retrieval pipeline
	rcfg := retrievalConfig(cfg)
	router := retrieval.NewRouter(llmClient, rcfg, slog.Default())
	retriever := retrieval.NewRetriever(docRepo, embed, llmClient, store, rcfg, slog.Default())
	judge := retrieval.NewJudge(llmClient, promptRepo, rcfg, slog.Default())
	packer := retrieval.NewPacker(llmClient)
	engine := retrieval.NewEngine(router, retriever, judge, packer, rcfg, slog.Default())

	// Answer assembly and auth
	sessions := memory.NewStore(cfg.SessionMaxTurns, cfg.SessionTTL)
	chatSvc := service.NewChatService(engine, llmClient, promptRepo, docRepo, sessions, slog.Default())
	docSvc := service.NewDocumentService(docRepo)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
		Chat:           chatSvc,
		Documents:      docSvc,
		Users:          userRepo,
		JWT:            jwtManager,
		ReadyChk:       pool.Ping,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

func retrievalConfig(cfg *config.Config) retrieval.Config {
	rcfg := retrieval.DefaultConfig()
	rcfg.GlobalLimit = cfg.GlobalSearchLimit
	rcfg.SpecificLimit = cfg.SpecificSearchLimit
	rcfg.RewriteThreshold = cfg.RewriteThreshold
	rcfg.JudgeBatchSize = cfg.JudgeBatchSize
	rcfg.JudgePoolCap = cfg.JudgePoolCap
	rcfg.JudgePreviewChars = cfg.JudgePreviewChars
	rcfg.JudgeThreshold = cfg.JudgeThreshold
	rcfg.SpecificMaxItems = cfg.SpecificMaxItems
	rcfg.LLMTimeout = cfg.LLMTimeout
	return rcfg
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.DocumentRepository = (*postgres.DocumentRepository)(nil)
	_ repository.PromptRepository   = (*postgres.PromptRepository)(nil)
	_ repository.UserRepository     = (*postgres.UserRepository)(nil)
	_ vectorstore.Store             = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder             = (*embedder.OllamaEmbedder)(nil)
	_ llm.LLM                       = (*llm.OllamaClient)(nil)
	_ retrieval.DocumentResolver    = (*postgres.DocumentRepository)(nil)
	_ retrieval.ContextLimiter      = (*llm.OllamaClient)(nil)
	_ service.Engine                = (*retrieval.Engine)(nil)
)
