package app

import (
	"context"
	"fmt"
	"time"

	"github.com/markdave123-py/regkb/internal/config"
	"github.com/markdave123-py/regkb/internal/core"
	db "github.com/markdave123-py/regkb/internal/core/database"
	"github.com/markdave123-py/regkb/internal/core/ingestion_engine"
	"github.com/markdave123-py/regkb/internal/core/llm"
	objectclient "github.com/markdave123-py/regkb/internal/core/object-client"
	"github.com/markdave123-py/regkb/internal/core/ratelimit"
	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

type App struct {
	DBClient *db.DatabaseClient
	Ingestor *ingestion_engine.DocumentIngestor
	Breakers *resilience.Breakers
	Server   *Server

	closers []func() error
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	log := logger.Named("app")

	a := &App{}
	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	log.Info().Msg("database initialized and ready")

	var objects core.ObjectClient
	if cfg.ObjectStorageEnabled() {
		s3c, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		objects = s3c
	} else {
		log.Warn().Msg("object storage not configured, archiving and s3:// sources disabled")
	}

	caller := resilience.NewCaller()
	a.Breakers = resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
		HalfOpenMaxCalls: resilience.DefaultBreakerConfig.HalfOpenMaxCalls,
	})

	local := ingestion_engine.NewDocconvExtractor(false)
	var extractor core.PageExtractor = local
	var embedder core.EmbeddingProvider
	var llmProvider core.LLMProvider

	if cfg.AIAPIKey != "" {
		geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		a.closers = append(a.closers, geminiEmbedder.Close)
		embedder = geminiEmbedder

		geminiLLM, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("couldn't initialize the llm, %w", err)
		}
		a.closers = append(a.closers, geminiLLM.Close)
		llmProvider = geminiLLM
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, embeddings and metadata inference disabled")
	}

	if cfg.ExtractionBackend == "gemini" {
		extractor = llm.NewGeminiPageExtractor(
			caller,
			resilience.Preset(resilience.PresetExtraction, resilience.WithTimeout(cfg.ExtractionTimeout)),
			cfg.AIAPIKey, cfg.GenModel, cfg.ExtractionEndpoint,
		)
	}
	log.Info().Str("backend", cfg.ExtractionBackend).Int("page_cap", cfg.PageCap).Msg("extraction configured")

	ingCfg := ingestion_engine.DefaultIngestConfig()
	ingCfg.PageCap = cfg.PageCap
	ingCfg.MaxPagesPerInvocation = cfg.MaxPagesPerInvocation
	ingCfg.MaxPayloadBytes = cfg.MaxPayloadBytes
	ingCfg.InvocationTimeout = cfg.InvocationTimeout
	ingCfg.InferMetadata = cfg.InferMetadata
	ingCfg.ArchivePrefix = cfg.ArchivePrefix
	if objects != nil {
		ingCfg.ArchiveBucket = cfg.BucketName
	}

	a.Ingestor = ingestion_engine.NewDocumentIngestor(ingestion_engine.Deps{
		DB:        dbClient,
		Objects:   objects,
		Splitter:  ingestion_engine.NewPdfcpuSplitter(),
		Extractor: extractor,
		Converter: local,
		Embedder:  embedder,
		LLM:       llmProvider,
		Caller:    caller,
		Breakers:  a.Breakers,
	}, ingCfg)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests:   cfg.RateLimitRequests,
		Window:        cfg.RateLimitWindow,
		BlockDuration: cfg.RateLimitBlock,
	}, dbClient)

	a.Server = NewServer(cfg, dbClient, a.Ingestor, a.Breakers, limiter)
	return a, nil
}

// Close releases clients in reverse order of creation
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Named("app").Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
