package ingestion_engine

import (
	"time"

	"github.com/markdave123-py/regkb/internal/core"
	"github.com/markdave123-py/regkb/internal/core/hscode"
	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

// Breaker names guarding the external dependencies of the pipeline.
const (
	BreakerExtraction = "extraction"
	BreakerEmbedding  = "embedding"
	BreakerMetadata   = "metadata"
)

// IngestConfig tunes the pipeline.
//
// PageCap:               max pages sent to the extractor in one call.
// MaxPagesPerInvocation: max pages one non-batch invocation processes; the rest is left to batch mode.
// MaxPayloadBytes:       upper bound for fetched or decoded documents.
// InvocationTimeout:     ceiling for one Ingest call; 0 leaves the caller's deadline alone.
// InferMetadata:         ask the LLM for missing title/issuer/date on non-batch ingests.
// ArchiveBucket:         when set with an object client, original payloads are archived there.
type IngestConfig struct {
	PageCap               int
	MaxPagesPerInvocation int
	MaxPayloadBytes       int64
	InvocationTimeout     time.Duration
	InferMetadata         bool
	ArchiveBucket         string
	ArchivePrefix         string
	ExcerptLength         int
	EmbedConcurrency      int

	Chunk     ChunkConfig
	Fetch     resilience.Config
	Embedding resilience.Config
	Metadata  resilience.Config
	Store     resilience.Config
}

// DefaultIngestConfig returns the production defaults.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		PageCap:               5,
		MaxPagesPerInvocation: 50,
		MaxPayloadBytes:       50 << 20,
		InvocationTimeout:     5 * time.Minute,
		InferMetadata:         true,
		ArchivePrefix:         "sources/",
		ExcerptLength:         500,
		EmbedConcurrency:      4,
		Chunk:                 DefaultChunkConfig(),
		Fetch:                 resilience.Preset(resilience.PresetExtraction, resilience.WithTimeout(30*time.Second)),
		Embedding:             resilience.Preset(resilience.PresetEmbedding),
		Metadata:              resilience.Preset(resilience.PresetMetadataLLM),
		Store:                 resilience.Preset(resilience.PresetMetadataStore),
	}
}

func (c IngestConfig) normalized() IngestConfig {
	def := DefaultIngestConfig()
	if c.PageCap <= 0 {
		c.PageCap = def.PageCap
	}
	if c.MaxPagesPerInvocation <= 0 {
		c.MaxPagesPerInvocation = def.MaxPagesPerInvocation
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if c.ExcerptLength <= 0 {
		c.ExcerptLength = def.ExcerptLength
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = def.EmbedConcurrency
	}
	return c
}

// Deps are the collaborators of DocumentIngestor.
//
// DB, Splitter, Extractor and Caller are required. Converter handles non-PDF payloads,
// Embedder and LLM are optional best-effort services, Objects enables s3:// URLs and archiving.
type Deps struct {
	DB        core.DbClient
	Objects   core.ObjectClient
	Splitter  core.DocumentSplitter
	Extractor core.PageExtractor
	Converter core.TextConverter
	Embedder  core.EmbeddingProvider
	LLM       core.LLMProvider
	Caller    *resilience.Caller
	Breakers  *resilience.Breakers
}

// DocumentIngestor runs ingestion requests to completion, one at a time per call:
//
// deps:     storage, extraction and AI collaborators.
// detector: code scanner run on every page.
// chunker:  splits assembled pages into chunks.
// cfg:      runtime tuning knobs for the pipeline.
type DocumentIngestor struct {
	deps     Deps
	detector *hscode.Detector
	chunker  *Chunker
	cfg      IngestConfig
	log      *logger.Logger
}
