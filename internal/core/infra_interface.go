package core

import (
	"context"
	"time"

	"github.com/markdave123-py/regkb/internal/models"
)

// DbClient defines all persistence operations the ingestion pipeline and API need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	// UpsertLegalSource inserts or updates on (country_code, source_type, source_ref) and sets src.ID.
	UpsertLegalSource(ctx context.Context, src *models.LegalSource) error
	// GetLegalSource returns nil, nil when the source does not exist.
	GetLegalSource(ctx context.Context, id string) (*models.LegalSource, error)
	// AppendSourceBatch appends text to full_text, separated by a blank line, and inserts
	// chunks in the same transaction.
	AppendSourceBatch(ctx context.Context, id, text string, totalPages int, chunks []models.TextChunk) error

	// ReplaceTextChunks deletes every chunk of the source and inserts chunks, in one transaction.
	ReplaceTextChunks(ctx context.Context, sourceID string, chunks []models.TextChunk) error
	// MaxChunkIndex returns -1 when the source has no chunks.
	MaxChunkIndex(ctx context.Context, sourceID string) (int, error)
	CountChunks(ctx context.Context, sourceID string) (int, error)

	// UpsertEvidence keeps the longer context on conflict and returns the number of inserted rows.
	UpsertEvidence(ctx context.Context, rows []models.Evidence) (int, error)
	DeleteEvidenceBySource(ctx context.Context, sourceID string) error
	ListEvidence(ctx context.Context, sourceID string) ([]models.Evidence, error)

	// HitRateLimit counts one request for clientID in a single atomic step and returns the entry
	// after the update. BlockedUntil after now means the request is denied.
	HitRateLimit(ctx context.Context, clientID string, now time.Time, p models.RateLimitPolicy) (models.RateLimitEntry, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It's abstract so you can replace AWS with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
