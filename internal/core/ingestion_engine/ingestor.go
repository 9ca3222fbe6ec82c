package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/regkb/internal/models"
)

type Ingestor interface {
	Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error)
}
