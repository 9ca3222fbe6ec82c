package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/markdave123-py/regkb/internal/core"
	"github.com/markdave123-py/regkb/internal/models"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
)

// SourceView is a legal source as returned by the read endpoints
type SourceView struct {
	*models.LegalSource
	ChunkCount int `json:"chunk_count"`
}

type SourceService struct {
	db core.DbClient
}

func NewSourceService(db core.DbClient) *SourceService {
	return &SourceService{db: db}
}

func (s *SourceService) Get(ctx context.Context, id string) (*SourceView, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	src, err := s.db.GetLegalSource(ctx, id)
	if err != nil {
		return nil, perr.FromPostgres(err, "load legal source")
	}
	if src == nil {
		return nil, perr.NotFoundf("legal source %s not found", id)
	}
	n, err := s.db.CountChunks(ctx, id)
	if err != nil {
		return nil, perr.FromPostgres(err, "count chunks")
	}
	return &SourceView{LegalSource: src, ChunkCount: n}, nil
}

// Evidence lists the evidence of a source, failing with NotFound for an unknown source
func (s *SourceService) Evidence(ctx context.Context, id string) ([]models.Evidence, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	src, err := s.db.GetLegalSource(ctx, id)
	if err != nil {
		return nil, perr.FromPostgres(err, "load legal source")
	}
	if src == nil {
		return nil, perr.NotFoundf("legal source %s not found", id)
	}
	rows, err := s.db.ListEvidence(ctx, id)
	if err != nil {
		return nil, perr.FromPostgres(err, "list evidence")
	}
	if rows == nil {
		rows = []models.Evidence{}
	}
	return rows, nil
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return perr.WithField(perr.Validationf("source id must be a uuid"), "id")
	}
	return nil
}
