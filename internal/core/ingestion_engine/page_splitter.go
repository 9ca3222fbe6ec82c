package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/markdave123-py/regkb/internal/core"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
)

var _ core.DocumentSplitter = (*PdfcpuSplitter)(nil)

// PdfcpuSplitter counts and cuts PDF pages in process with pdfcpu.
type PdfcpuSplitter struct {
	conf *model.Configuration
}

func NewPdfcpuSplitter() *PdfcpuSplitter {
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PdfcpuSplitter{conf: conf}
}

// PageCount returns the number of pages; unreadable input is a validation error.
func (s *PdfcpuSplitter) PageCount(ctx context.Context, pdf []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := api.PageCount(bytes.NewReader(pdf), s.conf)
	if err != nil {
		return 0, perr.Wrap(err, perr.ErrorCodeValidation, "unreadable pdf")
	}
	return n, nil
}

// ExtractRange returns a new PDF holding pages from..to (1-based, inclusive).
func (s *PdfcpuSplitter) ExtractRange(ctx context.Context, pdf []byte, from, to int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if from < 1 || to < from {
		return nil, perr.Validationf("invalid page range %d-%d", from, to)
	}
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(pdf), &out, []string{fmt.Sprintf("%d-%d", from, to)}, s.conf); err != nil {
		return nil, fmt.Errorf("pdf trim %d-%d: %w", from, to, err)
	}
	return out.Bytes(), nil
}
