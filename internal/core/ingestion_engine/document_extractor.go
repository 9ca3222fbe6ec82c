package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/regkb/internal/core"
	"github.com/markdave123-py/regkb/internal/models"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

var (
	_ core.PageExtractor = (*DocconvExtractor)(nil)
	_ core.TextConverter = (*DocconvExtractor)(nil)
)

// DocconvExtractor extracts text locally with sajari/docconv. It serves as the
// PageExtractor when no extraction service is configured and converts non-PDF payloads.
type DocconvExtractor struct {
	useReadability bool
	convert        func(data []byte, contentType string, readability bool) (string, error)
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability, convert: docconvBody}
}

func docconvBody(data []byte, contentType string, readability bool) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), contentType, readability)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

// ExtractPages converts the PDF and splits the text on form feeds, which pdftotext emits
// between pages. When the converter yields fewer sections, the text lands on page 1.
func (e *DocconvExtractor) ExtractPages(ctx context.Context, pdf []byte, pageCount int) ([]models.PageText, error) {
	text, err := e.ConvertText(ctx, pdf, "application/pdf")
	if err != nil {
		return nil, err
	}

	pages := splitFormFeed(text)
	if pageCount > 0 && len(pages) > pageCount {
		last := pages[pageCount-1]
		for _, extra := range pages[pageCount:] {
			last.Text += "\n\n" + extra.Text
		}
		pages = append(pages[:pageCount-1], last)
	}
	return pages, nil
}

// ConvertText uses docconv to extract the text of data based on content type.
func (e *DocconvExtractor) ConvertText(ctx context.Context, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := e.convert(data, contentType, e.useReadability)
	if err != nil {
		return "", fmt.Errorf("docconv: extraction failed for content type '%s': %w", contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		logger.C(ctx).Warn().Str("content_type", contentType).Msg("docconv: extracted empty text")
	}
	return text, nil
}
