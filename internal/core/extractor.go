package core

import (
	"context"

	"github.com/markdave123-py/regkb/internal/models"
)

// PageExtractor extracts page-indexed text from a PDF of pageCount pages.
// Returned page numbers are 1-based within that PDF.
type PageExtractor interface {
	ExtractPages(ctx context.Context, pdf []byte, pageCount int) ([]models.PageText, error)
}

// DocumentSplitter counts the pages of a PDF and cuts page ranges out of it.
type DocumentSplitter interface {
	PageCount(ctx context.Context, pdf []byte) (int, error)
	ExtractRange(ctx context.Context, pdf []byte, from, to int) ([]byte, error)
}

// TextConverter extracts the text of non-PDF documents (docx, html, ...).
// The `contentType` hint helps the converter choose the right parsing strategy.
type TextConverter interface {
	ConvertText(ctx context.Context, data []byte, contentType string) (string, error)
}
