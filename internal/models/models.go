package models

import (
	"time"
)

// Source types accepted by the ingestion endpoint
const (
	SourceTypeCircular = "circular"
	SourceTypeNote     = "note"
	SourceTypeDecision = "decision"
	SourceTypeLaw      = "law"
	SourceTypeDecree   = "decree"
)

// LegalSource is one regulatory document, unique per (country_code, source_type, source_ref).
type LegalSource struct {
	ID          string     `db:"id" json:"id"`
	CountryCode string     `db:"country_code" json:"country_code"`
	SourceType  string     `db:"source_type" json:"source_type"`
	SourceRef   string     `db:"source_ref" json:"source_ref"`
	Title       string     `db:"title" json:"title,omitempty"`
	Issuer      string     `db:"issuer" json:"issuer,omitempty"`
	SourceDate  *time.Time `db:"source_date" json:"source_date,omitempty"`
	SourceURL   string     `db:"source_url" json:"source_url,omitempty"`
	FullText    string     `db:"full_text" json:"-"`
	Excerpt     string     `db:"excerpt" json:"excerpt,omitempty"`
	TotalPages  int        `db:"total_pages" json:"total_pages,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// TextChunk is one retrieval-sized slice of a LegalSource's text.
type TextChunk struct {
	ID          string    `db:"id" json:"id"`
	SourceID    string    `db:"source_id" json:"source_id"`
	ChunkIndex  int       `db:"chunk_index" json:"chunk_index"`
	Text        string    `db:"text" json:"text"`
	PageNumber  *int      `db:"page_number" json:"page_number,omitempty"`
	StartOffset int       `db:"start_offset" json:"start_offset"`
	EndOffset   int       `db:"end_offset" json:"end_offset"`
	TokenCount  int       `db:"token_count" json:"token_count"`
	Embedding   []float32 `db:"embedding" json:"-"` // pgvector column, nil when embedding failed
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PageText is the extracted text of one 1-based page.
type PageText struct {
	Number int    `json:"page_number"`
	Text   string `json:"text"`
}

// DetectedCode is a candidate classification code found in a page of text.
// HSCode6 and NationalCode are nil unless the digits validate at exactly that width.
type DetectedCode struct {
	Raw          string  `json:"raw"`
	HSCode6      *string `json:"hs_code_6,omitempty"`
	NationalCode *string `json:"national_code,omitempty"`
	PageNumber   int     `json:"page_number"`
	Context      string  `json:"context"`
}

// Evidence is a persisted (code, source, page, context) row.
type Evidence struct {
	ID           string    `db:"id" json:"id"`
	SourceID     string    `db:"source_id" json:"source_id"`
	CodeKey      string    `db:"code_key" json:"code_key"`
	HSCode6      string    `db:"hs_code_6" json:"hs_code_6"`
	NationalCode *string   `db:"national_code" json:"national_code,omitempty"`
	PageNumber   int       `db:"page_number" json:"page_number"`
	Context      string    `db:"context" json:"context"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// RateLimitEntry is the fixed-window counter of one client.
type RateLimitEntry struct {
	ClientID     string    `db:"client_id" json:"client_id"`
	Count        int       `db:"request_count" json:"request_count"`
	WindowStart  time.Time `db:"window_start" json:"window_start"`
	BlockedUntil time.Time `db:"blocked_until" json:"blocked_until,omitempty"` // zero when not blocked
}

// RateLimitPolicy is what a store needs to advance a RateLimitEntry by one request.
type RateLimitPolicy struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
}

// IngestRequest is the body of POST /api/ingest.
type IngestRequest struct {
	SourceType         string `json:"source_type" validate:"required,oneof=circular note decision law decree"`
	SourceRef          string `json:"source_ref" validate:"required,max=200"`
	PDFBase64          string `json:"pdf_base64,omitempty" validate:"required_without_all=PDFURL RawText"`
	PDFURL             string `json:"pdf_url,omitempty" validate:"omitempty,url"`
	RawText            string `json:"raw_text,omitempty"`
	Title              string `json:"title,omitempty"`
	Issuer             string `json:"issuer,omitempty"`
	SourceDate         string `json:"source_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	SourceURL          string `json:"source_url,omitempty" validate:"omitempty,url"`
	CountryCode        string `json:"country_code,omitempty" validate:"omitempty,len=2,alpha"`
	GenerateEmbeddings *bool  `json:"generate_embeddings,omitempty"`
	DetectHSCodes      *bool  `json:"detect_hs_codes,omitempty"`
	BatchMode          bool   `json:"batch_mode,omitempty"`
	StartPage          int    `json:"start_page,omitempty" validate:"omitempty,min=1"`
	EndPage            int    `json:"end_page,omitempty" validate:"omitempty,gtefield=StartPage"`
	SourceID           string `json:"source_id,omitempty" validate:"omitempty,uuid"`
}

// Defaults fills the documented defaults in place.
func (r *IngestRequest) Defaults() {
	if r.CountryCode == "" {
		r.CountryCode = "MA"
	}
	if r.GenerateEmbeddings == nil {
		t := true
		r.GenerateEmbeddings = &t
	}
	if r.DetectHSCodes == nil {
		t := true
		r.DetectHSCodes = &t
	}
}

// IngestResult is the body of a successful ingestion response.
type IngestResult struct {
	Success            bool   `json:"success"`
	SourceID           string `json:"source_id"`
	PagesProcessed     int    `json:"pages_processed"`
	ChunksCreated      int    `json:"chunks_created"`
	DetectedCodesCount int    `json:"detected_codes_count"`
	EvidenceCreated    int    `json:"evidence_created"`
	EmbeddingsFailed   int    `json:"embeddings_failed"`
	TotalPages         *int   `json:"total_pages,omitempty"`
	BatchStart         *int   `json:"batch_start,omitempty"`
	BatchEnd           *int   `json:"batch_end,omitempty"`
	HasMore            bool   `json:"has_more,omitempty"`
	Error              string `json:"error,omitempty"`
}
