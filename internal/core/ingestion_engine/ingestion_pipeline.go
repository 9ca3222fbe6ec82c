package ingestion_engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/regkb/internal/core/hscode"
	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/models"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

var _ Ingestor = (*DocumentIngestor)(nil)

// NewDocumentIngestor constructs the ingestor. Missing Caller/Breakers get defaults.
func NewDocumentIngestor(deps Deps, cfg IngestConfig) *DocumentIngestor {
	if deps.Caller == nil {
		deps.Caller = resilience.NewCaller()
	}
	if deps.Breakers == nil {
		deps.Breakers = resilience.NewBreakers(resilience.DefaultBreakerConfig)
	}
	return &DocumentIngestor{
		deps:     deps,
		detector: hscode.NewDetector(),
		chunker:  NewChunker(cfg.Chunk),
		cfg:      cfg.normalized(),
		log:      logger.Named("ingestion"),
	}
}

// pageRange is an inclusive 1-based range
type pageRange struct{ from, to int }

func (r pageRange) len() int { return r.to - r.from + 1 }

// splitRanges cuts r into consecutive ranges of at most size pages.
func splitRanges(r pageRange, size int) []pageRange {
	var out []pageRange
	for from := r.from; from <= r.to; from += size {
		out = append(out, pageRange{from, min(from+size-1, r.to)})
	}
	return out
}

// Ingest runs one invocation: resolve, extract, assemble, chunk, detect, persist.
// Batch mode appends pages start_page..end_page to an existing source.
func (i *DocumentIngestor) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	req.Defaults()
	if err := validateBatch(&req); err != nil {
		return nil, err
	}
	if i.cfg.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = resilience.WithBudget(ctx, i.cfg.InvocationTimeout)
		defer cancel()
	}

	log := logger.C(ctx).With().
		Str("component", "ingestion").
		Str("source_ref", req.SourceRef).
		Bool("batch", req.BatchMode).
		Logger()
	start := time.Now()

	var existing *models.LegalSource
	if req.BatchMode {
		src, err := i.deps.DB.GetLegalSource(ctx, req.SourceID)
		if err != nil {
			return nil, perr.FromPostgres(err, "load source")
		}
		if src == nil {
			return nil, perr.WithField(perr.NotFoundf("source %s not found", req.SourceID), "source_id")
		}
		existing = src
	}

	pl, err := i.resolvePayload(ctx, &req)
	if err != nil {
		return nil, err
	}

	pages, total, rng, err := i.acquirePages(ctx, &req, pl)
	if err != nil {
		return nil, err
	}
	log.Info().Int("total_pages", total).Int("from", rng.from).Int("to", rng.to).Msg("pages extracted")

	full, assembled := AssemblePages(pages)

	res := &models.IngestResult{
		PagesProcessed: rng.len(),
		TotalPages:     &total,
	}
	if req.BatchMode || rng.to < total {
		res.BatchStart, res.BatchEnd = &rng.from, &rng.to
		res.HasMore = rng.to < total
	}

	if req.BatchMode {
		err = i.persistBatch(ctx, &req, existing, full, assembled, total, res)
	} else {
		err = i.persistSource(ctx, &req, pl, full, assembled, total, res)
	}
	if err != nil {
		log.Error().Err(err).Msg("ingestion failed")
		return nil, err
	}

	res.Success = true
	log.Info().
		Str("source_id", res.SourceID).
		Int("chunks", res.ChunksCreated).
		Int("codes", res.DetectedCodesCount).
		Int("evidence", res.EvidenceCreated).
		Int("embeddings_failed", res.EmbeddingsFailed).
		Dur("took", time.Since(start)).
		Msg("ingestion done")
	return res, nil
}

func validateBatch(req *models.IngestRequest) error {
	if !req.BatchMode {
		if req.StartPage != 0 || req.EndPage != 0 || req.SourceID != "" {
			return perr.Validationf("start_page, end_page and source_id require batch_mode")
		}
		return nil
	}
	switch {
	case req.SourceID == "":
		return perr.WithField(perr.Validationf("batch mode requires source_id"), "source_id")
	case req.StartPage < 1:
		return perr.WithField(perr.Validationf("batch mode requires start_page >= 1"), "start_page")
	case req.EndPage < req.StartPage:
		return perr.WithField(perr.Validationf("batch mode requires end_page >= start_page"), "end_page")
	}
	return nil
}

// acquirePages returns the pages of the selected range, the document's total page count
// and the range itself.
func (i *DocumentIngestor) acquirePages(ctx context.Context, req *models.IngestRequest, pl payload) ([]Page, int, pageRange, error) {
	switch {
	case pl.pages != nil:
		total := len(pl.pages)
		rng, err := i.selectRange(req, total)
		if err != nil {
			return nil, 0, rng, err
		}
		return pl.pages[rng.from-1 : rng.to], total, rng, nil

	case pl.isPDF():
		total, err := i.deps.Splitter.PageCount(ctx, pl.data)
		if err != nil {
			return nil, 0, pageRange{}, err
		}
		if total == 0 {
			return nil, 0, pageRange{}, perr.Validationf("document has no pages")
		}
		rng, err := i.selectRange(req, total)
		if err != nil {
			return nil, 0, rng, err
		}
		pages, err := i.extractRange(ctx, pl.data, total, rng)
		return pages, total, rng, err

	default:
		if i.deps.Converter == nil {
			return nil, 0, pageRange{}, perr.Validationf("unsupported content type %q", pl.contentType)
		}
		text, err := i.deps.Converter.ConvertText(ctx, pl.data, pl.contentType)
		if err != nil {
			return nil, 0, pageRange{}, perr.Wrapf(err, perr.ErrorCodeMalformed, "convert %s", pl.contentType)
		}
		rng, err := i.selectRange(req, 1)
		if err != nil {
			return nil, 0, rng, err
		}
		return []Page{{Number: 1, Text: text}}, 1, rng, nil
	}
}

// selectRange validates a batch range against total, or picks the first window of a
// non-batch invocation. Ranges are never coerced into bounds.
func (i *DocumentIngestor) selectRange(req *models.IngestRequest, total int) (pageRange, error) {
	if !req.BatchMode {
		return pageRange{1, min(total, i.cfg.MaxPagesPerInvocation)}, nil
	}
	if req.EndPage > total {
		return pageRange{}, perr.WithField(
			perr.Validationf("page range %d-%d is outside a document of %d pages", req.StartPage, req.EndPage, total),
			"end_page")
	}
	return pageRange{req.StartPage, req.EndPage}, nil
}

// extractRange extracts rng sequentially in sub-documents of at most PageCap pages.
// A whole document that fits the cap is sent as is.
func (i *DocumentIngestor) extractRange(ctx context.Context, pdf []byte, total int, rng pageRange) ([]Page, error) {
	if rng.from == 1 && rng.to == total && total <= i.cfg.PageCap {
		return i.extractOne(ctx, pdf, rng)
	}

	var pages []Page
	for _, sub := range splitRanges(rng, i.cfg.PageCap) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := i.deps.Splitter.ExtractRange(ctx, pdf, sub.from, sub.to)
		if err != nil {
			return nil, err
		}
		got, err := i.extractOne(ctx, part, sub)
		if err != nil {
			return nil, err
		}
		pages = append(pages, got...)
	}
	return pages, nil
}

// extractOne sends one sub-document through the extraction breaker and maps the returned
// page numbers back to document pages. Pages the extractor skipped come back empty.
func (i *DocumentIngestor) extractOne(ctx context.Context, pdf []byte, sub pageRange) ([]Page, error) {
	var got []models.PageText
	err := i.deps.Breakers.Wrap(ctx, BreakerExtraction, func(ctx context.Context) error {
		var err error
		got, err = i.deps.Extractor.ExtractPages(ctx, pdf, sub.len())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("extract pages %d-%d: %w", sub.from, sub.to, err)
	}

	byNumber := make(map[int]string, len(got))
	for _, p := range got {
		if p.Number >= 1 && p.Number <= sub.len() {
			byNumber[p.Number] += p.Text
		}
	}
	pages := make([]Page, 0, sub.len())
	for n := 1; n <= sub.len(); n++ {
		text, ok := byNumber[n]
		if !ok {
			logger.C(ctx).Warn().Int("page", sub.from+n-1).Msg("extractor returned no text for page")
		}
		pages = append(pages, Page{Number: sub.from + n - 1, Text: text})
	}
	return pages, nil
}

// persistSource upserts the source and replaces its chunks and evidence.
func (i *DocumentIngestor) persistSource(
	ctx context.Context,
	req *models.IngestRequest,
	pl payload,
	full string,
	pages []AssembledPage,
	total int,
	res *models.IngestResult,
) error {
	src := &models.LegalSource{
		CountryCode: strings.ToUpper(req.CountryCode),
		SourceType:  req.SourceType,
		SourceRef:   req.SourceRef,
		Title:       req.Title,
		Issuer:      req.Issuer,
		SourceURL:   firstNonEmpty(req.SourceURL, req.PDFURL),
		FullText:    full,
		Excerpt:     excerpt(pages, i.cfg.ExcerptLength),
		TotalPages:  total,
	}
	if req.SourceDate != "" {
		d, err := time.Parse(time.DateOnly, req.SourceDate)
		if err != nil {
			return perr.WithField(perr.Wrap(err, perr.ErrorCodeValidation, "invalid source_date"), "source_date")
		}
		src.SourceDate = &d
	}
	i.inferMetadata(ctx, src, pages)

	archived, err := i.archive(ctx, src, pl)
	if err != nil {
		return err
	}
	cleanup := func() {
		if archived != "" {
			if derr := i.deps.Objects.DeleteFile(context.WithoutCancel(ctx), i.cfg.ArchiveBucket, archived); derr != nil {
				logger.C(ctx).Warn().Err(derr).Str("key", archived).Msg("archive cleanup failed")
			}
		}
	}

	if err := i.store(ctx, "upsert source", func(ctx context.Context) error {
		return i.deps.DB.UpsertLegalSource(ctx, src)
	}); err != nil {
		cleanup()
		return err
	}
	res.SourceID = src.ID

	chunks := i.buildChunks(ctx, req, src.ID, pages, 0, 0, res)
	if err := i.store(ctx, "replace chunks", func(ctx context.Context) error {
		return i.deps.DB.ReplaceTextChunks(ctx, src.ID, chunks)
	}); err != nil {
		return err
	}
	res.ChunksCreated = len(chunks)

	if err := i.store(ctx, "reset evidence", func(ctx context.Context) error {
		return i.deps.DB.DeleteEvidenceBySource(ctx, src.ID)
	}); err != nil {
		return err
	}
	return i.persistEvidence(ctx, req, src.ID, pages, res)
}

// persistBatch appends text, chunks and evidence to an existing source. Text and chunks
// commit together; evidence follows in its own statement. Chunk indices continue after
// the current maximum; concurrent batches for one source are not safe.
func (i *DocumentIngestor) persistBatch(
	ctx context.Context,
	req *models.IngestRequest,
	src *models.LegalSource,
	full string,
	pages []AssembledPage,
	total int,
	res *models.IngestResult,
) error {
	res.SourceID = src.ID

	base := 0
	if src.FullText != "" {
		base = utf8.RuneCountInString(src.FullText) + 2
	}

	var maxIdx int
	if err := i.store(ctx, "max chunk index", func(ctx context.Context) error {
		var err error
		maxIdx, err = i.deps.DB.MaxChunkIndex(ctx, src.ID)
		return err
	}); err != nil {
		return err
	}

	chunks := i.buildChunks(ctx, req, src.ID, pages, maxIdx+1, base, res)

	// not retried: a timed out commit may have landed, and an empty batch has no chunk key to collide on
	if err := i.deps.DB.AppendSourceBatch(ctx, src.ID, full, total, chunks); err != nil {
		return perr.FromPostgres(err, "append batch")
	}
	res.ChunksCreated = len(chunks)

	return i.persistEvidence(ctx, req, src.ID, pages, res)
}

// buildChunks chunks pages, numbers them from firstIndex and embeds them best effort.
// base shifts offsets when the text is appended after existing text.
func (i *DocumentIngestor) buildChunks(
	ctx context.Context,
	req *models.IngestRequest,
	sourceID string,
	pages []AssembledPage,
	firstIndex, base int,
	res *models.IngestResult,
) []models.TextChunk {
	drafts := i.chunker.Chunk(pages)

	chunks := make([]models.TextChunk, len(drafts))
	for n, d := range drafts {
		page := d.PageNumber
		chunks[n] = models.TextChunk{
			ID:          uuid.NewString(),
			SourceID:    sourceID,
			ChunkIndex:  firstIndex + n,
			Text:        d.Text,
			PageNumber:  &page,
			StartOffset: base + d.StartOffset,
			EndOffset:   base + d.EndOffset,
			TokenCount:  d.TokenCount,
		}
	}

	if *req.GenerateEmbeddings && i.deps.Embedder != nil {
		res.EmbeddingsFailed += i.embedAll(ctx, chunks)
	}
	return chunks
}

// embedAll embeds chunks in place with at most EmbedConcurrency calls in flight.
// A failed chunk keeps a nil embedding; the number of failures is returned.
func (i *DocumentIngestor) embedAll(ctx context.Context, chunks []models.TextChunk) int {
	var failed atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(i.cfg.EmbedConcurrency)

	for n := range chunks {
		ch := &chunks[n]
		g.Go(func() error {
			vec, err := i.embed(ctx, ch.Text)
			if err != nil {
				failed.Add(1)
				logger.C(ctx).Warn().Err(err).Int("chunk_index", ch.ChunkIndex).Msg("embedding failed, storing null")
				return nil
			}
			ch.Embedding = vec
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}

func (i *DocumentIngestor) embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := i.deps.Breakers.Wrap(ctx, BreakerEmbedding, func(ctx context.Context) error {
		return i.deps.Caller.Run(ctx, BreakerEmbedding, i.cfg.Embedding, func(ctx context.Context) error {
			v, err := i.deps.Embedder.EmbedText(ctx, text)
			if err != nil {
				return err
			}
			if len(v) == 0 {
				return perr.Malformedf("empty embedding")
			}
			vec = v
			return nil
		})
	})
	return vec, err
}

// persistEvidence detects codes per page, dedupes them and stores those with a valid hs6.
func (i *DocumentIngestor) persistEvidence(
	ctx context.Context,
	req *models.IngestRequest,
	sourceID string,
	pages []AssembledPage,
	res *models.IngestResult,
) error {
	if !*req.DetectHSCodes {
		return nil
	}

	var found []models.DetectedCode
	for _, p := range pages {
		found = append(found, i.detector.Detect(p.Number, p.Body)...)
	}
	codes := hscode.Dedupe(found)
	res.DetectedCodesCount = len(codes)

	rows := make([]models.Evidence, 0, len(codes))
	for _, c := range codes {
		if c.HSCode6 == nil {
			continue
		}
		rows = append(rows, models.Evidence{
			ID:           uuid.NewString(),
			SourceID:     sourceID,
			CodeKey:      hscode.Key(c),
			HSCode6:      *c.HSCode6,
			NationalCode: c.NationalCode,
			PageNumber:   c.PageNumber,
			Context:      c.Context,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	return i.store(ctx, "upsert evidence", func(ctx context.Context) error {
		n, err := i.deps.DB.UpsertEvidence(ctx, rows)
		res.EvidenceCreated = n
		return err
	})
}

// store runs a metadata-store write with the metadata_store retry preset.
func (i *DocumentIngestor) store(ctx context.Context, op string, fn func(context.Context) error) error {
	err := i.deps.Caller.Run(ctx, resilience.PresetMetadataStore, i.cfg.Store, fn)
	if err != nil {
		if _, ok := perr.As(err); ok {
			return err
		}
		return perr.FromPostgres(err, op)
	}
	return nil
}

// archive uploads the original document and returns its key. The archive URL becomes
// source_url when the request gave none.
func (i *DocumentIngestor) archive(ctx context.Context, src *models.LegalSource, pl payload) (string, error) {
	if i.deps.Objects == nil || i.cfg.ArchiveBucket == "" || pl.data == nil {
		return "", nil
	}
	key := archiveKey(i.cfg.ArchivePrefix, src, pl.contentType)
	url, err := i.deps.Objects.UploadFile(ctx, i.cfg.ArchiveBucket, key, pl.data, pl.contentType)
	if err != nil {
		return "", perr.Wrap(err, perr.ErrorCodeUnavailable, "archive document")
	}
	if src.SourceURL == "" {
		src.SourceURL = url
	}
	return key, nil
}

func archiveKey(prefix string, src *models.LegalSource, contentType string) string {
	ext := ".bin"
	if contentType == contentTypePDF {
		ext = ".pdf"
	}
	ref := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, src.SourceRef)
	return fmt.Sprintf("%s%s/%s/%s%s", prefix, strings.ToLower(src.CountryCode), src.SourceType, ref, ext)
}

// excerpt is the first n runes of the assembled bodies, cut at a word boundary.
func excerpt(pages []AssembledPage, n int) string {
	var b strings.Builder
	for _, p := range pages {
		if p.Body == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(p.Body)
		if utf8.RuneCountInString(b.String()) >= n {
			break
		}
	}
	s := strings.Join(strings.Fields(b.String()), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if sp := strings.LastIndex(cut, " "); sp > n/2 {
		cut = cut[:sp]
	}
	return cut + "…"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
