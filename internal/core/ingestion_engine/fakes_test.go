package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/regkb/internal/core/ratelimit"
	"github.com/markdave123-py/regkb/internal/models"
)

// memDB is an in-memory core.DbClient
type memDB struct {
	mu       sync.Mutex
	sources  map[string]*models.LegalSource
	chunks   map[string][]models.TextChunk
	evidence map[string]map[string]models.Evidence
	limits   map[string]models.RateLimitEntry

	appendErr error
}

func newMemDB() *memDB {
	return &memDB{
		sources:  map[string]*models.LegalSource{},
		chunks:   map[string][]models.TextChunk{},
		evidence: map[string]map[string]models.Evidence{},
		limits:   map[string]models.RateLimitEntry{},
	}
}

func (m *memDB) UpsertLegalSource(_ context.Context, src *models.LegalSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sources {
		if s.CountryCode == src.CountryCode && s.SourceType == src.SourceType && s.SourceRef == src.SourceRef {
			src.ID = id
		}
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	cp := *src
	m.sources[src.ID] = &cp
	return nil
}

func (m *memDB) GetLegalSource(_ context.Context, id string) (*models.LegalSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memDB) AppendSourceBatch(_ context.Context, id, text string, totalPages int, chunks []models.TextChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	s, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %s not found", id)
	}
	if s.FullText == "" {
		s.FullText = text
	} else {
		s.FullText += "\n\n" + text
	}
	s.TotalPages = totalPages
	for _, c := range chunks {
		m.chunks[c.SourceID] = append(m.chunks[c.SourceID], c)
	}
	return nil
}

func (m *memDB) ReplaceTextChunks(_ context.Context, sourceID string, chunks []models.TextChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[sourceID] = append([]models.TextChunk(nil), chunks...)
	return nil
}

// seedChunks stores chunks as if an earlier invocation had written them
func (m *memDB) seedChunks(chunks []models.TextChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.SourceID] = append(m.chunks[c.SourceID], c)
	}
}

func (m *memDB) MaxChunkIndex(_ context.Context, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hi := -1
	for _, c := range m.chunks[sourceID] {
		if c.ChunkIndex > hi {
			hi = c.ChunkIndex
		}
	}
	return hi, nil
}

func (m *memDB) CountChunks(_ context.Context, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[sourceID]), nil
}

func (m *memDB) UpsertEvidence(_ context.Context, rows []models.Evidence) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, r := range rows {
		bySource := m.evidence[r.SourceID]
		if bySource == nil {
			bySource = map[string]models.Evidence{}
			m.evidence[r.SourceID] = bySource
		}
		cur, ok := bySource[r.CodeKey]
		switch {
		case !ok:
			bySource[r.CodeKey] = r
			inserted++
		case len(r.Context) > len(cur.Context):
			r.ID = cur.ID
			bySource[r.CodeKey] = r
		}
	}
	return inserted, nil
}

func (m *memDB) DeleteEvidenceBySource(_ context.Context, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.evidence, sourceID)
	return nil
}

func (m *memDB) ListEvidence(_ context.Context, sourceID string) ([]models.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Evidence
	for _, e := range m.evidence[sourceID] {
		out = append(out, e)
	}
	return out, nil
}

func (m *memDB) HitRateLimit(_ context.Context, clientID string, now time.Time, p models.RateLimitPolicy) (models.RateLimitEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.limits[clientID]
	e = ratelimit.Advance(e, ok, clientID, now, p)
	m.limits[clientID] = e
	return e, nil
}

func (m *memDB) Close() error { return nil }

// fakeSplitter pretends every payload has `pages` pages; a cut range is encoded as "range:from-to"
type fakeSplitter struct {
	pages int
	cuts  []pageRange
}

func (s *fakeSplitter) PageCount(context.Context, []byte) (int, error) { return s.pages, nil }

func (s *fakeSplitter) ExtractRange(_ context.Context, _ []byte, from, to int) ([]byte, error) {
	s.cuts = append(s.cuts, pageRange{from, to})
	return []byte(fmt.Sprintf("range:%d-%d", from, to)), nil
}

// fakeExtractor returns one text per page, numbered within the sub-document
type fakeExtractor struct {
	calls []int
	err   error
	text  func(page int) string
}

func (e *fakeExtractor) ExtractPages(_ context.Context, pdf []byte, pageCount int) ([]models.PageText, error) {
	e.calls = append(e.calls, pageCount)
	if e.err != nil {
		return nil, e.err
	}
	first := 1
	if r, ok := strings.CutPrefix(string(pdf), "range:"); ok {
		from, _, _ := strings.Cut(r, "-")
		first, _ = strconv.Atoi(from)
	}
	out := make([]models.PageText, 0, pageCount)
	for n := 1; n <= pageCount; n++ {
		out = append(out, models.PageText{Number: n, Text: e.text(first + n - 1)})
	}
	return out, nil
}

type fakeEmbedder struct {
	mu     sync.Mutex
	failOn string
	calls  int
}

func (f *fakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("bad input")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// fakeLLM returns errs in order, one per call, then answer
type fakeLLM struct {
	answer  string
	errs    []error
	prompts []string
}

func (f *fakeLLM) Generate(_ context.Context, _ string, user string) (string, error) {
	f.prompts = append(f.prompts, user)
	if n := len(f.prompts); n <= len(f.errs) {
		return "", f.errs[n-1]
	}
	return f.answer, nil
}

type fakeObjects struct {
	uploads map[string][]byte
	deleted []string
	files   map[string][]byte
}

func (o *fakeObjects) UploadFile(_ context.Context, bucket, key string, data []byte, _ string) (string, error) {
	if o.uploads == nil {
		o.uploads = map[string][]byte{}
	}
	o.uploads[bucket+"/"+key] = data
	return "https://" + bucket + ".s3.eu-west-3.amazonaws.com/" + key, nil
}

func (o *fakeObjects) DeleteFile(_ context.Context, bucket, key string) error {
	o.deleted = append(o.deleted, bucket+"/"+key)
	return nil
}

func (o *fakeObjects) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	data, ok := o.files[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}
