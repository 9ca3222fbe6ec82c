package ingestion_engine

import (
	"unicode"
)

// ChunkConfig bounds chunk sizes, in runes.
//
// TargetSize: a chunk is flushed before it would grow past this.
// MinSize:    buffers shorter than this are carried forward instead of flushed.
// Overlap:    length of the previous chunk's tail that seeds the next one.
type ChunkConfig struct {
	TargetSize int
	MinSize    int
	Overlap    int
}

// DefaultChunkConfig returns 1000/100/150.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{TargetSize: 1000, MinSize: 100, Overlap: 150}
}

// ChunkDraft is a chunk before it gets an index and an embedding.
// StartOffset/EndOffset are rune offsets into the assembled text.
type ChunkDraft struct {
	Text        string
	PageNumber  int
	StartOffset int
	EndOffset   int
	TokenCount  int
}

// Chunker splits assembled pages into overlapping chunks. Chunks never cross pages.
type Chunker struct {
	cfg ChunkConfig
}

func NewChunker(cfg ChunkConfig) *Chunker {
	def := DefaultChunkConfig()
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = def.TargetSize
	}
	if cfg.MinSize < 0 || cfg.MinSize > cfg.TargetSize {
		cfg.MinSize = 0
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.TargetSize {
		cfg.Overlap = 0
	}
	return &Chunker{cfg: cfg}
}

type runeSpan struct{ start, end int }

// Chunk returns the chunks of every page in page order.
func (c *Chunker) Chunk(pages []AssembledPage) []ChunkDraft {
	var out []ChunkDraft
	for _, p := range pages {
		out = append(out, c.chunkPage(p)...)
	}
	return out
}

func (c *Chunker) chunkPage(p AssembledPage) []ChunkDraft {
	body := []rune(p.Body)
	segs := c.segments(body)
	if len(segs) == 0 {
		return nil
	}

	var (
		out []ChunkDraft
		buf = segs[0]
	)
	flush := func() {
		text := string(body[buf.start:buf.end])
		out = append(out, ChunkDraft{
			Text:        text,
			PageNumber:  p.Number,
			StartOffset: p.Offset + buf.start,
			EndOffset:   p.Offset + buf.end,
			TokenCount:  approxTokens(text),
		})
	}

	for _, s := range segs[1:] {
		if s.end-buf.start <= c.cfg.TargetSize {
			buf.end = s.end
			continue
		}
		if buf.end-buf.start < c.cfg.MinSize {
			// Undersized: carry forward even if that overshoots the target.
			buf.end = s.end
			continue
		}
		flush()
		buf = runeSpan{start: c.overlapStart(body, buf, s), end: s.end}
	}
	flush()
	return out
}

// overlapStart picks where the next buffer begins: a word-aligned tail of prev that is
// at most Overlap runes, at most half of prev, and small enough that tail plus next
// still fits TargetSize. Without room for a tail it is next.start.
func (c *Chunker) overlapStart(body []rune, prev, next runeSpan) int {
	n := c.cfg.Overlap
	if room := c.cfg.TargetSize - (next.end - prev.end); room < n {
		n = room
	}
	if half := (prev.end - prev.start) / 2; half < n {
		n = half
	}
	if n <= 0 {
		return next.start
	}

	start := prev.end - n
	for start < prev.end && !unicode.IsSpace(body[start-1]) {
		start++
	}
	for start < prev.end && unicode.IsSpace(body[start]) {
		start++
	}
	if start >= prev.end {
		return next.start
	}
	return start
}

// segments returns paragraph spans of body, with paragraphs longer than TargetSize
// split at whitespace into pieces of at most TargetSize-Overlap runes.
func (c *Chunker) segments(body []rune) []runeSpan {
	limit := c.cfg.TargetSize - c.cfg.Overlap
	if limit <= 0 {
		limit = c.cfg.TargetSize
	}

	var segs []runeSpan
	start := 0
	for i := 0; i <= len(body); i++ {
		// Paragraph ends at a "\n\n" separator or at the end of the body.
		if i < len(body) && !(body[i] == '\n' && i+1 < len(body) && body[i+1] == '\n') {
			continue
		}
		if i > start {
			para := runeSpan{start, i}
			if para.end-para.start > c.cfg.TargetSize {
				segs = append(segs, splitAtWhitespace(body, para, limit)...)
			} else {
				segs = append(segs, para)
			}
		}
		start = i + 2
		i++
	}
	return segs
}

func splitAtWhitespace(body []rune, para runeSpan, limit int) []runeSpan {
	var out []runeSpan
	start := para.start
	for start < para.end {
		if para.end-start <= limit {
			out = append(out, runeSpan{start, para.end})
			break
		}
		cut := -1
		for j := start + limit; j > start; j-- {
			if unicode.IsSpace(body[j]) {
				cut = j
				break
			}
		}
		if cut < 0 {
			cut = start + limit
		}
		out = append(out, runeSpan{start, cut})
		start = cut
		for start < para.end && unicode.IsSpace(body[start]) {
			start++
		}
	}
	return out
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
