package ingestion_engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func onePage(body string) []AssembledPage {
	return []AssembledPage{{Number: 1, Body: body}}
}

func texts(chunks []ChunkDraft) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestChunker_FlushesWithWordAlignedOverlap(t *testing.T) {
	c := NewChunker(ChunkConfig{TargetSize: 20, MinSize: 5, Overlap: 6})
	chunks := c.Chunk(onePage("aaaa bbbb\n\ncccc dddd\n\neeee ffff"))

	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"aaaa bbbb\n\ncccc dddd", "dddd\n\neeee ffff"}, texts(chunks))
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 20, chunks[0].EndOffset)
	assert.Equal(t, 16, chunks[1].StartOffset)
	assert.Equal(t, 31, chunks[1].EndOffset)
	assert.Equal(t, 5, chunks[0].TokenCount)
}

func TestChunker_SplitsOversizedParagraphAtWhitespace(t *testing.T) {
	c := NewChunker(ChunkConfig{TargetSize: 20, MinSize: 5, Overlap: 5})
	chunks := c.Chunk(onePage("one two three four five six seven"))

	assert.Equal(t, []string{"one two three", "three four five six", "six seven"}, texts(chunks))
	for _, ch := range chunks {
		assert.LessOrEqual(t, len([]rune(ch.Text)), 20)
	}
}

func TestChunker_CarriesUndersizedBufferForward(t *testing.T) {
	c := NewChunker(ChunkConfig{TargetSize: 20, MinSize: 15, Overlap: 0})
	b := strings.Repeat("b", 18)
	chunks := c.Chunk(onePage("aaaa\n\n" + b + "\n\ncccc"))

	assert.Equal(t, []string{"aaaa\n\n" + b, "cccc"}, texts(chunks))
}

func TestChunker_EmptyPageHasNoChunks(t *testing.T) {
	assert.Empty(t, NewChunker(DefaultChunkConfig()).Chunk(onePage("")))
}

func TestChunker_OffsetsPointIntoAssembledText(t *testing.T) {
	full, pages := AssemblePages([]Page{
		{Number: 1, Text: longText(1, 40)},
		{Number: 2, Text: longText(2, 25)},
	})
	chunks := NewChunker(ChunkConfig{TargetSize: 300, MinSize: 60, Overlap: 50}).Chunk(pages)
	require.NotEmpty(t, chunks)

	runes := []rune(full)
	for _, ch := range chunks {
		assert.Equal(t, ch.Text, string(runes[ch.StartOffset:ch.EndOffset]))
		assert.NotContains(t, ch.Text, "--- Page")
	}
	assert.Equal(t, 1, chunks[0].PageNumber)
	assert.Equal(t, 2, chunks[len(chunks)-1].PageNumber)
}

func TestChunker_CoversPageWithoutGaps(t *testing.T) {
	cfg := ChunkConfig{TargetSize: 300, MinSize: 60, Overlap: 50}
	_, pages := AssemblePages([]Page{{Number: 7, Text: longText(7, 60)}})
	p := pages[0]
	chunks := NewChunker(cfg).Chunk(pages)
	require.Greater(t, len(chunks), 3)

	body := []rune(p.Body)
	var rebuilt strings.Builder
	prevEnd := p.Offset
	for i, ch := range chunks {
		if ch.StartOffset > prevEnd {
			gap := string(body[prevEnd-p.Offset : ch.StartOffset-p.Offset])
			assert.Empty(t, strings.TrimSpace(gap), "gap before chunk %d", i)
		}
		assert.Greater(t, ch.EndOffset, prevEnd, "chunk %d is pure overlap", i)
		rebuilt.WriteString(string(body[prevEnd-p.Offset : ch.EndOffset-p.Offset]))
		prevEnd = ch.EndOffset

		if i < len(chunks)-1 {
			assert.GreaterOrEqual(t, len([]rune(ch.Text)), cfg.MinSize, "chunk %d", i)
		}
		assert.LessOrEqual(t, len([]rune(ch.Text)), cfg.TargetSize, "chunk %d", i)
	}
	assert.Equal(t, p.Body, rebuilt.String())
}

func TestAssemblePages(t *testing.T) {
	full, pages := AssemblePages([]Page{
		{Number: 1, Text: "Hello   world\r\n\r\n\nSecond\npara"},
		{Number: 2, Text: "Ｆｕｌｌ width"},
	})

	assert.Equal(t, "--- Page 1 ---\nHello world\n\nSecond para\n\n--- Page 2 ---\nFull width", full)
	require.Len(t, pages, 2)
	assert.Equal(t, 15, pages[0].Offset)
	runes := []rune(full)
	for _, p := range pages {
		assert.Equal(t, p.Body, string(runes[p.Offset:p.Offset+len([]rune(p.Body))]))
	}
	assert.Less(t, strings.Index(full, "--- Page 1 ---"), strings.Index(full, "--- Page 2 ---"))
}

func TestSplitFormFeed(t *testing.T) {
	pages := splitFormFeed("one\ftwo\fthree\f\n")
	require.Len(t, pages, 3)
	assert.Equal(t, 3, pages[2].Number)
	assert.Equal(t, "two", pages[1].Text)
}

// longText returns n short paragraphs of varying length, with accents to exercise rune offsets.
func longText(seed, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		words := 3 + (i*7+seed)%15
		for w := 0; w < words; w++ {
			if w > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "mot%dé", (i+w)%97)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
