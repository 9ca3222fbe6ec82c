package ingestion_engine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/markdave123-py/regkb/internal/models"
)

// Page is the extracted text of one 1-based page.
type Page = models.PageText

// AssembledPage is a normalized page body and where it starts in the assembled text.
//
// Offset: rune offset of Body inside the text returned by AssemblePages.
type AssembledPage struct {
	Number int
	Body   string
	Offset int
}

var blankLine = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// pageMarker precedes every page body in the assembled text.
func pageMarker(n int) string { return fmt.Sprintf("--- Page %d ---", n) }

// normalizePage applies NFKC, splits paragraphs on blank lines, collapses whitespace
// inside each paragraph and joins them with one blank line.
func normalizePage(text string) string {
	text = norm.NFKC.String(strings.ReplaceAll(text, "\r\n", "\n"))
	var paras []string
	for _, p := range blankLine.Split(text, -1) {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			paras = append(paras, p)
		}
	}
	return strings.Join(paras, "\n\n")
}

// AssemblePages joins pages in order, each under its marker line.
func AssemblePages(pages []Page) (string, []AssembledPage) {
	var (
		b     strings.Builder
		out   = make([]AssembledPage, 0, len(pages))
		runes int
	)
	write := func(s string) {
		b.WriteString(s)
		runes += utf8.RuneCountInString(s)
	}

	for i, p := range pages {
		if i > 0 {
			write("\n\n")
		}
		write(pageMarker(p.Number) + "\n")
		body := normalizePage(p.Text)
		out = append(out, AssembledPage{Number: p.Number, Body: body, Offset: runes})
		write(body)
	}
	return b.String(), out
}

// splitFormFeed turns raw text into pages, one per form-feed separated section.
func splitFormFeed(raw string) []Page {
	parts := strings.Split(raw, "\f")
	if n := len(parts); n > 1 && strings.TrimSpace(parts[n-1]) == "" {
		parts = parts[:n-1]
	}
	pages := make([]Page, 0, len(parts))
	for i, p := range parts {
		pages = append(pages, Page{Number: i + 1, Text: p})
	}
	return pages
}
