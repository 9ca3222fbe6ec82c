package hscode

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/width"

	"github.com/markdave123-py/regkb/internal/models"
)

// DefaultContextRadius is the number of bytes kept on each side of a match
const DefaultContextRadius = 50

type pattern struct {
	re     *regexp.Regexp
	digits int
}

// Patterns run longest first; a shorter match overlapping a longer one is dropped.
// 10-digit codes may be a bare run, shorter groups need a separator, headings may be bare
var patterns = []pattern{
	{regexp.MustCompile(`\b\d{4}(?:[. \x{00A0}]?\d{2}){3}\b`), 10},
	{regexp.MustCompile(`\b\d{4}[. \x{00A0}]\d{2}[. \x{00A0}]?\d{2}\b`), 8},
	{regexp.MustCompile(`\b\d{4}[. \x{00A0}]\d{2}\b`), 6},
	{regexp.MustCompile(`\b\d{2}\.?\d{2}\b`), 4},
}

// Detector scans page text for candidate codes
type Detector struct {
	ContextRadius int
}

// NewDetector returns a detector with the default context radius
func NewDetector() *Detector {
	return &Detector{ContextRadius: DefaultContextRadius}
}

type span struct{ start, end int }

// Detect returns the candidates found in one page, in text order. Raw and Context are
// taken from the width-folded text
func (d *Detector) Detect(page int, text string) []models.DetectedCode {
	text = width.Fold.String(text)
	var (
		taken []span
		out   []struct {
			pos  int
			code models.DetectedCode
		}
	)

	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			s := span{loc[0], loc[1]}
			if overlaps(taken, s) || embeddedInNumber(text, s) {
				continue
			}
			raw := text[s.start:s.end]
			digits := Digits(raw)
			if len(digits) != p.digits || falsePositive(raw, digits) {
				continue
			}
			taken = append(taken, s)
			out = append(out, struct {
				pos  int
				code models.DetectedCode
			}{s.start, d.candidate(page, text, s, raw, digits)})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	codes := make([]models.DetectedCode, len(out))
	for i, o := range out {
		codes[i] = o.code
	}
	return codes
}

// candidate builds a DetectedCode. hs6 is set only when at least six real digits were
// matched and they validate; national only when exactly ten were matched
func (d *Detector) candidate(page int, text string, s span, raw, digits string) models.DetectedCode {
	c := models.DetectedCode{
		Raw:        raw,
		PageNumber: page,
		Context:    d.context(text, s),
	}
	if len(digits) >= 6 {
		if hs6, ok := Normalize6Strict(digits[:6]); ok {
			c.HSCode6 = &hs6
		}
	}
	if national, ok := Normalize10Strict(digits); ok {
		c.NationalCode = &national
	}
	return c
}

func (d *Detector) context(text string, s span) string {
	radius := d.ContextRadius
	if radius <= 0 {
		radius = DefaultContextRadius
	}
	start := s.start - radius
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	end := s.end + radius
	if end > len(text) {
		end = len(text)
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return strings.Join(strings.Fields(text[start:end]), " ")
}

// falsePositive rejects numbers below 100, bare years, space-separated year prefixes
// and YYYY.MM.DD dates
func falsePositive(raw, digits string) bool {
	if n, err := strconv.Atoi(digits); err == nil && n < 100 {
		return true
	}
	switch len(digits) {
	case 4:
		return raw == digits && isYear(digits)
	case 6:
		return strings.ContainsAny(raw, " \u00a0") && isYear(digits[:4])
	case 8:
		return isDate(digits)
	}
	return false
}

// isDate reports a YYYYMMDD date whose year is not also a heading. Chapter 19 stops at
// 1905 and chapter 20 at 2009, so 1901.10.20 stays a code and 2024.01.15 is a date
func isDate(d string) bool {
	if !isYear(d[:4]) {
		return false
	}
	year, _ := strconv.Atoi(d[:4])
	month, _ := strconv.Atoi(d[4:6])
	day, _ := strconv.Atoi(d[6:8])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	heading := (year >= 1901 && year <= 1905) || (year >= 2001 && year <= 2009)
	return !heading
}

func isYear(d string) bool {
	n, err := strconv.Atoi(d)
	return err == nil && n >= 1900 && n <= 2099
}

// embeddedInNumber rejects matches that continue as a decimal or longer number, like 1.2345
func embeddedInNumber(text string, s span) bool {
	if s.start > 0 {
		prev := text[s.start-1]
		if isDigit(prev) {
			return true
		}
		if (prev == '.' || prev == ',') && s.start > 1 && isDigit(text[s.start-2]) {
			return true
		}
	}
	if s.end < len(text) {
		next := text[s.end]
		if isDigit(next) {
			return true
		}
		if (next == '.' || next == ',') && s.end+1 < len(text) && isDigit(text[s.end+1]) {
			return true
		}
	}
	return false
}

func overlaps(taken []span, s span) bool {
	for _, t := range taken {
		if s.start < t.end && t.start < s.end {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Key is the dedupe key of a candidate: national code, else hs6, else its digits
func Key(c models.DetectedCode) string {
	switch {
	case c.NationalCode != nil:
		return *c.NationalCode
	case c.HSCode6 != nil:
		return *c.HSCode6
	default:
		return Digits(c.Raw)
	}
}

// Dedupe keeps one candidate per Key, preferring the longest context, in first-seen order
func Dedupe(codes []models.DetectedCode) []models.DetectedCode {
	idx := make(map[string]int, len(codes))
	out := make([]models.DetectedCode, 0, len(codes))
	for _, c := range codes {
		k := Key(c)
		if i, ok := idx[k]; ok {
			if len(c.Context) > len(out[i].Context) {
				out[i] = c
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, c)
	}
	return out
}
