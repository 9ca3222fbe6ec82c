package llmjson

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type directStrategy struct{}

func (directStrategy) Name() string { return "direct" }

func (directStrategy) Attempt(text string) (Result, bool) {
	v, ok := unmarshal(text)
	if !ok {
		return Result{}, false
	}
	return clean(v), true
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\\r?\\n?(.*?)```")

type fencedStrategy struct{}

func (fencedStrategy) Name() string { return "fenced_block" }

func (fencedStrategy) Attempt(text string) (Result, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if v, ok := unmarshal(m[1]); ok {
			return clean(v), true
		}
	}
	return Result{}, false
}

type repairStrategy struct{}

func (repairStrategy) Name() string { return "truncation_repair" }

func (repairStrategy) Attempt(text string) (Result, bool) {
	body := strings.TrimSpace(stripFences(text))
	if body == "" || (body[0] != '{' && body[0] != '[') {
		return Result{}, false
	}
	v, ok := unmarshal(repair(body))
	if !ok || isEmpty(v) {
		return Result{}, false
	}
	return recovered(v), true
}

type balancedStrategy struct{}

func (balancedStrategy) Name() string { return "balanced_substring" }

// Attempt tries every brace-balanced substring, largest first, then the tail starting
// at the first opener in case the object was cut off
func (balancedStrategy) Attempt(text string) (Result, bool) {
	body := stripFences(text)
	cands := balancedSubstrings(body)
	sort.SliceStable(cands, func(i, j int) bool { return len(cands[i]) > len(cands[j]) })
	if i := strings.IndexAny(body, "{["); i >= 0 {
		cands = append(cands, body[i:])
	}
	for _, c := range cands {
		if v, ok := unmarshal(repair(c)); ok && !isEmpty(v) {
			return recovered(v), true
		}
	}
	return Result{}, false
}

var (
	fieldStringRe = regexp.MustCompile(`"([A-Za-z0-9_]+)"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	fieldNumberRe = regexp.MustCompile(`"([A-Za-z0-9_]+)"\s*:\s*(-?\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)\s*[,}\n]`)
	fieldBoolRe   = regexp.MustCompile(`"([A-Za-z0-9_]+)"\s*:\s*(true|false|null)\b`)
	fieldArrayRe  = regexp.MustCompile(`"([A-Za-z0-9_]+)"\s*:\s*(\[[^\[\]{}]*\])`)
)

type fieldsStrategy struct{}

func (fieldsStrategy) Name() string { return "field_extraction" }

// Attempt salvages individual key/value pairs. Earlier matches win on duplicate keys
func (fieldsStrategy) Attempt(text string) (Result, bool) {
	out := map[string]any{}
	set := func(k string, v any) {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}

	for _, m := range fieldStringRe.FindAllStringSubmatch(text, -1) {
		s, err := strconv.Unquote(`"` + m[2] + `"`)
		if err != nil {
			s = m[2]
		}
		set(m[1], s)
	}
	for _, m := range fieldNumberRe.FindAllStringSubmatch(text, -1) {
		if f, err := strconv.ParseFloat(m[2], 64); err == nil {
			set(m[1], f)
		}
	}
	for _, m := range fieldBoolRe.FindAllStringSubmatch(text, -1) {
		switch m[2] {
		case "true":
			set(m[1], true)
		case "false":
			set(m[1], false)
		default:
			set(m[1], nil)
		}
	}
	for _, m := range fieldArrayRe.FindAllStringSubmatch(text, -1) {
		var arr []any
		if err := json.Unmarshal([]byte(m[2]), &arr); err == nil {
			set(m[1], arr)
		}
	}

	if len(out) == 0 {
		return Result{}, false
	}
	return recovered(out), true
}

var (
	openFenceRe  = regexp.MustCompile("^```(?:json|JSON)?[ \t]*\\r?\\n?")
	closeFenceRe = regexp.MustCompile("\\r?\\n?```[ \t]*$")
)

// stripFences removes a leading fence and a trailing fence, closed or not
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	s = openFenceRe.ReplaceAllString(s, "")
	s = closeFenceRe.ReplaceAllString(s, "")
	return s
}
