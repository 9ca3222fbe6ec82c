// Package llmjson recovers JSON from LLM output that may be fenced, chatty or truncated
package llmjson

import (
	"encoding/json"
	"sort"
	"strings"
)

// Result is the outcome of Parse.
// Partial is false only for a clean parse; recovered data lists the salvaged
// top-level fields in RecoveredFields and names the strategy that produced it
type Result struct {
	Success         bool
	Data            any
	Partial         bool
	Strategy        string
	RecoveredFields []string
	Error           string
}

// Strategy is one recovery technique. Attempt reports ok only when it produced data
type Strategy interface {
	Name() string
	Attempt(text string) (Result, bool)
}

// DefaultStrategies is the ordered list used by Parse
var DefaultStrategies = []Strategy{
	directStrategy{},
	fencedStrategy{},
	repairStrategy{},
	balancedStrategy{},
	fieldsStrategy{},
}

// Parse tries each default strategy in order until one succeeds
func Parse(text string) Result {
	return ParseWith(text, DefaultStrategies...)
}

// ParseWith tries the given strategies in order until one succeeds
func ParseWith(text string, strategies ...Strategy) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Error: "empty input"}
	}
	for _, s := range strategies {
		if r, ok := s.Attempt(text); ok {
			r.Success = true
			r.Strategy = s.Name()
			return r
		}
	}
	return Result{Error: "no strategy could recover JSON"}
}

// Decode parses text and re-marshals the recovered data into dst
func Decode(text string, dst any) (Result, error) {
	r := Parse(text)
	if !r.Success {
		return r, &DecodeError{Msg: r.Error}
	}
	raw, err := json.Marshal(r.Data)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return r, err
	}
	return r, nil
}

// DecodeError reports that no strategy recovered anything
type DecodeError struct{ Msg string }

func (e *DecodeError) Error() string { return "llmjson: " + e.Msg }

// unmarshal parses s as a single JSON value
func unmarshal(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	default:
		return nil, false
	}
}

// topLevelFields lists the keys of an object, sorted
func topLevelFields(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clean(v any) Result { return Result{Data: v} }

func recovered(v any) Result {
	return Result{Data: v, Partial: true, RecoveredFields: topLevelFields(v)}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return v == nil
}
