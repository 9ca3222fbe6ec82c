package llmjson

import "sort"

// Schema describes the object a caller expects back
type Schema struct {
	Required []string
	Defaults map[string]any
}

// SchemaResult is a Result whose Data is always an object when Success is set.
// Defaulted lists fields filled from Schema.Defaults, Missing lists required fields
// still absent afterwards
type SchemaResult struct {
	Result
	Defaulted []string
	Missing   []string
}

// ParseWithSchema parses text, merges defaults for absent or null fields and reports
// required fields that are still missing. When nothing could be parsed but defaults
// exist, the defaults alone form a partial result
func ParseWithSchema(text string, schema Schema) SchemaResult {
	r := Parse(text)

	obj := map[string]any{}
	if m, ok := r.Data.(map[string]any); ok {
		for k, v := range m {
			obj[k] = v
		}
	}

	var out SchemaResult
	for k, v := range schema.Defaults {
		if cur, ok := obj[k]; !ok || cur == nil {
			obj[k] = v
			out.Defaulted = append(out.Defaulted, k)
		}
	}
	sort.Strings(out.Defaulted)

	for _, k := range schema.Required {
		v, ok := obj[k]
		if !ok || v == nil || v == "" {
			out.Missing = append(out.Missing, k)
		}
	}

	if !r.Success && len(out.Defaulted) > 0 {
		r = Result{Success: true, Partial: true, Strategy: "defaults"}
	}
	if r.Success {
		r.Data = obj
		if len(out.Defaulted) > 0 {
			r.Partial = true
		}
	}
	out.Result = r
	return out
}
