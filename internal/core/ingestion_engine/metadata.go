package ingestion_engine

import (
	"context"
	"strings"
	"time"

	"github.com/markdave123-py/regkb/internal/core/llmjson"
	"github.com/markdave123-py/regkb/internal/models"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

const metadataSystemPrompt = `You read the first page of a regulatory document (customs circular, note, decision, law or decree).
Answer with one JSON object and nothing else:
{"title": string, "issuer": string, "source_date": "YYYY-MM-DD" or null}`

// maxMetadataPromptRunes bounds the page text sent to the LLM
const maxMetadataPromptRunes = 4000

// inferMetadata fills a missing title, issuer or date from the first non-empty page.
// Values given in the request always win; any failure leaves src unchanged.
func (i *DocumentIngestor) inferMetadata(ctx context.Context, src *models.LegalSource, pages []AssembledPage) {
	if !i.cfg.InferMetadata || i.deps.LLM == nil {
		return
	}
	if src.Title != "" && src.Issuer != "" && src.SourceDate != nil {
		return
	}

	var first string
	for _, p := range pages {
		if strings.TrimSpace(p.Body) != "" {
			first = p.Body
			break
		}
	}
	if first == "" {
		return
	}
	if r := []rune(first); len(r) > maxMetadataPromptRunes {
		first = string(r[:maxMetadataPromptRunes])
	}

	log := logger.C(ctx)
	var answer string
	err := i.deps.Breakers.Wrap(ctx, BreakerMetadata, func(ctx context.Context) error {
		return i.deps.Caller.Run(ctx, BreakerMetadata, i.cfg.Metadata, func(ctx context.Context) error {
			a, err := i.deps.LLM.Generate(ctx, metadataSystemPrompt, first)
			if err != nil {
				return err
			}
			answer = a
			return nil
		})
	})
	if err != nil {
		log.Warn().Err(err).Msg("metadata inference failed")
		return
	}

	defaults := map[string]any{}
	if src.Title != "" {
		defaults["title"] = src.Title
	}
	if src.Issuer != "" {
		defaults["issuer"] = src.Issuer
	}
	res := llmjson.ParseWithSchema(answer, llmjson.Schema{
		Required: []string{"title", "issuer"},
		Defaults: defaults,
	})
	if !res.Success {
		log.Warn().Str("error", res.Error).Msg("metadata answer unusable")
		return
	}
	if res.Partial {
		log.Debug().Str("strategy", res.Strategy).Strs("missing", res.Missing).Msg("metadata answer partially recovered")
	}

	data, _ := res.Data.(map[string]any)
	if src.Title == "" {
		src.Title = stringField(data, "title")
	}
	if src.Issuer == "" {
		src.Issuer = stringField(data, "issuer")
	}
	if src.SourceDate == nil {
		if d, err := time.Parse(time.DateOnly, stringField(data, "source_date")); err == nil {
			src.SourceDate = &d
		}
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
