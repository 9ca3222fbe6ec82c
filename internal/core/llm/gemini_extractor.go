package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/markdave123-py/regkb/internal/core"
	"github.com/markdave123-py/regkb/internal/core/llmjson"
	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/models"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

const defaultGenerateEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

const extractionPrompt = `Extract the full text of every page of the attached PDF, in reading order.
Keep paragraphs separated by a blank line. Do not summarize, translate or correct the text.
Answer with one JSON object and nothing else:
{"pages": [{"page_number": 1, "text": "..."}]}
page_number is 1-based within the attached PDF, which has %d pages.`

var _ core.PageExtractor = (*GeminiPageExtractor)(nil)

// GeminiPageExtractor sends a PDF inline to generateContent and recovers the
// page list from the answer with llmjson.
type GeminiPageExtractor struct {
	caller   *resilience.Caller
	cfg      resilience.Config
	endpoint string
	apiKey   string
}

// NewGeminiPageExtractor builds the extractor. endpoint may be empty for the public API
func NewGeminiPageExtractor(caller *resilience.Caller, cfg resilience.Config, apiKey, modelName, endpoint string) *GeminiPageExtractor {
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf(defaultGenerateEndpoint, modelName)
	}
	return &GeminiPageExtractor{caller: caller, cfg: cfg, endpoint: endpoint, apiKey: apiKey}
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type generateRequest struct {
	Contents []struct {
		Parts []part `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

// ExtractPages runs one generateContent call for the whole PDF.
func (g *GeminiPageExtractor) ExtractPages(ctx context.Context, pdf []byte, pageCount int) ([]models.PageText, error) {
	var body generateRequest
	body.Contents = make([]struct {
		Parts []part `json:"parts"`
	}, 1)
	body.Contents[0].Parts = []part{
		{InlineData: &inlineData{MimeType: "application/pdf", Data: base64.StdEncoding.EncodeToString(pdf)}},
		{Text: fmt.Sprintf(extractionPrompt, pageCount)},
	}
	body.GenerationConfig.ResponseMimeType = "application/json"

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	resp, err := g.caller.Do(ctx, resilience.Request{
		Method: http.MethodPost,
		URL:    g.endpoint,
		Header: http.Header{
			"Content-Type":   {"application/json"},
			"X-Goog-Api-Key": {g.apiKey},
		},
		Body: payload,
	}, g.cfg)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "read extraction response")
	}
	if resp.StatusCode != http.StatusOK {
		code := perr.ErrorCodeUnknown
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			code = perr.ErrorCodeUnavailable
		}
		return nil, perr.Wrap(&resilience.StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)},
			code, "extraction service error")
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeMalformed, "decode extraction response")
	}
	if out.PromptFeedback.BlockReason != "" {
		return nil, perr.Malformedf("extraction blocked: %s", out.PromptFeedback.BlockReason)
	}
	if len(out.Candidates) == 0 {
		return nil, perr.Malformedf("extraction returned no candidates")
	}

	var text strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return parsePages(ctx, text.String(), out.Candidates[0].FinishReason)
}

// parsePages recovers {"pages":[...]} from model output, which is often truncated
// when the model hits its output limit.
func parsePages(ctx context.Context, text, finishReason string) ([]models.PageText, error) {
	var doc struct {
		Pages []models.PageText `json:"pages"`
	}
	res, err := llmjson.Decode(text, &doc)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeMalformed, "extraction answer is not json")
	}
	if res.Partial {
		logger.C(ctx).Warn().
			Str("strategy", res.Strategy).
			Str("finish_reason", finishReason).
			Int("pages", len(doc.Pages)).
			Msg("extraction answer partially recovered")
	}
	if len(doc.Pages) == 0 {
		return nil, perr.Malformedf("extraction answer has no pages")
	}
	return doc.Pages, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
