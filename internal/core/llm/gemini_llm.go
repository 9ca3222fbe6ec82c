package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/markdave123-py/regkb/internal/core"
	"github.com/markdave123-py/regkb/internal/core/resilience"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
)

var _ core.LLMProvider = (*GeminiLLM)(nil)

// GeminiLLM answers metadata prompts. Output is requested as JSON at temperature 0.
type GeminiLLM struct {
	client    *genai.Client
	modelName string
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, perr.Validationf("gemini api key is required")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "create gemini client")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	return &GeminiLLM{client: cl, modelName: modelName}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Generate returns the concatenated text parts of the first candidate.
func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)
	m.ResponseMIMEType = "application/json"
	if systemPrompt != "" {
		m.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", classifyGenaiError(err, "gemini generate")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", perr.Malformedf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", perr.Malformedf("gemini returned an empty answer")
	}
	return b.String(), nil
}

// classifyGenaiError maps SDK errors onto perr codes. HTTP failures carry a
// resilience.StatusError so the Caller applies its status retry rules.
func classifyGenaiError(err error, msg string) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return perr.Wrap(err, perr.ErrorCodeMalformed, msg)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		status := &resilience.StatusError{StatusCode: gerr.Code, Body: truncate(gerr.Message, 512)}
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return perr.Wrap(status, perr.ErrorCodeUnavailable, msg)
		case gerr.Code == http.StatusBadRequest:
			return perr.Wrap(status, perr.ErrorCodeValidation, msg)
		}
	}
	return perr.Wrap(err, perr.ErrorCodeUnknown, msg)
}
