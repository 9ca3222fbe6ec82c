package bind

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/regkb/internal/models"
	perr "github.com/markdave123-py/regkb/internal/platform/errors"
)

func parse(t *testing.T, body string) (models.IngestRequest, error) {
	t.Helper()
	r := httptest.NewRequest("POST", "/api/ingest", strings.NewReader(body))
	return ParseJSON[models.IngestRequest](r, 1<<10)
}

func TestParseJSON_Valid(t *testing.T) {
	req, err := parse(t, `{"source_type":"circular","source_ref":"4/2023","pdf_url":"https://example.org/c.pdf","country_code":"MA"}`)
	require.NoError(t, err)
	assert.Equal(t, "circular", req.SourceType)
	assert.Equal(t, "https://example.org/c.pdf", req.PDFURL)
}

func TestParseJSON_Rejects(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
		msg   string
	}{
		{"empty", ``, "", "empty body"},
		{"not json", `{"source_type":`, "", "invalid JSON"},
		{"unknown field", `{"source_type":"law","source_ref":"x","raw_text":"t","colour":"red"}`, "", "invalid JSON"},
		{"trailing data", `{"source_type":"law","source_ref":"x","raw_text":"t"} {}`, "", "trailing"},
		{"missing type", `{"source_ref":"x","raw_text":"t"}`, "source_type", "source_type is a required field"},
		{"bad type", `{"source_type":"memo","source_ref":"x","raw_text":"t"}`, "source_type", "source_type"},
		{"no payload", `{"source_type":"law","source_ref":"x"}`, "pdf_base64", "pdf_base64 is required unless pdf_url or raw_text is given"},
		{"bad range", `{"source_type":"law","source_ref":"x","raw_text":"t","start_page":4,"end_page":2}`, "end_page", "end_page must not be before start_page"},
		{"bad date", `{"source_type":"law","source_ref":"x","raw_text":"t","source_date":"14/03/2023"}`, "source_date", "source_date"},
		{"too large", `{"source_type":"law","source_ref":"x","raw_text":"` + strings.Repeat("a", 2048) + `"}`, "", "exceeds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parse(t, tc.body)
			require.Error(t, err)
			assert.Equal(t, perr.ErrorCodeValidation, perr.CodeOf(err))
			assert.Contains(t, err.Error(), tc.msg)
			if tc.field != "" {
				e, ok := perr.As(err)
				require.True(t, ok)
				assert.Equal(t, tc.field, e.Field())
			}
		})
	}
}
