package config

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/regkb/internal/platform/logger"
)

var logs bytes.Buffer

func TestMain(m *testing.M) {
	logger.Init(logger.Options{Level: "debug", Format: "json", Writer: &logs})
	os.Exit(m.Run())
}

func validConfig() *Config {
	return &Config{
		DatabaseURL:           "postgres://localhost/regkb",
		AIAPIKey:              "k",
		ExtractionBackend:     "gemini",
		PageCap:               5,
		MaxPagesPerInvocation: 50,
		InvocationTimeout:     5 * time.Minute,
		ExtractionTimeout:     90 * time.Second,
		RateLimitRequests:     30,
		RateLimitWindow:       time.Minute,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"extraction outlives invocation", func(c *Config) { c.ExtractionTimeout = 6 * time.Minute }, "EXTRACTION_TIMEOUT"},
		{"equal timeouts", func(c *Config) { c.ExtractionTimeout = c.InvocationTimeout }, "EXTRACTION_TIMEOUT"},
		{"gemini without key", func(c *Config) { c.AIAPIKey = "" }, "GEMINI_API_KEY"},
		{"unknown backend", func(c *Config) { c.ExtractionBackend = "tesseract" }, "EXTRACTION_BACKEND"},
		{"zero page cap", func(c *Config) { c.PageCap = 0 }, "PAGE_CAP"},
		{"window below cap", func(c *Config) { c.MaxPagesPerInvocation = 3 }, "MAX_PAGES_PER_INVOCATION"},
		{"no rate limit", func(c *Config) { c.RateLimitRequests = 0 }, "RATE_LIMIT_REQUESTS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	local := validConfig()
	local.ExtractionBackend = "local"
	local.AIAPIKey = ""
	assert.NoError(t, local.Validate())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("REGKB_T_DUR", "45s")
	t.Setenv("REGKB_T_BAD_DUR", "soon")
	t.Setenv("REGKB_T_BOOL", "false")
	t.Setenv("REGKB_T_LIST", " https://a.example , ,https://b.example")

	assert.Equal(t, 45*time.Second, getEnvDuration("REGKB_T_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("REGKB_T_BAD_DUR", time.Second))
	assert.False(t, getEnvBool("REGKB_T_BOOL", true))
	assert.True(t, getEnvBool("REGKB_T_MISSING", true))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvList("REGKB_T_LIST", nil))
	assert.Equal(t, []string{"*"}, getEnvList("REGKB_T_MISSING", []string{"*"}))
}

func TestEnvHelpers_WarnOnBadValues(t *testing.T) {
	logs.Reset()
	t.Setenv("REGKB_T_BAD_INT", "many")

	assert.Equal(t, 7, getEnvInt("REGKB_T_BAD_INT", 7))

	out := logs.String()
	assert.Contains(t, out, `"component":"config"`)
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"key":"REGKB_T_BAD_INT"`)
	assert.Contains(t, out, `"default":7`)
}
