package resilience

import (
	"net/http"
	"time"
)

// Config tunes one retried call.
//
// MaxRetries:        retries after the first attempt (0 means a single attempt).
// InitialDelay:      delay before the first retry, doubled per attempt.
// MaxDelay:          upper bound of a computed delay.
// RetryableStatuses: HTTP statuses that trigger a retry.
// RetryableErrors:   lower-case substrings of error messages that trigger a retry.
// Timeout:           per-attempt budget, always clipped to the parent deadline.
// NoTimeoutRetry:    an attempt that hit its timeout is final; set it for requests that are not idempotent.
type Config struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	RetryableStatuses []int
	RetryableErrors   []string
	Timeout           time.Duration
	NoTimeoutRetry    bool
}

// Preset names for the dependencies the service talks to
const (
	PresetExtraction    = "extraction"
	PresetEmbedding     = "embedding"
	PresetMetadataLLM   = "metadata_llm"
	PresetMetadataStore = "metadata_store"
)

var defaultRetryableStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

var defaultRetryableErrors = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"econnreset",
	"etimedout",
	"broken pipe",
	"unexpected eof",
	"tls handshake",
}

// Presets holds the named per-dependency defaults. Callers copy and override with Config.With
var Presets = map[string]Config{
	PresetExtraction: {
		MaxRetries:   2,
		InitialDelay: 2 * time.Second,
		MaxDelay:     15 * time.Second,
		Timeout:      90 * time.Second,
	},
	PresetEmbedding: {
		MaxRetries:      2,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        4 * time.Second,
		Timeout:         20 * time.Second,
		RetryableErrors: append([]string{"resource_exhausted", "resource exhausted", "unavailable", "429", "503"}, defaultRetryableErrors...),
	},
	PresetMetadataLLM: {
		MaxRetries:      2,
		InitialDelay:    time.Second,
		MaxDelay:        8 * time.Second,
		Timeout:         30 * time.Second,
		RetryableErrors: append([]string{"resource_exhausted", "resource exhausted", "unavailable"}, defaultRetryableErrors...),
	},
	PresetMetadataStore: {
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Timeout:      10 * time.Second,
	},
}

// Preset returns the named preset with overrides applied. Unknown names start from the zero Config
func Preset(name string, opts ...Option) Config {
	return Presets[name].With(opts...)
}

// Option overrides a single Config field
type Option func(*Config)

// With returns a copy of c with opts applied
func (c Config) With(opts ...Option) Config {
	out := c
	out.RetryableStatuses = append([]int(nil), c.RetryableStatuses...)
	out.RetryableErrors = append([]string(nil), c.RetryableErrors...)
	for _, o := range opts {
		o(&out)
	}
	return out
}

// WithMaxRetries overrides MaxRetries
func WithMaxRetries(n int) Option { return func(c *Config) { c.MaxRetries = n } }

// WithInitialDelay overrides InitialDelay
func WithInitialDelay(d time.Duration) Option { return func(c *Config) { c.InitialDelay = d } }

// WithMaxDelay overrides MaxDelay
func WithMaxDelay(d time.Duration) Option { return func(c *Config) { c.MaxDelay = d } }

// WithTimeout overrides the per-attempt timeout
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

// WithoutTimeoutRetry stops retrying attempts that timed out
func WithoutTimeoutRetry() Option { return func(c *Config) { c.NoTimeoutRetry = true } }

// WithRetryableStatuses replaces the retryable status list
func WithRetryableStatuses(s ...int) Option {
	return func(c *Config) { c.RetryableStatuses = append([]int(nil), s...) }
}

// WithRetryableErrors replaces the retryable error substrings
func WithRetryableErrors(s ...string) Option {
	return func(c *Config) { c.RetryableErrors = append([]string(nil), s...) }
}

// normalized fills zero fields with usable defaults
func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.RetryableStatuses == nil {
		c.RetryableStatuses = defaultRetryableStatuses
	}
	if c.RetryableErrors == nil {
		c.RetryableErrors = defaultRetryableErrors
	}
	return c
}

func (c Config) retryableStatus(code int) bool {
	for _, s := range c.RetryableStatuses {
		if s == code {
			return true
		}
	}
	return false
}
