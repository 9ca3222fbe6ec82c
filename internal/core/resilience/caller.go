// Package resilience wraps outbound calls with bounded retries, per-attempt budgets and circuit breakers
package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	perr "github.com/markdave123-py/regkb/internal/platform/errors"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

// maxJitter is the largest jitter fraction added on top of the exponential delay
const maxJitter = 0.3

// Request is a replayable outbound HTTP request
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// RetryEvent describes one failed attempt that is about to be retried
type RetryEvent struct {
	Target     string
	Attempt    int
	Delay      time.Duration
	StatusCode int
	Err        error
	Elapsed    time.Duration
}

// Observer receives a RetryEvent before each retry sleep
type Observer func(RetryEvent)

// StatusError reports a non-2xx response from a dependency
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Caller performs retried calls. The zero value is not usable, use NewCaller
type Caller struct {
	http     *http.Client
	observer Observer
	log      logger.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	jitter   func() float64
}

// CallerOption configures a Caller
type CallerOption func(*Caller)

// WithHTTPClient sets the underlying http client. Its own Timeout should be zero
func WithHTTPClient(hc *http.Client) CallerOption { return func(c *Caller) { c.http = hc } }

// WithObserver registers a retry observer
func WithObserver(o Observer) CallerOption { return func(c *Caller) { c.observer = o } }

// NewCaller builds a Caller with a plain http client and real clock
func NewCaller(opts ...CallerOption) *Caller {
	c := &Caller{
		http:   &http.Client{},
		log:    *logger.Named("resilience"),
		now:    time.Now,
		sleep:  sleepCtx,
		jitter: rand.Float64,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do sends req, retrying retryable statuses and errors per cfg.
// A returned response is owned by the caller, who must close its body
func (c *Caller) Do(ctx context.Context, req Request, cfg Config) (*http.Response, error) {
	cfg = cfg.normalized()
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "invalid url %q", req.URL)
	}
	start := c.now()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, req, cfg)
		if err == nil && !cfg.retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !c.retryableError(cfg, err) {
				return nil, fmt.Errorf("%s %s: %w", req.method(), req.URL, err)
			}
		}

		if attempt >= cfg.MaxRetries {
			if err != nil {
				return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "%s %s: retries exhausted", req.method(), req.URL)
			}
			return resp, nil
		}

		delay := backoffDelay(cfg, attempt, c.jitter())
		status := 0
		if resp != nil {
			status = resp.StatusCode
			if ra := retryAfter(resp.Header, c.now()); ra > delay {
				delay = ra
			}
			_ = drainAndClose(resp.Body)
		}

		c.notify(RetryEvent{
			Target:     req.URL,
			Attempt:    attempt + 1,
			Delay:      delay,
			StatusCode: status,
			Err:        err,
			Elapsed:    c.now().Sub(start),
		})
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Run retries fn per cfg. Errors are retryable when they match cfg.RetryableErrors,
// are timeouts (unless cfg.NoTimeoutRetry), or are a *StatusError with a retryable status
func (c *Caller) Run(ctx context.Context, target string, cfg Config, fn func(context.Context) error) error {
	cfg = cfg.normalized()
	start := c.now()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		actx, cancel := WithBudget(ctx, cfg.Timeout)
		err := fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !c.retryableError(cfg, err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			return perr.Wrapf(err, perr.ErrorCodeUnavailable, "%s: retries exhausted", target)
		}

		delay := backoffDelay(cfg, attempt, c.jitter())
		status := 0
		var se *StatusError
		if errors.As(err, &se) {
			status = se.StatusCode
		}
		c.notify(RetryEvent{
			Target:     target,
			Attempt:    attempt + 1,
			Delay:      delay,
			StatusCode: status,
			Err:        err,
			Elapsed:    c.now().Sub(start),
		})
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (c *Caller) attempt(ctx context.Context, r Request, cfg Config) (*http.Response, error) {
	actx, cancel := WithBudget(ctx, cfg.Timeout)

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	hreq, err := http.NewRequestWithContext(actx, r.method(), r.URL, body)
	if err != nil {
		cancel()
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *Caller) retryableError(cfg Config, err error) bool {
	if isTimeout(err) {
		return !cfg.NoTimeoutRetry
	}
	var se *StatusError
	if errors.As(err, &se) {
		return cfg.retryableStatus(se.StatusCode)
	}
	msg := strings.ToLower(err.Error())
	for _, s := range cfg.RetryableErrors {
		if s != "" && strings.Contains(msg, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Caller) notify(ev RetryEvent) {
	ll := c.log.Warn().
		Str("target", ev.Target).
		Int("attempt", ev.Attempt).
		Dur("retry_in", ev.Delay).
		Dur("elapsed", ev.Elapsed)
	if ev.StatusCode != 0 {
		ll = ll.Int("status", ev.StatusCode)
	}
	if ev.Err != nil {
		ll = ll.Err(ev.Err)
	}
	ll.Msg("retrying call")

	if c.observer != nil {
		c.observer(ev)
	}
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// backoffDelay is min(initial*2^attempt + jitter, max) with jitter up to 30% of the exponential term
func backoffDelay(cfg Config, attempt int, j float64) time.Duration {
	if j < 0 {
		j = 0
	}
	if j > 1 {
		j = 1
	}
	base := float64(cfg.InitialDelay) * math.Pow(2, float64(attempt))
	d := base + base*maxJitter*j
	if d >= float64(cfg.MaxDelay) || math.IsInf(d, 0) {
		return cfg.MaxDelay
	}
	return time.Duration(math.Round(d))
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func drainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 512))
	return rc.Close()
}

// cancelOnClose releases the attempt context once the body is closed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
