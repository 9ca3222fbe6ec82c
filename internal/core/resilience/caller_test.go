package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perr "github.com/markdave123-py/regkb/internal/platform/errors"
)

// newTestCaller returns a caller that records sleeps instead of sleeping
func newTestCaller(jitter float64, opts ...CallerOption) (*Caller, *[]time.Duration) {
	c := NewCaller(opts...)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	c.jitter = func() float64 { return jitter }
	return c, &slept
}

func flakyServer(t *testing.T, failures int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n <= failures {
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestCallerDo_RetriesUntilSuccess(t *testing.T) {
	srv, hits := flakyServer(t, 3, http.StatusServiceUnavailable)

	var events []RetryEvent
	c, slept := newTestCaller(0.5, WithObserver(func(ev RetryEvent) { events = append(events, ev) }))

	cfg := Config{MaxRetries: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond, Timeout: time.Second}
	resp, err := c.Do(context.Background(), Request{URL: srv.URL}, cfg)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(4), hits.Load())
	require.Len(t, *slept, 3)
	for i := 1; i < len(*slept); i++ {
		assert.GreaterOrEqual(t, (*slept)[i], (*slept)[i-1], "delays must not decrease")
	}
	for _, d := range *slept {
		assert.LessOrEqual(t, d, cfg.MaxDelay)
	}
	require.Len(t, events, 3)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, http.StatusServiceUnavailable, events[0].StatusCode)
}

func TestCallerDo_NonRetryableStatusReturnsImmediately(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity} {
		srv, hits := flakyServer(t, 1, status)
		c, slept := newTestCaller(0)

		resp, err := c.Do(context.Background(), Request{URL: srv.URL}, Preset(PresetExtraction))
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, status, resp.StatusCode)
		assert.Equal(t, int32(1), hits.Load())
		assert.Empty(t, *slept)
	}
}

func TestCallerDo_ExhaustedReturnsLastResponse(t *testing.T) {
	srv, hits := flakyServer(t, 100, http.StatusBadGateway)
	c, slept := newTestCaller(0)

	resp, err := c.Do(context.Background(), Request{URL: srv.URL}, Config{MaxRetries: 2, InitialDelay: time.Millisecond})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(3), hits.Load())
	assert.Len(t, *slept, 2)
}

func TestCallerDo_HonorsLargerRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, slept := newTestCaller(0)
	resp, err := c.Do(context.Background(), Request{URL: srv.URL}, Config{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: 2 * time.Second})
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, *slept, 1)
	assert.Equal(t, 7*time.Second, (*slept)[0])
}

func TestCallerDo_AttemptTimeoutIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, slept := newTestCaller(0)
	resp, err := c.Do(context.Background(), Request{URL: srv.URL}, Config{MaxRetries: 1, InitialDelay: time.Millisecond, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, *slept, 1)
}

func TestCallerDo_NoTimeoutRetrySendsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(200 * time.Millisecond):
		}
	}))
	defer srv.Close()

	cfg := Config{
		MaxRetries:        2,
		InitialDelay:      time.Millisecond,
		Timeout:           50 * time.Millisecond,
		RetryableStatuses: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
		RetryableErrors:   []string{"connection refused"},
		NoTimeoutRetry:    true,
	}
	c, slept := newTestCaller(0)
	_, err := c.Do(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: []byte(`{}`)}, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, *slept)
}

func TestCallerRun_NoTimeoutRetry(t *testing.T) {
	c, slept := newTestCaller(0)
	calls := 0
	err := c.Run(context.Background(), "append", Config{MaxRetries: 3, Timeout: 10 * time.Millisecond}.With(WithoutTimeoutRetry()),
		func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestCallerDo_RejectsInvalidURL(t *testing.T) {
	c, _ := newTestCaller(0)
	_, err := c.Do(context.Background(), Request{URL: "not a url"}, Config{})
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeValidation))
}

func TestCallerRun(t *testing.T) {
	t.Run("non retryable error propagates on first attempt", func(t *testing.T) {
		c, slept := newTestCaller(0)
		calls := 0
		err := c.Run(context.Background(), "svc", Config{MaxRetries: 3}, func(context.Context) error {
			calls++
			return errors.New("invalid argument")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, *slept)
	})

	t.Run("retryable error then success", func(t *testing.T) {
		c, slept := newTestCaller(0)
		calls := 0
		err := c.Run(context.Background(), "svc", Config{MaxRetries: 3, InitialDelay: time.Millisecond}, func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("read tcp: connection reset by peer")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Len(t, *slept, 2)
	})

	t.Run("status error classified by status", func(t *testing.T) {
		c, _ := newTestCaller(0)
		calls := 0
		err := c.Run(context.Background(), "svc", Config{MaxRetries: 2, InitialDelay: time.Millisecond}, func(context.Context) error {
			calls++
			return &StatusError{StatusCode: http.StatusServiceUnavailable}
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.True(t, perr.IsCode(err, perr.ErrorCodeUnavailable))
	})

	t.Run("cancelled parent stops retrying", func(t *testing.T) {
		c := NewCaller()
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := c.Run(ctx, "svc", Config{MaxRetries: 5, InitialDelay: time.Hour}, func(context.Context) error {
			calls++
			cancel()
			return errors.New("timeout")
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestBackoffDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}.normalized()

	tests := []struct {
		attempt int
		jitter  float64
		want    time.Duration
	}{
		{0, 0, 100 * time.Millisecond},
		{0, 1, 130 * time.Millisecond},
		{1, 0, 200 * time.Millisecond},
		{2, 0.5, 460 * time.Millisecond},
		{3, 0, 800 * time.Millisecond},
		{4, 0, time.Second},
		{60, 1, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(cfg, tt.attempt, tt.jitter), "attempt %d jitter %v", tt.attempt, tt.jitter)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h := http.Header{}
	assert.Zero(t, retryAfter(h, now))

	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(h, now))

	h.Set("Retry-After", now.Add(10*time.Second).Format(http.TimeFormat))
	assert.Equal(t, 10*time.Second, retryAfter(h, now))

	h.Set("Retry-After", "soon")
	assert.Zero(t, retryAfter(h, now))
}

func TestPresetOverrides(t *testing.T) {
	cfg := Preset(PresetEmbedding, WithMaxRetries(7), WithTimeout(time.Second))
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, 2, Presets[PresetEmbedding].MaxRetries, "preset must not be mutated")
}
