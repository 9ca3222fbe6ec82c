// Package ratelimit implements a fixed-window limiter with a penalty block,
// backed by a shared store and falling back to process memory when the store fails
package ratelimit

import (
	"context"
	"time"

	"github.com/markdave123-py/regkb/internal/core/resilience"
	"github.com/markdave123-py/regkb/internal/models"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

// Config tunes the limiter.
//
// MaxRequests:   requests allowed per window.
// Window:        fixed window length.
// BlockDuration: penalty applied once a client exceeds MaxRequests, independent of Window.
// StoreTimeout:  budget for each shared store round trip.
type Config struct {
	MaxRequests   int
	Window        time.Duration
	BlockDuration time.Duration
	StoreTimeout  time.Duration
}

// Decision is the outcome of one Check
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Store advances entries atomically. The Postgres client and MemoryStore implement it
type Store interface {
	HitRateLimit(ctx context.Context, clientID string, now time.Time, p models.RateLimitPolicy) (models.RateLimitEntry, error)
}

// Limiter checks clients against a fixed window. It holds no lock of its own;
// each store serializes updates per client.
type Limiter struct {
	cfg      Config
	policy   models.RateLimitPolicy
	store    Store
	shared   bool
	fallback *MemoryStore
	log      logger.Logger
	now      func() time.Time
}

// New returns a limiter over store. A nil store keeps state in process memory only
func New(cfg Config, store Store) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = cfg.Window
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	fallback := NewMemoryStore()
	shared := store != nil
	if !shared {
		store = fallback
	}
	return &Limiter{
		cfg: cfg,
		policy: models.RateLimitPolicy{
			MaxRequests:   cfg.MaxRequests,
			Window:        cfg.Window,
			BlockDuration: cfg.BlockDuration,
		},
		store:    store,
		shared:   shared,
		fallback: fallback,
		log:      *logger.Named("ratelimit"),
		now:      time.Now,
	}
}

// Check counts one request for clientID and reports whether it is allowed.
// When the shared store errors the same algorithm runs against the in-process map
func (l *Limiter) Check(ctx context.Context, clientID string) Decision {
	now := l.now()
	if l.shared {
		d, err := l.check(ctx, l.store, clientID, now)
		if err == nil {
			return d
		}
		l.log.Warn().Err(err).Str("client_id", clientID).Msg("rate limit store unavailable, using in-memory fallback")
	}
	d, _ := l.check(ctx, l.fallback, clientID, now)
	return d
}

func (l *Limiter) check(ctx context.Context, store Store, clientID string, now time.Time) (Decision, error) {
	lctx, cancel := resilience.WithBudget(ctx, l.cfg.StoreTimeout)
	defer cancel()

	e, err := store.HitRateLimit(lctx, clientID, now, l.policy)
	if err != nil {
		return Decision{}, err
	}
	if now.Before(e.BlockedUntil) {
		return l.deny(e.BlockedUntil, now), nil
	}
	return Decision{
		Allowed:   true,
		Remaining: max(l.cfg.MaxRequests-e.Count, 0),
		ResetAt:   e.WindowStart.Add(l.cfg.Window),
	}, nil
}

func (l *Limiter) deny(until, now time.Time) Decision {
	return Decision{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    until,
		RetryAfter: until.Sub(now),
	}
}
