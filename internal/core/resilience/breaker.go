package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	perr "github.com/markdave123-py/regkb/internal/platform/errors"
	"github.com/markdave123-py/regkb/internal/platform/logger"
)

// ErrCircuitOpen is wrapped by errors returned for calls rejected by an open circuit
var ErrCircuitOpen = errors.New("circuit open")

// State is the circuit state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes one circuit.
//
// FailureThreshold: failures (net of decay) that open a closed circuit.
// ResetTimeout:     time since the last failure before an open circuit lets a probe through.
// HalfOpenMaxCalls: consecutive probe successes needed to close again.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig applies to circuits without an explicit Configure call
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	ResetTimeout:     30 * time.Second,
	HalfOpenMaxCalls: 2,
}

// CircuitStats is a snapshot of one circuit
type CircuitStats struct {
	State       State
	Failures    int
	Successes   int
	LastFailure time.Time
}

type circuit struct {
	cfg     BreakerConfig
	stats   CircuitStats
	probing bool
}

// Breakers owns the circuits of one running instance, keyed by dependency name.
// Construct once per process and share by reference
type Breakers struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	configs  map[string]BreakerConfig
	defaults BreakerConfig
	log      logger.Logger
	now      func() time.Time
}

// NewBreakers creates an empty registry using def for unconfigured names
func NewBreakers(def BreakerConfig) *Breakers {
	return &Breakers{
		circuits: make(map[string]*circuit),
		configs:  make(map[string]BreakerConfig),
		defaults: def.normalized(),
		log:      *logger.Named("breaker"),
		now:      time.Now,
	}
}

// Configure sets the config used when the named circuit is created
func (b *Breakers) Configure(name string, cfg BreakerConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.configs[name] = cfg.normalized()
	if c, ok := b.circuits[name]; ok {
		c.cfg = cfg.normalized()
	}
}

// CanCall reports whether a call to name may proceed now.
// An open circuit past its reset timeout moves to half-open and admits one probe;
// a half-open circuit admits one probe at a time
func (b *Breakers) CanCall(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(name)
	switch c.stats.State {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(c.stats.LastFailure) < c.cfg.ResetTimeout {
			return false
		}
		b.transition(name, c, StateHalfOpen)
		c.stats.Successes = 0
		c.probing = true
		return true
	default:
		if c.probing {
			return false
		}
		c.probing = true
		return true
	}
}

// RecordSuccess registers a successful call
func (b *Breakers) RecordSuccess(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(name)
	switch c.stats.State {
	case StateClosed:
		if c.stats.Failures > 0 {
			c.stats.Failures--
		}
	case StateHalfOpen:
		c.probing = false
		c.stats.Successes++
		if c.stats.Successes >= c.cfg.HalfOpenMaxCalls {
			c.stats.Failures = 0
			c.stats.Successes = 0
			b.transition(name, c, StateClosed)
		}
	}
}

// RecordFailure registers a failed call
func (b *Breakers) RecordFailure(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(name)
	c.stats.LastFailure = b.now()
	switch c.stats.State {
	case StateClosed:
		c.stats.Failures++
		if c.stats.Failures >= c.cfg.FailureThreshold {
			b.transition(name, c, StateOpen)
		}
	case StateHalfOpen:
		c.probing = false
		c.stats.Successes = 0
		b.transition(name, c, StateOpen)
	default:
		c.stats.Failures++
	}
}

// Stats returns a snapshot of the named circuit
func (b *Breakers) Stats(name string) CircuitStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(name).stats
}

// Wrap runs fn if the circuit allows it and records the outcome.
// A rejected call returns an error wrapping ErrCircuitOpen without invoking fn.
// Cancellation by the caller is not counted against the dependency
func (b *Breakers) Wrap(ctx context.Context, name string, fn func(context.Context) error) error {
	if !b.CanCall(name) {
		return perr.Wrapf(ErrCircuitOpen, perr.ErrorCodeUnavailable, "dependency %s unavailable", name)
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess(name)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.release(name)
	default:
		b.RecordFailure(name)
	}
	return err
}

// IsOpen reports whether err was caused by an open circuit
func IsOpen(err error) bool { return errors.Is(err, ErrCircuitOpen) }

func (b *Breakers) release(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.get(name).probing = false
}

// get returns the named circuit, creating it closed. Callers hold b.mu
func (b *Breakers) get(name string) *circuit {
	c, ok := b.circuits[name]
	if !ok {
		cfg, ok := b.configs[name]
		if !ok {
			cfg = b.defaults
		}
		c = &circuit{cfg: cfg}
		b.circuits[name] = c
	}
	return c
}

func (b *Breakers) transition(name string, c *circuit, to State) {
	from := c.stats.State
	c.stats.State = to
	b.log.Info().
		Str("circuit", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Int("failures", c.stats.Failures).
		Msg("circuit state change")
}

func (c BreakerConfig) normalized() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultBreakerConfig.ResetTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = DefaultBreakerConfig.HalfOpenMaxCalls
	}
	return c
}
