package resilience

import (
	"context"
	"time"
)

// Remaining returns the time until the deadline on ctx, or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 0
}

// WithBudget returns a child bounded by the tighter of d and the parent's remaining time.
// It never extends the parent deadline. d <= 0 only inherits the parent deadline
func WithBudget(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
