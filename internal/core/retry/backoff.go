package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: Base * 2^attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Jitter spreads each delay by up to ±Jitter (fraction of the delay).
	// Zero keeps the delay deterministic.
	Jitter float64
}

// DefaultBackoff is 1s, 2s, 4s, ... capped at 60s.
var DefaultBackoff = Backoff{
	Base: 1 * time.Second,
	Max:  60 * time.Second,
}

// Delay returns the delay before retry number attempt (zero-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.Jitter > 0 {
		delay += delay * b.Jitter * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}
