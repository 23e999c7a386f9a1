package backoff

import (
	"time"

	"github.com/sethvargo/go-retry"
)

const maxSteps = 62

// Delay returns the capped exponential delay for a 1-based attempt number:
// base, 2*base, 4*base, ... never exceeding max when max is positive.
func Delay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > maxSteps {
		attempt = maxSteps
	}

	b := retry.NewExponential(base)
	if max > 0 {
		b = retry.WithCappedDuration(max, b)
	}

	var next time.Duration
	for i := 0; i < attempt; i++ {
		next, _ = b.Next()
		// stop at the cap before the shift can wrap around
		if max > 0 && next >= max {
			return max
		}
	}
	return next
}
