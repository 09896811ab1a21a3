package retry

import "time"

// MaxBackoff bounds every delay Backoff returns.
const MaxBackoff = 10 * time.Minute

// Backoff returns the delay before retry number n (1-based): base * 2^(n-1),
// capped at max. A non-positive max, or one above MaxBackoff, caps at
// MaxBackoff instead.
func Backoff(base, max time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if base <= 0 {
		return 0
	}
	if max <= 0 || max > MaxBackoff {
		max = MaxBackoff
	}
	d := base
	for i := 1; i < n && d < max; i++ {
		// Doubling past max/2 would only be clamped, and may overflow.
		if d > max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
