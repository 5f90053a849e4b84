package sender

import "time"

// Backoff returns the delay before retry attempt n (0-based: the delay after
// the first failure is Backoff(0)). Exponential doubling from base, capped.
func Backoff(n int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if cap <= 0 {
		cap = time.Hour
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
