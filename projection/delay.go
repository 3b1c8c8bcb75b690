package projection

import (
	"math"
	"time"
)

// DelayFunc returns how long the applier pauses after a failure, given the
// number of consecutive failures before it (0 for the first one).
type DelayFunc func(failures int) time.Duration

// Fixed pauses for the same duration after every failure.
func Fixed(delay time.Duration) DelayFunc {
	return func(int) time.Duration {
		return delay
	}
}

// Exponential doubles the pause after each consecutive failure, starting at
// delay and capped at maxDelay:
//
//	failures 0: 1s
//	failures 1: 2s
//	failures 2: 4s
//	...
//	failures 5: 30s (with maxDelay 30s)
func Exponential(delay time.Duration, maxDelay time.Duration) DelayFunc {
	if delay <= 0 {
		return Fixed(0)
	}

	// Shifting further would overflow time.Duration.
	var maxShifts uint
	if logDelay := math.Floor(math.Log2(float64(delay))); logDelay < 62 {
		maxShifts = 62 - uint(logDelay)
	}

	return func(failures int) time.Duration {
		if failures <= 0 {
			return min(delay, maxDelay)
		}

		// nolint:gosec
		n := min(uint(failures), maxShifts)
		return min(delay<<n, maxDelay)
	}
}
