package realtime

import (
	"math"
	"time"
)

// BackoffCalculator maps a reconnect attempt number (starting at 1) to the
// delay to wait before making that attempt.
type BackoffCalculator func(attempt int) time.Duration

// LinearBackoff scales the base delay with the attempt number: base×1,
// base×2, base×3 and so on.
func LinearBackoff(base time.Duration) BackoffCalculator {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return time.Duration(attempt) * base
	}
}

// ExponentialBackoff doubles the wait on every attempt, starting at about
// half a second.
func ExponentialBackoff(attempt int) time.Duration {
	return time.Duration((math.Pow(2.0, float64(attempt))-1)/2) * time.Second
}
