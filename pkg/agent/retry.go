package agent

import (
	"math/rand"
	"time"
)

// retryBackoff computes a jittered backoff duration for the given
// 1-based attempt, grounded on
// yanun0323-go-hft/pkg/websocket/backoff.go's Backoff.Next, reused
// here for spec.md §4.7's "retried up to 3 times with jittered
// backoff" transient-gateway-error policy.
func retryBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	wait := base
	for i := 1; i < attempt; i++ {
		next := wait * 2
		if next > max {
			wait = max
			break
		}
		wait = next
	}
	jitter := float64(wait) * 0.2
	return wait - time.Duration(jitter) + time.Duration(rand.Float64()*2*jitter)
}
