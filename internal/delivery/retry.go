package delivery

import "time"

// RetryPolicy defines the exponential backoff parameters for delivery
// attempts. An envelope gets at most MaxRetries+1 attempts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Backoff computes the delay after the i-th failed attempt (0-based):
// min(BaseDelay * 2^i, MaxDelay).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay < 0 {
			// Cap early; also guards against overflow.
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
