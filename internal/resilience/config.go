package resilience

import (
	"time"
)

// FromConfig builds a Policy from config values. Zero or negative values keep
// the defaults, except jitter where zero disables it.
func FromConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, jitterFraction float64) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		p.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		p.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	if jitterFraction >= 0 {
		p.JitterFraction = jitterFraction
	}
	return p
}
