// Package backoff computes retry delays for reconnection attempts.
package backoff

import "time"

// Default policy values.
const (
	DefaultBase = 1 * time.Second
	DefaultCap  = 30 * time.Second
)

// Policy computes exponential backoff delays. The zero value is not
// usable; construct with Default() or set Base and Cap explicitly.
type Policy struct {
	Base time.Duration // Delay for attempt 0
	Cap  time.Duration // Upper bound on any delay
}

// Default returns the standard policy (1s base, 30s cap).
func Default() Policy {
	return Policy{Base: DefaultBase, Cap: DefaultCap}
}

// Delay returns the wait before retry number attempt. Attempt counts
// from 0, so the first retry after the first failure waits Base.
// Callers pass the current counter value before incrementing it.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}

	if d > p.Cap {
		return p.Cap
	}
	return d
}
