package radio

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// injectLimiter caps frames per second with a token bucket. A nil limiter
// allows everything.
type injectLimiter struct {
	limiter  *rate.Limiter
	allowed  atomic.Int64
	rejected atomic.Int64
}

func newInjectLimiter(perSec, burst int) *injectLimiter {
	if perSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perSec * 2
	}
	return &injectLimiter{limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (l *injectLimiter) Allow() bool {
	if l == nil {
		return true
	}
	if l.limiter.Allow() {
		l.allowed.Add(1)
		return true
	}
	l.rejected.Add(1)
	return false
}

// InjectStats reports limiter counters.
type InjectStats struct {
	Allowed  int64
	Rejected int64
}

func (l *injectLimiter) Stats() InjectStats {
	if l == nil {
		return InjectStats{}
	}
	return InjectStats{Allowed: l.allowed.Load(), Rejected: l.rejected.Load()}
}
