package grpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// actorLimiter keeps one token bucket per actor.
type actorLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newActorLimiter(rps float64, burst int) *actorLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &actorLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *actorLimiter) Allow(actor string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[actor]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[actor] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
