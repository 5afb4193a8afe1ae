package webhook

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	contractx "github.com/tanpawarit/chative-voicebot/agent/contract"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// callerLimiter keeps one token bucket per caller id. Buckets idle for
// limiterIdleTTL are dropped on the next lookup.
type callerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	every    rate.Limit
	burst    int
	now      func() time.Time
}

func newCallerLimiter(perMin, burst int) *callerLimiter {
	if perMin <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMin
	}
	return &callerLimiter{
		limiters: make(map[string]*limiterEntry),
		every:    rate.Every(time.Minute / time.Duration(perMin)),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *callerLimiter) Allow(callerID string) bool {
	if l == nil {
		return true
	}
	key := contractx.NormalizeCallerID(callerID)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.limiters, k)
		}
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
