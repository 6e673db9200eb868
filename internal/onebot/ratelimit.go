package onebot

import (
	"context"
	"sync"
	"time"
)

// sendLimiter is a token bucket shared by every outbound gateway call.
// Gateways tend to mute accounts that post bursts to many groups at once.
type sendLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

// newSendLimiter returns nil when perMinute is not positive, which disables
// throttling.
func newSendLimiter(burst int, perMinute float64) *sendLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &sendLimiter{
		tokens:   float64(burst),
		max:      float64(burst),
		rate:     perMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait takes one token, blocking until one is available or ctx is done.
func (l *sendLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		l.mu.Lock()
		now := time.Now()
		l.tokens += now.Sub(l.lastTime).Seconds() * l.rate
		if l.tokens > l.max {
			l.tokens = l.max
		}
		l.lastTime = now

		if l.tokens >= 1.0 {
			l.tokens -= 1.0
			l.mu.Unlock()
			return nil
		}

		wait := time.Duration((1.0 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
