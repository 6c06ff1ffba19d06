package provider

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// RateLimiter is a token bucket for throttling upstream API calls.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(rl.lastTime).Seconds()
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.lastTime = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}

		waitSec := (1.0 - rl.tokens) / rl.rate
		rl.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ThrottledGenerator waits for a limiter token before each generation.
// Waiting counts against the caller's deadline, so a saturated backend shows
// up as a timeout rather than an unbounded queue.
type ThrottledGenerator struct {
	next    domain.TextGenerator
	limiter *RateLimiter
}

func NewThrottledGenerator(next domain.TextGenerator, limiter *RateLimiter) *ThrottledGenerator {
	return &ThrottledGenerator{next: next, limiter: limiter}
}

func (t *ThrottledGenerator) Name() string { return t.next.Name() }

func (t *ThrottledGenerator) Generate(ctx context.Context, transcript []domain.Turn, systemInstruction string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", domain.NewServiceError(domain.CapabilityText, "throttle", err)
	}
	return t.next.Generate(ctx, transcript, systemInstruction)
}
