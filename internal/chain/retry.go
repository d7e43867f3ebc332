package chain

import (
	"context"
	"math"
	"time"

	"yt-transcripts/internal/model"
)

// RetryConfig bounds same-tier retries. Attempt bounds count every try on the tier,
// including the first one.
type RetryConfig struct {
	RateLimitAttempts int
	NetworkAttempts   int
	InitialDelay      time.Duration
	Multiplier        float64
	MaxDelay          time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		RateLimitAttempts: 3,
		NetworkAttempts:   2,
		InitialDelay:      2 * time.Second,
		Multiplier:        2.0,
		MaxDelay:          60 * time.Second,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.RateLimitAttempts < 1 {
		c.RateLimitAttempts = def.RateLimitAttempts
	}
	if c.NetworkAttempts < 1 {
		c.NetworkAttempts = def.NetworkAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	return c
}

func (c RetryConfig) attemptBound(kind model.ErrorKind) int {
	switch kind {
	case model.KindRateLimited:
		return c.RateLimitAttempts
	case model.KindNetwork:
		return c.NetworkAttempts
	}
	return 1
}

// backoff returns the delay before retry number n (zero based).
// A larger server hint wins; both are capped by MaxDelay.
func (c RetryConfig) backoff(n int, hint time.Duration) time.Duration {
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(n)))
	if delay > c.MaxDelay || delay < 0 {
		delay = c.MaxDelay
	}
	if hint > delay {
		delay = hint
	}
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
