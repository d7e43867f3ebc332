// Package tier holds the extraction backends tried in order by the chain.
package tier

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"yt-transcripts/internal/model"
)

const (
	NameCaptions = "captions"
	NameProxied  = "proxied"
	NameManaged  = "managed"
)

// Profile describes the cost and limits of a tier.
type Profile struct {
	Metered       bool
	RatePerSecond float64
	Burst         int
	NeedsEgress   bool
}

// Tier is one acquisition method. Attempt never panics and never returns
// both success and failure.
type Tier interface {
	Name() string
	Profile() Profile
	Attempt(ctx context.Context, item model.Item) model.Outcome
}

// NewLimiter builds the limiter shared by every worker using a tier.
// A non-positive rate means unlimited.
func NewLimiter(p Profile) *rate.Limiter {
	if p.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := p.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.RatePerSecond), burst)
}

// wait blocks on the shared limiter. A cancelled wait is reported as a network failure
// so the chain treats it as transient.
func wait(ctx context.Context, limiter *rate.Limiter) *model.Outcome {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		out := model.Failed(model.KindNetwork, fmt.Sprintf("rate limiter wait: %v", err), 0)
		return &out
	}
	return nil
}

// guard converts a panic inside a tier into an internal failure.
func guard(name string, out *model.Outcome) {
	if r := recover(); r != nil {
		*out = model.Failed(model.KindInternalFault, fmt.Sprintf("%s tier panic: %v", name, r), 0)
	}
}
