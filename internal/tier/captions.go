package tier

import (
	"context"

	"golang.org/x/time/rate"

	"yt-transcripts/internal/model"
	"yt-transcripts/internal/ytdlp"
)

// Captions is tier 1: the platform's own caption tracks fetched directly.
type Captions struct {
	cfg     YTDLPConfig
	profile Profile
	limiter *rate.Limiter
	fetch   captionFetcher
}

func NewCaptions(cfg YTDLPConfig, ratePerSecond float64) *Captions {
	profile := Profile{RatePerSecond: ratePerSecond, Burst: 1}
	return &Captions{
		cfg:     cfg,
		profile: profile,
		limiter: NewLimiter(profile),
		fetch:   ytdlp.FetchCaptions,
	}
}

func (c *Captions) Name() string     { return NameCaptions }
func (c *Captions) Profile() Profile { return c.profile }

func (c *Captions) Attempt(ctx context.Context, item model.Item) (out model.Outcome) {
	defer guard(NameCaptions, &out)
	if failed := wait(ctx, c.limiter); failed != nil {
		return *failed
	}
	return extractCaptions(ctx, c.fetch, c.cfg, item, "")
}
