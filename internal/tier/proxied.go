package tier

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"yt-transcripts/internal/model"
	"yt-transcripts/internal/ytdlp"
)

// Proxied is tier 2: the caption fetch routed through a rotating egress pool.
type Proxied struct {
	cfg       YTDLPConfig
	pool      *EgressPool
	rotations int
	profile   Profile
	limiter   *rate.Limiter
	fetch     captionFetcher
}

// NewProxied builds tier 2. Rotations is how many extra identities one attempt may
// burn through on transient failures before reporting back to the chain.
func NewProxied(cfg YTDLPConfig, pool *EgressPool, rotations int, ratePerSecond float64) *Proxied {
	if rotations < 0 {
		rotations = 0
	}
	profile := Profile{RatePerSecond: ratePerSecond, Burst: 1, NeedsEgress: true}
	return &Proxied{
		cfg:       cfg,
		pool:      pool,
		rotations: rotations,
		profile:   profile,
		limiter:   NewLimiter(profile),
		fetch:     ytdlp.FetchCaptions,
	}
}

func (p *Proxied) Name() string     { return NameProxied }
func (p *Proxied) Profile() Profile { return p.profile }

func (p *Proxied) Attempt(ctx context.Context, item model.Item) (out model.Outcome) {
	defer guard(NameProxied, &out)

	for rotation := 0; rotation <= p.rotations; rotation++ {
		if failed := wait(ctx, p.limiter); failed != nil {
			return *failed
		}
		egress, err := p.pool.Acquire()
		if err != nil {
			return model.Failed(model.KindPermanentCredential, fmt.Sprintf("acquire egress: %v", err), 0)
		}
		out = extractCaptions(ctx, p.fetch, p.cfg, item, egress.URL)
		transient := out.Kind().IsTransient()
		p.pool.Report(egress, !transient)
		if !transient || ctx.Err() != nil {
			return out
		}
	}
	return out
}
