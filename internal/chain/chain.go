// Package chain runs an item through the ordered extraction tiers and decides,
// per failure, whether to retry in place, fall through, disable the tier or abort.
package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"yt-transcripts/internal/classify"
	"yt-transcripts/internal/model"
	"yt-transcripts/internal/tier"
)

// Observer receives every attempt and tier disable decision. Implementations must be safe
// for concurrent use.
type Observer interface {
	AttemptFinished(tierName string, outcome model.Outcome, elapsed time.Duration)
	TierDisabled(tierName string, kind model.ErrorKind)
}

// Result is the chain's verdict for one item.
type Result struct {
	Status   model.Status
	Kind     model.ErrorKind
	Method   string
	Success  *model.Success
	Attempts []model.Attempt
	Detail   string
}

type Option func(*Policy)

func WithRetry(cfg RetryConfig) Option {
	return func(p *Policy) { p.retry = cfg.normalized() }
}

func WithSleeper(s Sleeper) Option {
	return func(p *Policy) {
		if s != nil {
			p.sleep = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(p *Policy) { p.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// Policy is shared by all workers of a session. The disabled set is session wide.
type Policy struct {
	tiers    []tier.Tier
	retry    RetryConfig
	sleep    Sleeper
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	disabled map[string]model.ErrorKind
}

func New(tiers []tier.Tier, opts ...Option) *Policy {
	p := &Policy{
		tiers:    append([]tier.Tier(nil), tiers...),
		retry:    DefaultRetryConfig(),
		sleep:    sleepContext,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		disabled: map[string]model.ErrorKind{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TierNames lists the configured tiers in chain order.
func (p *Policy) TierNames() []string {
	names := make([]string, 0, len(p.tiers))
	for _, t := range p.tiers {
		names = append(names, t.Name())
	}
	return names
}

// Disabled returns the tiers switched off this session and the kind that caused it.
func (p *Policy) Disabled() map[string]model.ErrorKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]model.ErrorKind, len(p.disabled))
	for k, v := range p.disabled {
		out[k] = v
	}
	return out
}

func (p *Policy) isDisabled(name string) (model.ErrorKind, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kind, ok := p.disabled[name]
	return kind, ok
}

func (p *Policy) disable(name string, kind model.ErrorKind, detail string) {
	p.mu.Lock()
	_, already := p.disabled[name]
	if !already {
		p.disabled[name] = kind
	}
	p.mu.Unlock()
	if already {
		return
	}
	p.logger.Warn("tier disabled for session", "tier", name, "kind", kind, "detail", truncate(detail, 240))
	if p.observer != nil {
		p.observer.TierDisabled(name, kind)
	}
}

// Execute tries the tiers in order. The item's source hint is ignored: every item
// starts at the first enabled tier.
func (p *Policy) Execute(ctx context.Context, item model.Item) Result {
	return p.ExecuteUntil(ctx, item, nil)
}

// ExecuteUntil is Execute with a stop signal. Once stop is closed the attempt in
// progress finishes and the item ends failed_retryable with detail "stopped".
func (p *Policy) ExecuteUntil(ctx context.Context, item model.Item, stop <-chan struct{}) Result {
	res := Result{}
	var (
		attempted    bool
		anyTransient bool
		lastKind     model.ErrorKind
		lastDetail   string
		disabledKind model.ErrorKind
	)

	for _, t := range p.tiers {
		name := t.Name()
		if kind, off := p.isDisabled(name); off {
			disabledKind = kind
			continue
		}

		tries := map[model.ErrorKind]int{}
		var tierLast model.ErrorKind
	tierLoop:
		for {
			if err := ctx.Err(); err != nil {
				res.Status = model.StatusFailedRetryable
				res.Kind = model.KindNetwork
				res.Detail = fmt.Sprintf("interrupted: %v", err)
				return res
			}

			out, elapsed := p.attempt(ctx, t, item)
			attempted = true
			res.Attempts = append(res.Attempts, model.Attempt{
				Tier:    name,
				At:      p.now().UTC(),
				Outcome: out.Label(),
				Detail:  truncate(out.Message(), 500),
			})
			if p.observer != nil {
				p.observer.AttemptFinished(name, out, elapsed)
			}

			if out.OK() {
				res.Status = model.StatusSucceeded
				res.Method = name
				res.Success = out.Success
				res.Kind = ""
				res.Detail = ""
				return res
			}

			kind := out.Kind()
			tierLast = kind
			lastKind = kind
			lastDetail = out.Message()
			tries[kind]++

			switch classify.Propagate(kind) {
			case classify.Abort:
				res.Status = model.StatusFailedPermanent
				res.Kind = kind
				res.Detail = truncate(lastDetail, 500)
				p.logger.Debug("chain aborted", "item", item.ID, "tier", name, "kind", kind)
				return res
			case classify.DisableTier:
				p.disable(name, kind, lastDetail)
				if stopped(stop) {
					return p.stoppedResult(res, item, name, kind)
				}
				break tierLoop
			case classify.NextTier:
				if stopped(stop) {
					return p.stoppedResult(res, item, name, kind)
				}
				break tierLoop
			case classify.RetrySameTier:
				if stopped(stop) {
					return p.stoppedResult(res, item, name, kind)
				}
				if tries[kind] >= p.retry.attemptBound(kind) {
					break tierLoop
				}
				var hint time.Duration
				if out.Failure != nil {
					hint = out.Failure.RetryAfter
				}
				delay := p.retry.backoff(tries[kind]-1, hint)
				p.logger.Debug("retrying tier", "item", item.ID, "tier", name, "kind", kind, "delay", delay)
				if err := p.pause(ctx, delay, stop); err != nil {
					if errors.Is(err, errStopped) {
						return p.stoppedResult(res, item, name, kind)
					}
					res.Status = model.StatusFailedRetryable
					res.Kind = kind
					res.Detail = fmt.Sprintf("interrupted during backoff: %v", err)
					return res
				}
			}
		}
		if tierLast.IsTransient() {
			anyTransient = true
		}
	}

	if !attempted {
		res.Status = model.StatusFailedRetryable
		res.Kind = disabledKind
		if res.Kind == "" {
			res.Kind = model.KindNotFoundOnTier
		}
		res.Detail = "no extraction tier available"
		return res
	}

	res.Kind = lastKind
	res.Detail = truncate(lastDetail, 500)
	if anyTransient {
		res.Status = model.StatusFailedRetryable
	} else {
		res.Status = model.StatusFailedPermanent
	}
	return res
}

var errStopped = errors.New("stopped")

func stopped(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

func (p *Policy) stoppedResult(res Result, item model.Item, tierName string, kind model.ErrorKind) Result {
	res.Status = model.StatusFailedRetryable
	res.Kind = kind
	res.Detail = errStopped.Error()
	p.logger.Debug("chain stopped", "item", item.ID, "tier", tierName, "kind", kind)
	return res
}

// pause runs the sleeper and cuts it short when stop closes.
func (p *Policy) pause(ctx context.Context, d time.Duration, stop <-chan struct{}) error {
	if stop == nil {
		return p.sleep(ctx, d)
	}
	sctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-stop:
			cancel(errStopped)
		case <-sctx.Done():
		}
	}()
	err := p.sleep(sctx, d)
	if stopped(stop) {
		return errStopped
	}
	return err
}

func (p *Policy) attempt(ctx context.Context, t tier.Tier, item model.Item) (out model.Outcome, elapsed time.Duration) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = model.Failed(model.KindInternalFault, fmt.Sprintf("%s attempt panic: %v", t.Name(), r), 0)
		}
		elapsed = time.Since(start)
	}()
	out = t.Attempt(ctx, item)
	if !out.OK() && out.Failure == nil {
		out = model.Failed(model.KindInternalFault, t.Name()+" returned an empty outcome", 0)
	}
	return out, elapsed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
