// Package harvest drives a session: a fixed pool of workers pulls items off a
// shared queue, runs each through the extraction chain, writes transcripts and
// records every state change in the session store.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"yt-transcripts/internal/cache"
	"yt-transcripts/internal/chain"
	"yt-transcripts/internal/model"
	"yt-transcripts/internal/output"
	"yt-transcripts/internal/runstore"
)

const (
	MinConcurrency = 2
	MaxConcurrency = 20
)

// Extractor runs one item through the tier chain. Once stop is closed it must
// return after the tier attempt in progress.
type Extractor interface {
	ExecuteUntil(ctx context.Context, item model.Item, stop <-chan struct{}) chain.Result
}

// TranscriptWriter persists a succeeded item and returns its path relative to
// the session directory.
type TranscriptWriter interface {
	Write(sessionDir string, item model.Item) (string, error)
}

type Cache interface {
	Get(ctx context.Context, identity string) (cache.Entry, bool, error)
	Put(ctx context.Context, e cache.Entry) error
}

// Recorder receives item level metrics.
type Recorder interface {
	ItemStarted()
	ItemFinished(status model.Status, method string)
}

// Event is emitted after every recorded status change. OnEvent is called from
// worker goroutines and must be safe for concurrent use.
type Event struct {
	SessionID string
	Identity  string
	From      model.Status
	To        model.Status
	Tier      string
	Method    string
	Kind      model.ErrorKind
	Detail    string
	Counters  model.Counters
	At        time.Time
}

type Options struct {
	Session      *runstore.Session
	Extractor    Extractor
	Writer       TranscriptWriter
	Cache        Cache
	Concurrency  int
	MaxRequeues  int
	RequeueDelay time.Duration
	OnEvent      func(Event)
	Logger       *slog.Logger
	Metrics      Recorder
	Now          func() time.Time
}

// Snapshot is a point-in-time view of a running session.
type Snapshot struct {
	SessionID string
	Counters  model.Counters
	InFlight  []string
	Queued    int
	Stopping  bool
	Done      bool
}

type Result struct {
	SessionID string                     `json:"session_id"`
	Dir       string                     `json:"dir"`
	Counters  model.Counters             `json:"counters"`
	Processed int                        `json:"processed"`
	Stopped   bool                       `json:"stopped"`
	Disabled  map[string]model.ErrorKind `json:"disabled_tiers,omitempty"`
	Summary   []string                   `json:"summary"`
}

// ClampConcurrency keeps the worker count inside [MinConcurrency, MaxConcurrency].
func ClampConcurrency(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// Run starts the session and blocks until it finishes or stops.
func Run(ctx context.Context, opts Options) (Result, error) {
	h, err := Start(ctx, opts)
	if err != nil {
		return Result{}, err
	}
	return h.Wait()
}

// Handle controls a running session.
type Handle struct {
	r      *runner
	group  *errgroup.Group
	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

// Start validates the options, queues every runnable item and launches the workers.
func Start(ctx context.Context, opts Options) (*Handle, error) {
	if opts.Session == nil {
		return nil, errors.New("harvest: session is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("harvest: extractor is required")
	}
	if opts.Writer == nil {
		opts.Writer = output.NewWriter()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxRequeues < 0 {
		opts.MaxRequeues = 0
	}
	items := opts.Session.Items()
	if len(items) == 0 {
		return nil, errors.New("harvest: session has no items")
	}

	r := newRunner(opts)
	for _, it := range items {
		if !model.IsRunnable(it.Status) {
			continue
		}
		if it.Status == model.StatusFailedRetryable {
			if err := r.transition(it, model.StatusPending, "queued for retry"); err != nil {
				return nil, err
			}
		}
		r.queue = append(r.queue, queueEntry{id: it.ID})
	}

	workers := ClampConcurrency(opts.Concurrency)
	r.logger.Info("session started",
		"session", opts.Session.ID(),
		"items", len(items),
		"queued", len(r.queue),
		"workers", workers,
	)

	g, gctx := errgroup.WithContext(ctx)
	stopWake := context.AfterFunc(gctx, r.wake)
	for w := 1; w <= workers; w++ {
		g.Go(func() error {
			return r.work(gctx, w)
		})
	}

	h := &Handle{r: r, group: g, done: make(chan struct{})}
	go func() {
		h.err = g.Wait()
		stopWake()
		h.result, h.err = r.finish(h.err)
		close(h.done)
	}()
	return h, nil
}

// Poll returns the current counters and in-flight identities.
func (h *Handle) Poll() Snapshot {
	r := h.r
	r.mu.Lock()
	inFlight := make([]string, 0, len(r.inFlight))
	for id := range r.inFlight {
		inFlight = append(inFlight, id)
	}
	queued := len(r.queue)
	stopping := r.stopping
	r.mu.Unlock()
	sort.Strings(inFlight)

	done := false
	select {
	case <-h.done:
		done = true
	default:
	}
	return Snapshot{
		SessionID: r.session.ID(),
		Counters:  r.session.Counters(),
		InFlight:  inFlight,
		Queued:    queued,
		Stopping:  stopping,
		Done:      done,
	}
}

// RequestStop prevents new items from starting. In-flight items end after their
// current tier attempt and stay resumable.
func (h *Handle) RequestStop() {
	h.r.requestStop()
}

// Done is closed once the session has finished and its summary is persisted.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until all workers exit.
func (h *Handle) Wait() (Result, error) {
	<-h.done
	return h.result, h.err
}

type queueEntry struct {
	id      string
	readyAt time.Time
}

type runner struct {
	opts    Options
	session *runstore.Session
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []queueEntry
	active    int
	inFlight  map[string]struct{}
	stopping  bool
	stopCh    chan struct{}
	processed int
}

func newRunner(opts Options) *runner {
	r := &runner{
		opts:     opts,
		session:  opts.Session,
		logger:   opts.Logger.With("component", "harvest", "session", opts.Session.ID()),
		now:      opts.Now,
		inFlight: map[string]struct{}{},
		stopCh:   make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *runner) wake() {
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

func (r *runner) requestStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return
	}
	r.stopping = true
	close(r.stopCh)
	r.cond.Broadcast()
	r.logger.Info("stop requested; waiting for in-flight items", "in_flight", len(r.inFlight))
}

func (r *runner) isStopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// next blocks until an item is available or no more work can appear.
func (r *runner) next(ctx context.Context) (queueEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if r.stopping || ctx.Err() != nil {
			return queueEntry{}, false
		}
		if len(r.queue) > 0 {
			e := r.queue[0]
			r.queue = r.queue[1:]
			r.active++
			r.inFlight[e.id] = struct{}{}
			return e, true
		}
		if r.active == 0 {
			return queueEntry{}, false
		}
		r.cond.Wait()
	}
}

func (r *runner) release(id string, requeue bool, readyAt time.Time, processed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
	delete(r.inFlight, id)
	if processed {
		r.processed++
	}
	if requeue {
		r.queue = append(r.queue, queueEntry{id: id, readyAt: readyAt})
	}
	r.cond.Broadcast()
}

func (r *runner) work(ctx context.Context, worker int) error {
	for {
		e, ok := r.next(ctx)
		if !ok {
			return nil
		}
		if !r.waitReady(ctx, e.readyAt) {
			r.release(e.id, false, time.Time{}, false)
			continue
		}
		requeue, err := r.process(ctx, e.id)
		if err != nil {
			r.release(e.id, false, time.Time{}, true)
			return fmt.Errorf("worker %d: %w", worker, err)
		}
		readyAt := time.Time{}
		if requeue {
			readyAt = r.now().Add(r.opts.RequeueDelay)
		}
		r.release(e.id, requeue, readyAt, true)
	}
}

func (r *runner) waitReady(ctx context.Context, readyAt time.Time) bool {
	d := readyAt.Sub(r.now())
	if readyAt.IsZero() || d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	}
}

// process runs one item from pending to a recorded final status. It returns
// whether the item was put back to pending for another pass.
func (r *runner) process(ctx context.Context, id string) (bool, error) {
	item, ok := r.session.Item(id)
	if !ok {
		return false, fmt.Errorf("unknown item %q", id)
	}
	if item.Status != model.StatusPending {
		return false, nil
	}

	running := item.Clone()
	if err := model.TransitionItem(&running, model.StatusInProgress, ""); err != nil {
		return false, err
	}
	running.ErrorKind = ""
	running.Result = nil
	if err := r.record(item.Status, running); err != nil {
		return false, err
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.ItemStarted()
	}

	final := r.extract(ctx, running)
	if err := r.record(model.StatusInProgress, final); err != nil {
		return false, err
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.ItemFinished(final.Status, final.Method())
	}
	r.logResult(final)

	if final.Status != model.StatusFailedRetryable || final.Requeues >= r.opts.MaxRequeues {
		return false, nil
	}
	if r.isStopping() || ctx.Err() != nil {
		return false, nil
	}
	again := final.Clone()
	again.Requeues++
	if err := model.TransitionItem(&again, model.StatusPending, fmt.Sprintf("requeued (%d/%d)", again.Requeues, r.opts.MaxRequeues)); err != nil {
		return false, err
	}
	if err := r.record(final.Status, again); err != nil {
		return false, err
	}
	return true, nil
}

// extract produces the final state of an in_progress item. A panic anywhere in
// here ends the item as failed_permanent instead of killing the worker.
func (r *runner) extract(ctx context.Context, item model.Item) (out model.Item) {
	defer func() {
		if p := recover(); p != nil {
			failed := item.Clone()
			failed.Result = nil
			failed.Status = model.StatusFailedPermanent
			failed.ErrorKind = model.KindInternalFault
			failed.Detail = fmt.Sprintf("worker panic: %v", p)
			r.logger.Error("item panicked", "item", item.ID, "panic", p)
			out = failed
		}
	}()

	if hit, ok := r.fromCache(ctx, item); ok {
		return hit
	}

	res := r.opts.Extractor.ExecuteUntil(ctx, item, r.stopCh)
	out = item.Clone()
	out.Attempts = append(out.Attempts, res.Attempts...)
	if res.Status != model.StatusSucceeded {
		return r.fail(out, res.Status, res.Kind, res.Detail)
	}
	if res.Success == nil {
		return r.fail(out, model.StatusFailedPermanent, model.KindInternalFault, "extractor reported success without a transcript")
	}
	out.Result = &model.Result{Text: res.Success.Text, Method: res.Method, Metadata: res.Success.Metadata}
	out = r.write(out)
	if out.Status == model.StatusSucceeded && r.opts.Cache != nil {
		err := r.opts.Cache.Put(ctx, cache.Entry{
			Identity: out.ID,
			Method:   res.Method,
			Text:     res.Success.Text,
			Metadata: res.Success.Metadata,
		})
		if err != nil {
			r.logger.Warn("cache store failed", "item", out.ID, "error", err)
		}
	}
	return out
}

func (r *runner) fromCache(ctx context.Context, item model.Item) (model.Item, bool) {
	if r.opts.Cache == nil {
		return model.Item{}, false
	}
	entry, ok, err := r.opts.Cache.Get(ctx, item.ID)
	if err != nil {
		r.logger.Warn("cache lookup failed", "item", item.ID, "error", err)
		return model.Item{}, false
	}
	if !ok || entry.Text == "" {
		return model.Item{}, false
	}
	out := item.Clone()
	out.Attempts = append(out.Attempts, model.Attempt{
		Tier:    model.MethodCache,
		At:      r.now().UTC(),
		Outcome: model.OutcomeSuccess,
		Detail:  "served from cache (originally " + entry.Method + ")",
	})
	out.Result = &model.Result{Text: entry.Text, Method: model.MethodCache, Metadata: entry.Metadata}
	return r.write(out), true
}

func (r *runner) write(item model.Item) model.Item {
	rel, err := r.opts.Writer.Write(r.session.Dir(), item)
	if err != nil {
		return r.fail(item, model.StatusFailedRetryable, model.KindOutputError, err.Error())
	}
	if err := model.TransitionItem(&item, model.StatusSucceeded, ""); err != nil {
		return r.fail(item, model.StatusFailedPermanent, model.KindInternalFault, err.Error())
	}
	item.ErrorKind = ""
	item.Path = rel
	return item
}

func (r *runner) fail(item model.Item, status model.Status, kind model.ErrorKind, detail string) model.Item {
	if status != model.StatusFailedRetryable && status != model.StatusFailedPermanent {
		status = model.StatusFailedPermanent
		if kind == "" {
			kind = model.KindInternalFault
		}
	}
	item.Result = nil
	item.Status = status
	item.ErrorKind = kind
	item.Detail = detail
	return item
}

// transition records a status change outside the worker loop.
func (r *runner) transition(item model.Item, to model.Status, detail string) error {
	next := item.Clone()
	if err := model.TransitionItem(&next, to, detail); err != nil {
		return err
	}
	return r.record(item.Status, next)
}

func (r *runner) record(from model.Status, item model.Item) error {
	if err := r.session.Record(item); err != nil {
		return fmt.Errorf("record %s: %w", item.ID, err)
	}
	if r.opts.OnEvent == nil {
		return nil
	}
	ev := Event{
		SessionID: r.session.ID(),
		Identity:  item.ID,
		From:      from,
		To:        item.Status,
		Method:    item.Method(),
		Kind:      item.ErrorKind,
		Detail:    item.Detail,
		Counters:  r.session.Counters(),
		At:        r.now().UTC(),
	}
	if last, ok := item.LastAttempt(); ok {
		ev.Tier = last.Tier
	}
	r.opts.OnEvent(ev)
	return nil
}

func (r *runner) logResult(item model.Item) {
	switch item.Status {
	case model.StatusSucceeded:
		r.logger.Debug("item succeeded", "item", item.ID, "method", item.Method(), "path", item.Path)
	case model.StatusFailedRetryable:
		r.logger.Warn("item failed (retryable)", "item", item.ID, "kind", item.ErrorKind, "detail", item.Detail)
	default:
		r.logger.Warn("item failed", "item", item.ID, "status", item.Status, "kind", item.ErrorKind, "detail", item.Detail)
	}
}

type disabler interface {
	Disabled() map[string]model.ErrorKind
}

// finish stamps the summary into the manifest once all workers are gone.
func (r *runner) finish(runErr error) (Result, error) {
	items := r.session.Items()
	counters := model.RecomputeCounters(items)
	var disabled map[string]model.ErrorKind
	if d, ok := r.opts.Extractor.(disabler); ok {
		disabled = d.Disabled()
	}
	summary := Summarize(counters, items)

	r.mu.Lock()
	res := Result{
		SessionID: r.session.ID(),
		Dir:       r.session.Dir(),
		Counters:  counters,
		Processed: r.processed,
		Stopped:   r.stopping,
		Disabled:  disabled,
		Summary:   summary,
	}
	r.mu.Unlock()

	if err := r.session.Finish(summary, disabled); err != nil && runErr == nil {
		runErr = err
	}
	r.logger.Info("session finished",
		"succeeded", counters.Succeeded,
		"failed_retryable", counters.FailedRetryable,
		"failed_permanent", counters.FailedPermanent,
		"pending", counters.Pending,
		"stopped", res.Stopped,
	)
	return res, runErr
}
