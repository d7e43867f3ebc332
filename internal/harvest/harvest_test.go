package harvest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"yt-transcripts/internal/cache"
	"yt-transcripts/internal/chain"
	"yt-transcripts/internal/model"
	"yt-transcripts/internal/output"
	"yt-transcripts/internal/runstore"
	"yt-transcripts/internal/tier"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(item model.Item, call int) chain.Result
}

func newFakeExtractor(fn func(item model.Item, call int) chain.Result) *fakeExtractor {
	return &fakeExtractor{calls: map[string]int{}, fn: fn}
}

func (f *fakeExtractor) ExecuteUntil(_ context.Context, item model.Item, _ <-chan struct{}) chain.Result {
	f.mu.Lock()
	f.calls[item.ID]++
	n := f.calls[item.ID]
	f.mu.Unlock()
	return f.fn(item, n)
}

func (f *fakeExtractor) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeExtractor) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func succeed(item model.Item) chain.Result {
	return chain.Result{
		Status:  model.StatusSucceeded,
		Method:  "captions",
		Success: &model.Success{Text: "transcript for " + item.ID, Metadata: model.Metadata{Title: "Video " + item.ID}},
		Attempts: []model.Attempt{{
			Tier: "captions", At: time.Now().UTC(), Outcome: model.OutcomeSuccess,
		}},
	}
}

func failWith(status model.Status, kind model.ErrorKind) chain.Result {
	return chain.Result{
		Status: status,
		Kind:   kind,
		Detail: "simulated " + string(kind),
		Attempts: []model.Attempt{{
			Tier: "captions", At: time.Now().UTC(), Outcome: string(kind),
		}},
	}
}

func itemIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("vid%08d", i+1)
	}
	return ids
}

func newSession(t *testing.T, root string, ids []string) *runstore.Session {
	t.Helper()
	sess, err := runstore.Create(root, runstore.CreateOptions{IDs: ids})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestClampConcurrency(t *testing.T) {
	cases := map[int]int{-3: 2, 0: 2, 1: 2, 2: 2, 7: 7, 20: 20, 21: 20, 500: 20}
	for in, want := range cases {
		if got := ClampConcurrency(in); got != want {
			t.Fatalf("ClampConcurrency(%d): expected %d, got %d", in, want, got)
		}
	}
}

type scriptedTier struct {
	name    string
	mu      sync.Mutex
	calls   map[string]int
	outcome func(item model.Item, call int) model.Outcome
}

func newScriptedTier(name string, outcome func(item model.Item, call int) model.Outcome) *scriptedTier {
	return &scriptedTier{name: name, calls: map[string]int{}, outcome: outcome}
}

func (s *scriptedTier) Name() string          { return s.name }
func (s *scriptedTier) Profile() tier.Profile { return tier.Profile{} }

func (s *scriptedTier) Attempt(_ context.Context, item model.Item) model.Outcome {
	s.mu.Lock()
	s.calls[item.ID]++
	call := s.calls[item.ID]
	s.mu.Unlock()
	return s.outcome(item, call)
}

func (s *scriptedTier) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRunTenItemScenario(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("scenario%03d", i+1)
	}
	secondTier := map[string]bool{ids[1]: true, ids[3]: true, ids[5]: true}
	broken := map[string]bool{ids[7]: true, ids[9]: true}

	t1 := newScriptedTier("tier1", func(item model.Item, _ int) model.Outcome {
		switch {
		case broken[item.ID]:
			return model.Failed(model.KindPermanentSource, "Private video", 0)
		case secondTier[item.ID]:
			return model.Failed(model.KindNotFoundOnTier, "no subtitles", 0)
		}
		return model.Succeeded("tier1 text for "+item.ID, model.Metadata{Title: "Video " + item.ID})
	})
	t2 := newScriptedTier("tier2", func(item model.Item, _ int) model.Outcome {
		return model.Succeeded("tier2 text for "+item.ID, model.Metadata{Title: "Video " + item.ID})
	})
	t3 := newScriptedTier("tier3", func(item model.Item, _ int) model.Outcome {
		return model.Succeeded("tier3 text for "+item.ID, model.Metadata{})
	})
	policy := chain.New([]tier.Tier{t1, t2, t3}, chain.WithSleeper(noSleep))
	sess := newSession(t, t.TempDir(), ids)

	res, err := Run(context.Background(), Options{
		Session:     sess,
		Extractor:   policy,
		Writer:      output.NewWriter(),
		Concurrency: 3,
		MaxRequeues: 1,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Counters.Succeeded != 8 || res.Counters.FailedPermanent != 2 || res.Counters.FailedRetryable != 0 {
		t.Fatalf("unexpected counters: %+v", res.Counters)
	}
	if res.Processed != 10 {
		t.Fatalf("expected 10 processed, got %d", res.Processed)
	}
	files, err := filepath.Glob(filepath.Join(sess.Dir(), "youtube", "*.md"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 8 {
		t.Fatalf("expected 8 transcript files, got %d", len(files))
	}
	if t3.totalCalls() != 0 {
		t.Fatalf("expected tier3 never called, got %d calls", t3.totalCalls())
	}
	if t2.totalCalls() != 3 {
		t.Fatalf("expected tier2 called for 3 items, got %d", t2.totalCalls())
	}
	for i, id := range ids {
		it, _ := sess.Item(id)
		switch {
		case broken[id]:
			if it.ErrorKind != model.KindPermanentSource || it.Path != "" {
				t.Fatalf("unexpected broken item state: %+v", it)
			}
		case secondTier[id]:
			if it.Method() != "tier2" || len(it.Attempts) != 2 {
				t.Fatalf("item %d: expected tier2 after one fall-through, got %q with %d attempts", i+1, it.Method(), len(it.Attempts))
			}
		default:
			if it.Method() != "tier1" {
				t.Fatalf("item %d: expected tier1, got %q", i+1, it.Method())
			}
		}
	}

	manifest, rows, err := runstore.ReadSnapshot(filepath.Dir(sess.Dir()), sess.ID())
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if manifest.Succeeded != 8 || manifest.FailedPermanent != 2 || len(rows) != 10 {
		t.Fatalf("unexpected manifest %+v with %d rows", manifest.Counters, len(rows))
	}
	for _, row := range rows {
		if secondTier[row.Identity] && row.MethodUsed != "tier2" {
			t.Fatalf("expected method_used tier2 for %s, got %q", row.Identity, row.MethodUsed)
		}
	}
	if manifest.FinishedAt == "" || len(manifest.Summary) == 0 {
		t.Fatalf("expected finished manifest with summary, got %+v", manifest)
	}
}

func TestRequestStopEndsItemAfterCurrentAttempt(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	t1 := newScriptedTier("tier1", func(item model.Item, _ int) model.Outcome {
		once.Do(func() { close(entered) })
		<-release
		return model.Failed(model.KindRateLimited, "HTTP Error 429", 0)
	})
	t2 := newScriptedTier("tier2", func(model.Item, int) model.Outcome {
		return model.Failed(model.KindNotFoundOnTier, "no subtitles", 0)
	})
	t3 := newScriptedTier("tier3", func(item model.Item, _ int) model.Outcome {
		return model.Succeeded("paid", model.Metadata{})
	})
	policy := chain.New([]tier.Tier{t1, t2, t3})
	sess := newSession(t, t.TempDir(), []string{"stopmidway1"})

	h, err := Start(context.Background(), Options{Session: sess, Extractor: policy, MaxRequeues: 1})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-entered
	h.RequestStop()
	close(release)

	start := time.Now()
	res, err := h.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected stop without backoff, took %s", elapsed)
	}
	if t1.totalCalls() != 1 || t2.totalCalls() != 0 || t3.totalCalls() != 0 {
		t.Fatalf("expected a single attempt, got tier1=%d tier2=%d tier3=%d", t1.totalCalls(), t2.totalCalls(), t3.totalCalls())
	}
	it, _ := sess.Item("stopmidway1")
	if it.Status != model.StatusFailedRetryable || it.ErrorKind != model.KindRateLimited || it.Detail != "stopped" {
		t.Fatalf("unexpected stopped item: %+v", it)
	}
	if it.Requeues != 0 || len(it.Attempts) != 1 {
		t.Fatalf("expected no requeue and one attempt, got %+v", it)
	}
	if !res.Stopped || res.Counters.FailedRetryable != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunNoDoubleProcessing(t *testing.T) {
	for workers := 1; workers <= 20; workers++ {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			ids := itemIDs(40)
			ext := newFakeExtractor(func(item model.Item, _ int) chain.Result { return succeed(item) })
			sess := newSession(t, t.TempDir(), ids)

			var mu sync.Mutex
			var badEvent string
			res, err := Run(context.Background(), Options{
				Session:     sess,
				Extractor:   ext,
				Concurrency: workers,
				OnEvent: func(ev Event) {
					if ev.Counters.Sum() != ev.Counters.Total {
						mu.Lock()
						badEvent = fmt.Sprintf("%+v", ev.Counters)
						mu.Unlock()
					}
				},
			})
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if badEvent != "" {
				t.Fatalf("inconsistent counters in event: %s", badEvent)
			}
			for _, id := range ids {
				if n := ext.callsFor(id); n != 1 {
					t.Fatalf("item %s extracted %d times", id, n)
				}
			}
			if res.Counters.Succeeded != len(ids) {
				t.Fatalf("expected all succeeded, got %+v", res.Counters)
			}
		})
	}
}

func TestRunRecoversWorkerPanic(t *testing.T) {
	ids := itemIDs(5)
	ext := newFakeExtractor(func(item model.Item, _ int) chain.Result {
		if item.ID == ids[1] {
			panic("boom")
		}
		return succeed(item)
	})
	sess := newSession(t, t.TempDir(), ids)

	res, err := Run(context.Background(), Options{Session: sess, Extractor: ext, Concurrency: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Counters.Succeeded != 4 || res.Counters.FailedPermanent != 1 {
		t.Fatalf("unexpected counters: %+v", res.Counters)
	}
	it, _ := sess.Item(ids[1])
	if it.ErrorKind != model.KindInternalFault || !strings.Contains(it.Detail, "boom") {
		t.Fatalf("expected internal fault with panic detail, got %+v", it)
	}
}

func TestRequestStopLetsInFlightFinish(t *testing.T) {
	ids := itemIDs(10)
	started := make(chan string, len(ids))
	release := make(chan struct{})
	ext := newFakeExtractor(func(item model.Item, _ int) chain.Result {
		started <- item.ID
		<-release
		return succeed(item)
	})
	sess := newSession(t, t.TempDir(), ids)

	h, err := Start(context.Background(), Options{Session: sess, Extractor: ext, Concurrency: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	<-started
	h.RequestStop()
	if snap := h.Poll(); !snap.Stopping || len(snap.InFlight) != 2 {
		t.Fatalf("unexpected snapshot while stopping: %+v", snap)
	}
	close(release)

	res, err := h.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !res.Stopped {
		t.Fatal("expected stopped result")
	}
	if res.Counters.Succeeded != 2 || res.Counters.Pending != 8 {
		t.Fatalf("unexpected counters after stop: %+v", res.Counters)
	}
	if ext.totalCalls() != 2 {
		t.Fatalf("expected 2 extractions, got %d", ext.totalCalls())
	}
	if !h.Poll().Done {
		t.Fatal("expected poll to report done")
	}
}

func TestRequeueRetryableItems(t *testing.T) {
	ids := []string{"flakyflaky1", "alwaysdown1"}
	ext := newFakeExtractor(func(item model.Item, call int) chain.Result {
		if item.ID == "flakyflaky1" && call > 1 {
			return succeed(item)
		}
		return failWith(model.StatusFailedRetryable, model.KindNetwork)
	})
	sess := newSession(t, t.TempDir(), ids)

	var mu sync.Mutex
	var transitions []string
	res, err := Run(context.Background(), Options{
		Session:     sess,
		Extractor:   ext,
		MaxRequeues: 1,
		OnEvent: func(ev Event) {
			if ev.Identity != "alwaysdown1" {
				return
			}
			mu.Lock()
			transitions = append(transitions, string(ev.From)+">"+string(ev.To))
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if ext.callsFor("flakyflaky1") != 2 || ext.callsFor("alwaysdown1") != 2 {
		t.Fatalf("unexpected call counts: %v", ext.calls)
	}
	flaky, _ := sess.Item("flakyflaky1")
	if flaky.Status != model.StatusSucceeded || flaky.Requeues != 1 || len(flaky.Attempts) != 2 {
		t.Fatalf("unexpected flaky item: %+v", flaky)
	}
	down, _ := sess.Item("alwaysdown1")
	if down.Status != model.StatusFailedRetryable || down.Requeues != 1 || down.ErrorKind != model.KindNetwork {
		t.Fatalf("unexpected down item: %+v", down)
	}
	want := "pending>in_progress,in_progress>failed_retryable,failed_retryable>pending,pending>in_progress,in_progress>failed_retryable"
	if got := strings.Join(transitions, ","); got != want {
		t.Fatalf("unexpected transitions:\n got %s\nwant %s", got, want)
	}
	if res.Counters.FailedRetryable != 1 {
		t.Fatalf("unexpected counters: %+v", res.Counters)
	}
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]cache.Entry
}

func (m *memCache) Get(_ context.Context, id string) (cache.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok, nil
}

func (m *memCache) Put(_ context.Context, e cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Identity] = e
	return nil
}

func TestCacheHitSkipsExtraction(t *testing.T) {
	ids := []string{"cachedvid01", "freshvid001"}
	mc := &memCache{entries: map[string]cache.Entry{
		"cachedvid01": {Identity: "cachedvid01", Method: "managed", Text: "from cache", Metadata: model.Metadata{Title: "Cached"}},
	}}
	ext := newFakeExtractor(func(item model.Item, _ int) chain.Result { return succeed(item) })
	sess := newSession(t, t.TempDir(), ids)

	if _, err := Run(context.Background(), Options{Session: sess, Extractor: ext, Cache: mc}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ext.callsFor("cachedvid01") != 0 {
		t.Fatal("expected cached item to skip extraction")
	}
	cached, _ := sess.Item("cachedvid01")
	if cached.Status != model.StatusSucceeded || cached.Method() != model.MethodCache {
		t.Fatalf("unexpected cached item: %+v", cached)
	}
	if !output.Exists(sess.Dir(), cached.Path) {
		t.Fatalf("expected transcript at %s", cached.Path)
	}
	if _, ok, _ := mc.Get(context.Background(), "freshvid001"); !ok {
		t.Fatal("expected fresh transcript to be stored in cache")
	}
}

type failingWriter struct{}

func (failingWriter) Write(string, model.Item) (string, error) {
	return "", errors.New("disk full")
}

func TestWriteFailureIsRetryable(t *testing.T) {
	ids := itemIDs(2)
	ext := newFakeExtractor(func(item model.Item, _ int) chain.Result { return succeed(item) })
	sess := newSession(t, t.TempDir(), ids)

	res, err := Run(context.Background(), Options{Session: sess, Extractor: ext, Writer: failingWriter{}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Counters.FailedRetryable != 2 {
		t.Fatalf("unexpected counters: %+v", res.Counters)
	}
	it, _ := sess.Item(ids[0])
	if it.ErrorKind != model.KindOutputError || it.Result != nil {
		t.Fatalf("unexpected item after write failure: %+v", it)
	}
	if !strings.Contains(strings.Join(res.Summary, "\n"), "could not be written") {
		t.Fatalf("expected output remediation line, got %v", res.Summary)
	}
}

func recordAs(t *testing.T, sess *runstore.Session, id string, to model.Status) {
	t.Helper()
	it, _ := sess.Item(id)
	steps := []model.Status{model.StatusInProgress}
	if to != model.StatusInProgress {
		steps = append(steps, to)
	}
	for _, st := range steps {
		if err := model.TransitionItem(&it, st, ""); err != nil {
			t.Fatal(err)
		}
		if st == model.StatusSucceeded {
			it.Result = &model.Result{Method: "captions"}
			it.Path = "youtube/" + id + "__x.md"
		}
		if st == model.StatusFailedRetryable {
			it.ErrorKind = model.KindRateLimited
		}
		if err := sess.Record(it); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
}

func TestResumeProcessesOnlyRunnableItems(t *testing.T) {
	root := t.TempDir()
	ids := itemIDs(10)
	sess, err := runstore.Create(root, runstore.CreateOptions{IDs: ids})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range ids[:3] {
		recordAs(t, sess, id, model.StatusSucceeded)
	}
	recordAs(t, sess, ids[3], model.StatusFailedRetryable)
	recordAs(t, sess, ids[4], model.StatusInProgress)
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}

	resumed, err := runstore.Load(root, sess.ID())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { _ = resumed.Close() })

	ext := newFakeExtractor(func(item model.Item, _ int) chain.Result { return succeed(item) })
	res, err := Run(context.Background(), Options{Session: resumed, Extractor: ext, Concurrency: 4})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, id := range ids[:3] {
		if ext.callsFor(id) != 0 {
			t.Fatalf("succeeded item %s was processed again", id)
		}
	}
	if ext.totalCalls() != 7 {
		t.Fatalf("expected 7 extractions, got %d", ext.totalCalls())
	}
	if res.Counters.Succeeded != 10 {
		t.Fatalf("unexpected counters: %+v", res.Counters)
	}
}

func TestStartValidatesOptions(t *testing.T) {
	if _, err := Start(context.Background(), Options{}); err == nil {
		t.Fatal("expected error without session")
	}
	sess := newSession(t, t.TempDir(), itemIDs(1))
	if _, err := Start(context.Background(), Options{Session: sess}); err == nil {
		t.Fatal("expected error without extractor")
	}
}

func TestSummarize(t *testing.T) {
	items := []model.Item{
		{ID: "a", Status: model.StatusSucceeded},
		{ID: "b", Status: model.StatusFailedRetryable, ErrorKind: model.KindRateLimited},
		{ID: "c", Status: model.StatusFailedRetryable, ErrorKind: model.KindRateLimited},
		{ID: "d", Status: model.StatusFailedPermanent, ErrorKind: model.KindPermanentSource},
		{ID: "e", Status: model.StatusPending},
	}
	lines := Summarize(model.RecomputeCounters(items), items)
	want := []string{
		"1 of 5 items succeeded",
		"2 items hit rate limits; resume the session later",
		"1 items are permanently inaccessible (private, removed or invalid)",
		"1 items were not processed; resume the session to continue",
	}
	if strings.Join(lines, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected summary:\n%s", strings.Join(lines, "\n"))
	}
}
