package runstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"yt-transcripts/internal/model"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("vid%08d", i+1)
	}
	return out
}

func finishItem(t *testing.T, s *Session, id string, to model.Status) model.Item {
	t.Helper()
	it, ok := s.Item(id)
	if !ok {
		t.Fatalf("missing item %s", id)
	}
	if err := model.TransitionItem(&it, model.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(it); err != nil {
		t.Fatalf("record in_progress: %v", err)
	}
	it.Attempts = append(it.Attempts, model.Attempt{Tier: "captions", At: time.Unix(0, 0).UTC(), Outcome: model.OutcomeSuccess})
	if err := model.TransitionItem(&it, to, ""); err != nil {
		t.Fatal(err)
	}
	if to == model.StatusSucceeded {
		it.Result = &model.Result{Text: "x", Method: "captions"}
		it.Path = "youtube/" + id + "__x.md"
	}
	if err := s.Record(it); err != nil {
		t.Fatalf("record %s: %v", to, err)
	}
	return it
}

func TestCreate_WritesInitialFiles(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, CreateOptions{IDs: ids(3), Config: map[string]int{"concurrency": 4}, Now: fixedClock()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	if !strings.HasPrefix(s.ID(), "20250301T100000Z_") || len(s.ID()) != len("20250301T100000Z_")+8 {
		t.Fatalf("unexpected session id %q", s.ID())
	}
	var m Manifest
	if err := ReadJSON(filepath.Join(s.Dir(), ManifestFile), &m); err != nil {
		t.Fatal(err)
	}
	if m.Total != 3 || m.Pending != 3 || m.InProgress != 0 {
		t.Fatalf("unexpected manifest counters: %+v", m.Counters)
	}
	if !strings.Contains(string(m.Config), "concurrency") {
		t.Fatalf("expected config snapshot, got %s", m.Config)
	}
	csvData, err := os.ReadFile(filepath.Join(s.Dir(), ItemsFile))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "identity,status,method_used") {
		t.Fatalf("unexpected items.csv:\n%s", csvData)
	}
}

func TestCreate_RejectsEmptyAndDuplicates(t *testing.T) {
	if _, err := Create(t.TempDir(), CreateOptions{}); err == nil {
		t.Fatal("expected error for empty item list")
	}
	if _, err := Create(t.TempDir(), CreateOptions{IDs: []string{"a", "a"}}); err == nil {
		t.Fatal("expected error for duplicate identities")
	}
}

func TestRecord_IsIdempotent(t *testing.T) {
	s, err := Create(t.TempDir(), CreateOptions{IDs: ids(2), Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	done := finishItem(t, s, "vid00000001", model.StatusSucceeded)
	read := func() [3][]byte {
		var out [3][]byte
		for i, name := range []string{ManifestFile, ItemsFile, AttemptsFile} {
			b, err := os.ReadFile(filepath.Join(s.Dir(), name))
			if err != nil {
				t.Fatal(err)
			}
			out[i] = b
		}
		return out
	}
	before := read()
	if err := s.Record(done); err != nil {
		t.Fatalf("second record: %v", err)
	}
	after := read()
	for i := range before {
		if !bytes.Equal(before[i], after[i]) {
			t.Fatalf("file %d changed on identical record:\n%s\n---\n%s", i, before[i], after[i])
		}
	}
}

func TestRecord_RejectsIllegalTransition(t *testing.T) {
	s, err := Create(t.TempDir(), CreateOptions{IDs: ids(1)})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	it, _ := s.Item("vid00000001")
	it.Status = model.StatusSucceeded
	if err := s.Record(it); err == nil {
		t.Fatal("expected pending -> succeeded to be rejected")
	}
	if got, _ := s.Item("vid00000001"); got.Status != model.StatusPending {
		t.Fatalf("expected stored status to stay pending, got %s", got.Status)
	}
}

func TestRecord_UnknownItem(t *testing.T) {
	s, err := Create(t.TempDir(), CreateOptions{IDs: ids(1)})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Record(model.NewItem("other")); err == nil {
		t.Fatal("expected unknown item error")
	}
}

func TestRecord_ConcurrentCountersStayConsistent(t *testing.T) {
	s, err := Create(t.TempDir(), CreateOptions{IDs: ids(40)})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	var wg sync.WaitGroup
	for _, id := range ids(40) {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			finishItem(t, s, id, model.StatusFailedPermanent)
		}(id)
	}
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			c := s.Counters()
			if c.Sum() != c.Total {
				t.Errorf("counter drift: %+v", c)
				return
			}
		}
	}()
	wg.Wait()
	close(stop)

	m, rows := s.Snapshot()
	if m.FailedPermanent != 40 || len(rows) != 40 {
		t.Fatalf("unexpected final snapshot: %+v rows=%d", m.Counters, len(rows))
	}
}

func TestLoad_ResumesInterruptedSession(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, CreateOptions{IDs: ids(10), Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	all := ids(10)
	for _, id := range all[:3] {
		finishItem(t, s, id, model.StatusSucceeded)
	}
	finishItem(t, s, all[3], model.StatusFailedPermanent)

	stuck, _ := s.Item(all[4])
	if err := model.TransitionItem(&stuck, model.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(stuck); err != nil {
		t.Fatal(err)
	}
	sessionID := s.ID()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(root, sessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer loaded.Close()

	c := loaded.Counters()
	if c.Succeeded != 3 || c.FailedPermanent != 1 || c.Pending != 6 || c.InProgress != 0 {
		t.Fatalf("unexpected counters after load: %+v", c)
	}
	got, _ := loaded.Item(all[0])
	if got.Method() != "captions" || got.Path == "" || len(got.Attempts) != 1 {
		t.Fatalf("expected succeeded row to keep method, path and attempts: %+v", got)
	}
	var m Manifest
	if err := ReadJSON(filepath.Join(root, sessionID, ManifestFile), &m); err != nil {
		t.Fatal(err)
	}
	if m.InProgress != 0 || m.Pending != 6 {
		t.Fatalf("expected rewound manifest on disk, got %+v", m.Counters)
	}
}

func TestRecord_FailedPersistLeavesNoAttempts(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, CreateOptions{IDs: ids(1), Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	id := ids(1)[0]
	it, _ := s.Item(id)
	if err := model.TransitionItem(&it, model.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(it); err != nil {
		t.Fatal(err)
	}
	it.Attempts = append(it.Attempts, model.Attempt{Tier: "captions", At: time.Unix(0, 0).UTC(), Outcome: string(model.KindNetwork)})
	if err := model.TransitionItem(&it, model.StatusFailedRetryable, "timeout"); err != nil {
		t.Fatal(err)
	}

	// A directory in place of manifest.json makes the atomic rename fail.
	manifestPath := filepath.Join(s.Dir(), ManifestFile)
	if err := os.Remove(manifestPath); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(manifestPath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(manifestPath, "keep"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(it); err == nil {
		t.Fatal("expected record to fail while manifest cannot be written")
	}
	attemptsPath := filepath.Join(s.Dir(), AttemptsFile)
	got, err := readAttempts(attemptsPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(got[id]) != 0 {
		t.Fatalf("expected no attempts after failed record, got %+v", got[id])
	}
	if cur, _ := s.Item(id); cur.Status != model.StatusInProgress {
		t.Fatalf("expected in-memory item rolled back, got %s", cur.Status)
	}

	if err := os.RemoveAll(manifestPath); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(it); err != nil {
		t.Fatalf("retry record: %v", err)
	}
	got, err = readAttempts(attemptsPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(got[id]) != 1 {
		t.Fatalf("expected exactly one attempt line after retry, got %d", len(got[id]))
	}

	sessionID := s.ID()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(root, sessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer loaded.Close()
	_, rows := loaded.Snapshot()
	reloaded, _ := loaded.Item(id)
	if rows[0].Attempts != 1 || len(reloaded.Attempts) != 1 {
		t.Fatalf("expected history to match row count, got row=%d history=%d", rows[0].Attempts, len(reloaded.Attempts))
	}
}

func TestLoad_RejectsLockedSession(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, CreateOptions{IDs: ids(1)})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := Load(root, s.ID()); err == nil {
		t.Fatal("expected load of a locked session to fail")
	}
}

func TestReadAttempts_SkipsTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), AttemptsFile)
	data := `{"identity":"a","tier":"captions","at":"2025-01-01T00:00:00Z","outcome":"success"}` + "\n" + `{"identity":"a","tier":"pro`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := readAttempts(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got["a"]) != 1 || got["a"][0].Tier != "captions" {
		t.Fatalf("unexpected attempts: %+v", got)
	}
}

func TestListSessions(t *testing.T) {
	root := t.TempDir()
	a, err := Create(root, CreateOptions{IDs: ids(1), Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	a.Close()
	if err := os.MkdirAll(filepath.Join(root, "not-a-session"), 0o755); err != nil {
		t.Fatal(err)
	}
	list, err := ListSessions(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].SessionID != a.ID() {
		t.Fatalf("unexpected sessions: %+v", list)
	}
	latest, err := LatestSessionDir(root)
	if err != nil || filepath.Base(latest) != a.ID() {
		t.Fatalf("unexpected latest dir %q err=%v", latest, err)
	}
}
