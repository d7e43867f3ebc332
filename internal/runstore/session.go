package runstore

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"yt-transcripts/internal/model"
)

const (
	ManifestFile = "manifest.json"
	ItemsFile    = "items.csv"
	AttemptsFile = "attempts.jsonl"

	sessionIDLayout = "20060102T150405Z"
)

var itemsHeader = []string{"identity", "status", "method_used", "error_kind", "path", "attempts", "requeues", "detail", "updated_at"}

// Manifest is the session summary rewritten on every record.
type Manifest struct {
	SessionID  string `json:"session_id"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	model.Counters
	Tiers         []string          `json:"tiers,omitempty"`
	DisabledTiers map[string]string `json:"disabled_tiers,omitempty"`
	Config        json.RawMessage   `json:"config,omitempty"`
	Summary       []string          `json:"summary,omitempty"`
}

// Row is one line of items.csv.
type Row struct {
	Identity   string          `json:"identity"`
	Status     model.Status    `json:"status"`
	MethodUsed string          `json:"method_used,omitempty"`
	ErrorKind  model.ErrorKind `json:"error_kind,omitempty"`
	Path       string          `json:"path,omitempty"`
	Attempts   int             `json:"attempts"`
	Requeues   int             `json:"requeues,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	UpdatedAt  string          `json:"updated_at,omitempty"`
}

// AttemptRecord is one line of attempts.jsonl.
type AttemptRecord struct {
	Identity string `json:"identity"`
	model.Attempt
}

type CreateOptions struct {
	IDs    []string
	Config any
	Tiers  []string
	Now    func() time.Time
}

// Session owns one session directory. Every method is safe for concurrent use;
// Record is the only path that changes item state on disk.
type Session struct {
	mu       sync.Mutex
	dir      string
	manifest Manifest
	items    []model.Item
	index    map[string]int
	lock     *SessionLock
	now      func() time.Time
}

func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format(sessionIDLayout) + "_" + suffix
}

func Create(root string, opts CreateOptions) (*Session, error) {
	if len(opts.IDs) == 0 {
		return nil, fmt.Errorf("create session: at least one item is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	items := make([]model.Item, 0, len(opts.IDs))
	index := make(map[string]int, len(opts.IDs))
	for _, id := range opts.IDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("create session: empty item identity")
		}
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("create session: duplicate item identity %q", id)
		}
		index[id] = len(items)
		it := model.NewItem(id)
		it.UpdatedAt = now().UTC()
		items = append(items, it)
	}

	var cfgRaw json.RawMessage
	if opts.Config != nil {
		b, err := json.Marshal(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("create session: snapshot config: %w", err)
		}
		cfgRaw = b
	}

	created := now().UTC()
	id := NewSessionID(created)
	dir := filepath.Join(root, id)
	if err := Mkdir(dir); err != nil {
		return nil, err
	}
	lock, err := AcquireSessionLock(dir)
	if err != nil {
		return nil, err
	}

	s := &Session{
		dir: dir,
		manifest: Manifest{
			SessionID: id,
			CreatedAt: created.Format(time.RFC3339),
			UpdatedAt: created.Format(time.RFC3339),
			Tiers:     append([]string(nil), opts.Tiers...),
			Config:    cfgRaw,
		},
		items: items,
		index: index,
		lock:  lock,
		now:   now,
	}
	if err := os.WriteFile(filepath.Join(dir, AttemptsFile), nil, 0o644); err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("create %s: %w", AttemptsFile, err)
	}
	if err := s.persistLocked(); err != nil {
		_ = lock.Release()
		return nil, err
	}
	return s, nil
}

// Load reopens a session for resumption. Items left in_progress by an interrupted
// run are rewound to pending; terminal rows are kept as they are.
func Load(root, sessionID string) (*Session, error) {
	dir := filepath.Join(root, strings.TrimSpace(sessionID))
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("load session: session id is required")
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	lock, err := AcquireSessionLock(dir)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Session, error) {
		_ = lock.Release()
		return nil, err
	}

	manifest, rows, err := readSnapshot(dir)
	if err != nil {
		return fail(err)
	}
	history, err := readAttempts(filepath.Join(dir, AttemptsFile))
	if err != nil {
		return fail(err)
	}

	s := &Session{
		dir:      dir,
		manifest: manifest,
		items:    make([]model.Item, 0, len(rows)),
		index:    make(map[string]int, len(rows)),
		lock:     lock,
		now:      time.Now,
	}
	rewound := false
	for _, row := range rows {
		it := row.toItem()
		it.Attempts = history[row.Identity]
		if it.Status == model.StatusInProgress {
			if err := model.TransitionItem(&it, model.StatusPending, "rewound after interrupted run"); err != nil {
				return fail(err)
			}
			rewound = true
		}
		s.index[it.ID] = len(s.items)
		s.items = append(s.items, it)
	}
	s.manifest.FinishedAt = ""
	if rewound {
		if err := s.persistLocked(); err != nil {
			return fail(err)
		}
	}
	return s, nil
}

func (s *Session) ID() string {
	return s.manifest.SessionID
}

func (s *Session) Dir() string {
	return s.dir
}

// Record writes one item through to disk. Recording an unchanged item is a no-op,
// so retrying a Record after a crash never changes the files.
func (s *Session) Record(item model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[item.ID]
	if !ok {
		return fmt.Errorf("record: unknown item %q", item.ID)
	}
	prev := s.items[idx]
	if rowOf(prev).equalContent(rowOf(item)) {
		return nil
	}
	if prev.Status != item.Status && !model.CanTransition(prev.Status, item.Status) {
		return fmt.Errorf("invalid item status transition: %q -> %q (item=%s)", prev.Status, item.Status, item.ID)
	}
	if len(item.Attempts) < len(prev.Attempts) {
		return fmt.Errorf("record %s: attempt history is append-only (%d < %d)", item.ID, len(item.Attempts), len(prev.Attempts))
	}

	attemptsPath := filepath.Join(s.dir, AttemptsFile)
	appended := int64(-1)
	fresh := item.Attempts[len(prev.Attempts):]
	if len(fresh) > 0 {
		size, err := fileSize(attemptsPath)
		if err != nil {
			return err
		}
		records := make([]AttemptRecord, 0, len(fresh))
		for _, a := range fresh {
			records = append(records, AttemptRecord{Identity: item.ID, Attempt: a})
		}
		if err := AppendJSONLines(attemptsPath, records); err != nil {
			_ = truncateTo(attemptsPath, size)
			return err
		}
		appended = size
	}

	next := item.Clone()
	next.UpdatedAt = s.now().UTC()
	s.items[idx] = next
	if err := s.persistLocked(); err != nil {
		// The row did not land, so neither may its attempts: a retried Record
		// appends them again.
		s.items[idx] = prev
		if appended >= 0 {
			if terr := truncateTo(attemptsPath, appended); terr != nil {
				return fmt.Errorf("%w (rollback attempts: %v)", err, terr)
			}
		}
		return err
	}
	return nil
}

// Item returns a copy of one item.
func (s *Session) Item(id string) (model.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.index[id]
	if !ok {
		return model.Item{}, false
	}
	return s.items[idx].Clone(), true
}

// Items returns copies of all items in insertion order.
func (s *Session) Items() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Item, len(s.items))
	for i, it := range s.items {
		out[i] = it.Clone()
	}
	return out
}

func (s *Session) Counters() model.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.RecomputeCounters(s.items)
}

// Snapshot returns the manifest and the item rows as they are on disk.
func (s *Session) Snapshot() (Manifest, []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.manifest
	m.Counters = model.RecomputeCounters(s.items)
	rows := make([]Row, len(s.items))
	for i, it := range s.items {
		rows[i] = rowOf(it)
	}
	return m, rows
}

// Finish stamps the session summary into the manifest.
func (s *Session) Finish(summary []string, disabled map[string]model.ErrorKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest.Summary = append([]string(nil), summary...)
	s.manifest.DisabledTiers = nil
	if len(disabled) > 0 {
		s.manifest.DisabledTiers = make(map[string]string, len(disabled))
		for name, kind := range disabled {
			s.manifest.DisabledTiers[name] = string(kind)
		}
	}
	s.manifest.FinishedAt = s.now().UTC().Format(time.RFC3339)
	return s.persistLocked()
}

// Close releases the session lock. The session directory is never removed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := s.lock.Release()
	s.lock = nil
	return err
}

func (s *Session) persistLocked() error {
	s.manifest.Counters = model.RecomputeCounters(s.items)
	s.manifest.UpdatedAt = s.now().UTC().Format(time.RFC3339)

	rows := make([]Row, len(s.items))
	for i, it := range s.items {
		rows[i] = rowOf(it)
	}
	data, err := encodeRows(rows)
	if err != nil {
		return err
	}
	if err := WriteBytes(filepath.Join(s.dir, ItemsFile), data); err != nil {
		return err
	}
	return WriteJSON(filepath.Join(s.dir, ManifestFile), s.manifest)
}

// ReadSnapshot reads a session without taking its lock, for status polling
// from another process.
func ReadSnapshot(root, sessionID string) (Manifest, []Row, error) {
	return readSnapshot(filepath.Join(root, strings.TrimSpace(sessionID)))
}

// ListSessions returns the manifests of every session under root, oldest first.
func ListSessions(root string) ([]Manifest, error) {
	dirs, err := ListSessionDirs(root)
	if err != nil {
		return nil, err
	}
	out := make([]Manifest, 0, len(dirs))
	for _, dir := range dirs {
		var m Manifest
		if err := ReadJSON(filepath.Join(dir, ManifestFile), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func readSnapshot(dir string) (Manifest, []Row, error) {
	var m Manifest
	if err := ReadJSON(filepath.Join(dir, ManifestFile), &m); err != nil {
		return Manifest{}, nil, err
	}
	f, err := os.Open(filepath.Join(dir, ItemsFile))
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("open %s: %w", ItemsFile, err)
	}
	defer f.Close()
	rows, err := decodeRows(f)
	if err != nil {
		return Manifest{}, nil, fmt.Errorf("parse %s: %w", filepath.Join(dir, ItemsFile), err)
	}
	return m, rows, nil
}

func readAttempts(path string) (map[string][]model.Attempt, error) {
	out := map[string][]model.Attempt{}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec AttemptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// a torn final line from a crash mid-append
			continue
		}
		out[rec.Identity] = append(out[rec.Identity], rec.Attempt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func rowOf(it model.Item) Row {
	updated := ""
	if !it.UpdatedAt.IsZero() {
		updated = it.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return Row{
		Identity:   it.ID,
		Status:     it.Status,
		MethodUsed: it.Method(),
		ErrorKind:  it.ErrorKind,
		Path:       it.Path,
		Attempts:   len(it.Attempts),
		Requeues:   it.Requeues,
		Detail:     it.Detail,
		UpdatedAt:  updated,
	}
}

// equalContent compares rows ignoring the timestamp.
func (r Row) equalContent(o Row) bool {
	r.UpdatedAt, o.UpdatedAt = "", ""
	return r == o
}

func (r Row) toItem() model.Item {
	it := model.Item{
		ID:        r.Identity,
		Status:    r.Status,
		ErrorKind: r.ErrorKind,
		Detail:    r.Detail,
		Path:      r.Path,
		Requeues:  r.Requeues,
	}
	if r.MethodUsed != "" {
		it.Result = &model.Result{Method: r.MethodUsed}
	}
	if ts, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil {
		it.UpdatedAt = ts
	}
	return it
}

func encodeRows(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(itemsHeader); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ItemsFile, err)
	}
	for _, r := range rows {
		rec := []string{
			r.Identity,
			string(r.Status),
			r.MethodUsed,
			string(r.ErrorKind),
			r.Path,
			strconv.Itoa(r.Attempts),
			strconv.Itoa(r.Requeues),
			r.Detail,
			r.UpdatedAt,
		}
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("encode %s: %w", ItemsFile, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", ItemsFile, err)
	}
	return buf.Bytes(), nil
}

func decodeRows(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(itemsHeader)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("missing header")
	}
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		attempts, _ := strconv.Atoi(rec[5])
		requeues, _ := strconv.Atoi(rec[6])
		status := model.Status(rec[1])
		if !model.IsKnownStatus(status) {
			return nil, fmt.Errorf("item %s has unknown status %q", rec[0], rec[1])
		}
		rows = append(rows, Row{
			Identity:   rec[0],
			Status:     status,
			MethodUsed: rec[2],
			ErrorKind:  model.ErrorKind(rec[3]),
			Path:       rec[4],
			Attempts:   attempts,
			Requeues:   requeues,
			Detail:     rec[7],
			UpdatedAt:  rec[8],
		})
	}
	return rows, nil
}
