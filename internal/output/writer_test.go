package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"yt-transcripts/internal/model"
)

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Hello, World!":            "hello-world",
		"Crème Brûlée — Recipe #2": "creme-brulee-recipe-2",
		"":                         "untitled",
		"日本語のみ":                    "untitled",
		"  --Already--Slugged--  ": "already-slugged",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Fatalf("Slug(%q): expected %q, got %q", in, want, got)
		}
	}
	long := Slug(strings.Repeat("abcdefghij ", 10))
	if len(long) > maxSlugLen || strings.HasSuffix(long, "-") {
		t.Fatalf("expected slug trimmed to %d chars without trailing dash, got %q", maxSlugLen, long)
	}
}

func TestWrite_TranscriptAndSidecar(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter()
	w.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	item := model.Item{
		ID:     "abcdefghijk",
		Status: model.StatusSucceeded,
		Result: &model.Result{
			Text:     "first line\nsecond line",
			Method:   "captions",
			Metadata: model.Metadata{Title: "Café Rede: Teil 1", Channel: "Chan", DurationSeconds: 90},
		},
	}
	rel, err := w.Write(dir, item)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if rel != "youtube/abcdefghijk__cafe-rede-teil-1.md" {
		t.Fatalf("unexpected relative path %q", rel)
	}
	data, err := os.ReadFile(filepath.Join(dir, rel))
	if err != nil {
		t.Fatal(err)
	}
	doc := string(data)
	if !strings.HasPrefix(doc, "---\nid: abcdefghijk\n") {
		t.Fatalf("expected yaml front matter, got:\n%s", doc)
	}
	for _, want := range []string{"method: captions", "2025-01-02T03:04:05Z", "watch?v=abcdefghijk", "# Café Rede: Teil 1", "first line\nsecond line\n"} {
		if !strings.Contains(doc, want) {
			t.Fatalf("expected %q in transcript:\n%s", want, doc)
		}
	}

	meta, err := ReadSidecar(dir, rel)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	if meta.Channel != "Chan" || meta.DurationSeconds != 90 {
		t.Fatalf("unexpected sidecar metadata: %+v", meta)
	}
	if !Exists(dir, rel) || Exists(dir, "") {
		t.Fatal("unexpected Exists result")
	}
}

func TestWrite_RequiresResult(t *testing.T) {
	if _, err := NewWriter().Write(t.TempDir(), model.NewItem("abcdefghijk")); err == nil {
		t.Fatal("expected error for item without result")
	}
}
