// Package output renders succeeded items as markdown transcripts with a
// metadata sidecar inside the session directory.
package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"yt-transcripts/internal/model"
	"yt-transcripts/internal/runstore"
)

type Writer struct {
	platform string
	now      func() time.Time
}

func NewWriter() *Writer {
	return &Writer{platform: model.Platform, now: time.Now}
}

type frontMatter struct {
	ID              string  `yaml:"id"`
	Title           string  `yaml:"title,omitempty"`
	Channel         string  `yaml:"channel,omitempty"`
	ChannelID       string  `yaml:"channel_id,omitempty"`
	URL             string  `yaml:"url"`
	UploadDate      string  `yaml:"upload_date,omitempty"`
	DurationSeconds float64 `yaml:"duration_seconds,omitempty"`
	Language        string  `yaml:"language,omitempty"`
	AutoGenerated   bool    `yaml:"auto_generated,omitempty"`
	Method          string  `yaml:"method"`
	ExtractedAt     string  `yaml:"extracted_at"`
}

type sidecar struct {
	ID          string          `json:"id"`
	Method      string          `json:"method"`
	ExtractedAt string          `json:"extracted_at"`
	Words       int             `json:"words"`
	Characters  int             `json:"characters"`
	Metadata    model.Metadata  `json:"metadata"`
	Attempts    []model.Attempt `json:"attempts,omitempty"`
}

// RelPath is where an item's transcript lives relative to the session directory.
// The identity prefix keeps it unique even when titles collide.
func (w *Writer) RelPath(item model.Item) string {
	title := ""
	if item.Result != nil {
		title = item.Result.Metadata.Title
	}
	return filepath.ToSlash(filepath.Join(w.platform, item.ID+"__"+Slug(title)+".md"))
}

// Write renders the transcript and its sidecar and returns the transcript path
// relative to sessionDir. It does not touch session state.
func (w *Writer) Write(sessionDir string, item model.Item) (string, error) {
	if item.Result == nil {
		return "", fmt.Errorf("write transcript %s: item has no result", item.ID)
	}
	rel := w.RelPath(item)
	abs := filepath.Join(sessionDir, filepath.FromSlash(rel))
	extracted := w.now().UTC().Format(time.RFC3339)
	meta := item.Result.Metadata
	if meta.URL == "" {
		meta.URL = model.VideoURL(item.ID)
	}

	fm, err := yaml.Marshal(frontMatter{
		ID:              item.ID,
		Title:           meta.Title,
		Channel:         meta.Channel,
		ChannelID:       meta.ChannelID,
		URL:             meta.URL,
		UploadDate:      meta.UploadDate,
		DurationSeconds: meta.DurationSeconds,
		Language:        meta.Language,
		AutoGenerated:   meta.AutoGenerated,
		Method:          item.Result.Method,
		ExtractedAt:     extracted,
	})
	if err != nil {
		return "", fmt.Errorf("encode front matter for %s: %w", item.ID, err)
	}

	var doc bytes.Buffer
	doc.WriteString("---\n")
	doc.Write(fm)
	doc.WriteString("---\n\n")
	if meta.Title != "" {
		doc.WriteString("# " + meta.Title + "\n\n")
	}
	doc.WriteString(strings.TrimSpace(item.Result.Text))
	doc.WriteString("\n")

	if err := runstore.WriteBytes(abs, doc.Bytes()); err != nil {
		return "", err
	}

	side := sidecar{
		ID:          item.ID,
		Method:      item.Result.Method,
		ExtractedAt: extracted,
		Words:       len(strings.Fields(item.Result.Text)),
		Characters:  len([]rune(item.Result.Text)),
		Metadata:    meta,
		Attempts:    item.Attempts,
	}
	if err := runstore.WriteJSON(strings.TrimSuffix(abs, ".md")+".metadata.json", side); err != nil {
		return "", err
	}
	return rel, nil
}

// Exists reports whether a transcript for the item is already on disk.
func Exists(sessionDir, rel string) bool {
	if strings.TrimSpace(rel) == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(sessionDir, filepath.FromSlash(rel)))
	return err == nil
}

// ReadSidecar loads the metadata json written next to a transcript.
func ReadSidecar(sessionDir, rel string) (model.Metadata, error) {
	var side sidecar
	path := filepath.Join(sessionDir, filepath.FromSlash(strings.TrimSuffix(rel, ".md")+".metadata.json"))
	if err := runstore.ReadJSON(path, &side); err != nil {
		return model.Metadata{}, err
	}
	return side.Metadata, nil
}
