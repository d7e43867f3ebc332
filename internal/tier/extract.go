package tier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"yt-transcripts/internal/classify"
	"yt-transcripts/internal/model"
	"yt-transcripts/internal/ytdlp"
)

type captionFetcher func(ctx context.Context, opts ytdlp.CaptionOptions) (ytdlp.Captions, error)

// YTDLPConfig is shared by the captions and proxied tiers.
type YTDLPConfig struct {
	Binary      string
	SubLangs    string
	CookiesPath string
	JSRuntime   string
	TempRoot    string
	Timeout     time.Duration
}

// extractCaptions runs one yt-dlp caption fetch in a scratch directory and turns
// the result into an outcome.
func extractCaptions(ctx context.Context, fetch captionFetcher, cfg YTDLPConfig, item model.Item, proxyURL string) model.Outcome {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	work, err := os.MkdirTemp(cfg.TempRoot, "ytt-"+safeFileID(item.ID)+"-")
	if err != nil {
		return model.Failed(model.KindInternalFault, fmt.Sprintf("create scratch dir: %v", err), 0)
	}
	defer os.RemoveAll(work)

	caps, err := fetch(ctx, ytdlp.CaptionOptions{
		Binary:      cfg.Binary,
		VideoURL:    model.VideoURL(item.ID),
		VideoID:     item.ID,
		WorkDir:     work,
		SubLangs:    cfg.SubLangs,
		CookiesPath: cfg.CookiesPath,
		ProxyURL:    proxyURL,
		JSRuntime:   cfg.JSRuntime,
	})
	if err != nil {
		raw := classify.Raw{Backend: classify.BackendYTDLP, Err: err, Message: err.Error()}
		var runErr *ytdlp.RunError
		switch {
		case errors.Is(err, ytdlp.ErrNoCaptions):
			raw.Code = classify.CodeNoCaptions
		case errors.Is(err, ytdlp.ErrBinaryMissing):
			raw.Code = classify.CodeBinaryMissing
		case errors.As(err, &runErr):
			raw.Message = runErr.Stderr + "\n" + runErr.Stdout
		}
		return model.Failed(classify.Classify(raw), lastLines(raw.Message, 4), 0)
	}

	return model.Succeeded(caps.Text, model.Metadata{
		Title:           caps.Info.Title,
		Channel:         caps.Info.ChannelName(),
		ChannelID:       caps.Info.ChannelID,
		DurationSeconds: caps.Info.Duration,
		UploadDate:      caps.Info.UploadDate,
		Language:        caps.Language,
		URL:             firstNonEmpty(caps.Info.WebpageURL, model.VideoURL(item.ID)),
		AutoGenerated:   caps.AutoGenerated,
	})
}

func safeFileID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "item"
	}
	var b strings.Builder
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// lastLines keeps the tail of a noisy tool output, where yt-dlp prints its ERROR line.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			kept = append(kept, strings.TrimSpace(l))
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return strings.Join(kept, " | ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
