package tier

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"yt-transcripts/internal/classify"
	"yt-transcripts/internal/model"
	"yt-transcripts/internal/transcriptapi"
)

type transcriptFetcher interface {
	FetchTranscript(ctx context.Context, videoURL, lang string) (transcriptapi.Transcript, error)
}

// Managed is tier 3: the metered hosted transcript API.
type Managed struct {
	client  transcriptFetcher
	lang    string
	profile Profile
	limiter *rate.Limiter
}

func NewManaged(client *transcriptapi.Client, lang string, ratePerSecond float64) *Managed {
	profile := Profile{Metered: true, RatePerSecond: ratePerSecond, Burst: 1}
	return &Managed{
		client:  client,
		lang:    lang,
		profile: profile,
		limiter: NewLimiter(profile),
	}
}

func (m *Managed) Name() string     { return NameManaged }
func (m *Managed) Profile() Profile { return m.profile }

func (m *Managed) Attempt(ctx context.Context, item model.Item) (out model.Outcome) {
	defer guard(NameManaged, &out)
	if failed := wait(ctx, m.limiter); failed != nil {
		return *failed
	}

	videoURL := model.VideoURL(item.ID)
	transcript, err := m.client.FetchTranscript(ctx, videoURL, m.lang)
	if err != nil {
		raw := classify.Raw{Backend: classify.BackendTranscriptAPI, Err: err, Message: err.Error()}
		var statusErr *transcriptapi.StatusError
		if errors.As(err, &statusErr) {
			raw.StatusCode = statusErr.StatusCode
			raw.Code = statusErr.Code
			raw.RetryAfter = statusErr.RetryAfter
		}
		return model.Failed(classify.Classify(raw), err.Error(), raw.RetryAfter)
	}
	if transcript.Content == "" {
		return model.Failed(model.KindNotFoundOnTier, "transcript api returned empty content", 0)
	}
	return model.Succeeded(transcript.Content, model.Metadata{
		Language: transcript.Lang,
		URL:      videoURL,
	})
}
