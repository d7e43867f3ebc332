// Package classify maps raw backend failures onto the shared error taxonomy
// and tells the tier chain what to do about each kind.
package classify

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"yt-transcripts/internal/model"
)

// Backend identifies which tier implementation produced a failure.
type Backend string

const (
	BackendYTDLP         Backend = "ytdlp"
	BackendTranscriptAPI Backend = "transcriptapi"
	BackendGeneric       Backend = "generic"
)

// Codes reported by backends without an HTTP status.
const (
	CodeNoCaptions       = "no_captions"
	CodeBinaryMissing    = "binary_missing"
	CodeQuotaExceeded    = "quota-exceeded"
	CodeTranscriptAbsent = "transcript-unavailable"
	CodeInvalidVideoID   = "invalid-video-id"
	CodeUnauthorized     = "unauthorized"
	CodeLimitExceeded    = "limit-exceeded"
)

// Raw is everything a tier knows about a failed attempt.
type Raw struct {
	Backend    Backend
	StatusCode int
	Code       string
	Message    string
	Err        error
	RetryAfter time.Duration
}

// Classify is pure: the same Raw always yields the same kind.
// Anything unrecognised is treated as not found on this tier so the chain falls through.
func Classify(raw Raw) model.ErrorKind {
	if kind, ok := classifyGenericErr(raw.Err); ok {
		return kind
	}
	switch raw.Backend {
	case BackendYTDLP:
		return classifyYTDLP(raw)
	case BackendTranscriptAPI:
		return classifyTranscriptAPI(raw)
	}
	if kind, ok := classifyStatus(raw.StatusCode); ok {
		return kind
	}
	return model.KindNotFoundOnTier
}

func classifyGenericErr(err error) (model.ErrorKind, bool) {
	if err == nil {
		return "", false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.KindNetwork, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.KindNetwork, true
	}
	return "", false
}

var ytdlpSignatures = []struct {
	kind  model.ErrorKind
	hints []string
}{
	{model.KindPermanentCredential, []string{
		"407 proxy authentication",
		"proxy authentication required",
		"cookies are no longer valid",
		"invalid cookies",
		"executable file not found",
		"yt-dlp not found",
	}},
	{model.KindRateLimited, []string{
		"http error 429",
		"too many requests",
		"sign in to confirm you",
		"not a bot",
		"rate-limit",
		"rate limit",
	}},
	{model.KindPermanentSource, []string{
		"private video",
		"video unavailable",
		"this video is unavailable",
		"has been removed",
		"account associated with this video has been terminated",
		"members-only",
		"join this channel",
		"is not a valid url",
		"incomplete youtube id",
		"invalid video id",
		"this live event will begin",
		"copyright",
	}},
	{model.KindNetwork, []string{
		"timed out",
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure in name resolution",
		"network is unreachable",
		"tunnel connection failed",
		"remote end closed connection",
		"http error 500",
		"http error 502",
		"http error 503",
		"http error 504",
		"eof occurred in violation of protocol",
		"unable to download webpage",
	}},
	{model.KindNotFoundOnTier, []string{
		"there are no subtitles",
		"no subtitles",
		"no captions",
		"subtitles are disabled",
	}},
}

func classifyYTDLP(raw Raw) model.ErrorKind {
	switch raw.Code {
	case CodeNoCaptions:
		return model.KindNotFoundOnTier
	case CodeBinaryMissing:
		return model.KindPermanentCredential
	}
	msg := strings.ToLower(raw.Message)
	if raw.Err != nil {
		msg += "\n" + strings.ToLower(raw.Err.Error())
	}
	for _, sig := range ytdlpSignatures {
		for _, hint := range sig.hints {
			if strings.Contains(msg, hint) {
				return sig.kind
			}
		}
	}
	return model.KindNotFoundOnTier
}

func classifyTranscriptAPI(raw Raw) model.ErrorKind {
	switch strings.ToLower(strings.TrimSpace(raw.Code)) {
	case CodeQuotaExceeded:
		return model.KindQuotaExhausted
	case CodeTranscriptAbsent:
		return model.KindNotFoundOnTier
	case CodeInvalidVideoID:
		return model.KindPermanentSource
	case CodeUnauthorized:
		return model.KindPermanentCredential
	case CodeLimitExceeded:
		return model.KindRateLimited
	}
	if kind, ok := classifyStatus(raw.StatusCode); ok {
		return kind
	}
	if raw.StatusCode == 0 && raw.Err != nil {
		// transport failure before any response
		return model.KindNetwork
	}
	return model.KindNotFoundOnTier
}

func classifyStatus(code int) (model.ErrorKind, bool) {
	switch {
	case code == 0:
		return "", false
	case code == 400 || code == 410:
		return model.KindPermanentSource, true
	case code == 401 || code == 403 || code == 407:
		return model.KindPermanentCredential, true
	case code == 402:
		return model.KindQuotaExhausted, true
	case code == 404:
		return model.KindNotFoundOnTier, true
	case code == 408:
		return model.KindNetwork, true
	case code == 429:
		return model.KindRateLimited, true
	case code >= 500:
		return model.KindNetwork, true
	}
	return "", false
}
