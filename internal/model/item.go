package model

import "time"

// Platform is the directory name transcripts are grouped under.
const Platform = "youtube"

// MethodCache marks results served from the transcript cache instead of a tier.
const MethodCache = "cache"

// OutcomeSuccess is the outcome recorded on an attempt that produced a transcript.
const OutcomeSuccess = "success"

// Item is one unit of work: a single video reference resolved into a transcript.
type Item struct {
	ID         string
	SourceHint string
	Status     Status
	Attempts   []Attempt
	Result     *Result
	ErrorKind  ErrorKind
	Detail     string
	Path       string
	Requeues   int
	UpdatedAt  time.Time
}

// Attempt is one tier invocation for an item. The history is append-only.
type Attempt struct {
	Tier    string    `json:"tier"`
	At      time.Time `json:"at"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// Result is present only on succeeded items.
type Result struct {
	Text     string
	Method   string
	Metadata Metadata
}

// Metadata is captured opportunistically while extracting.
type Metadata struct {
	Title           string  `json:"title,omitempty" yaml:"title,omitempty"`
	Channel         string  `json:"channel,omitempty" yaml:"channel,omitempty"`
	ChannelID       string  `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	UploadDate      string  `json:"upload_date,omitempty" yaml:"upload_date,omitempty"`
	Language        string  `json:"language,omitempty" yaml:"language,omitempty"`
	URL             string  `json:"url,omitempty" yaml:"url,omitempty"`
	AutoGenerated   bool    `json:"auto_generated,omitempty" yaml:"auto_generated,omitempty"`
}

// NewItem returns a pending item for a normalized identity.
func NewItem(id string) Item {
	return Item{ID: id, Status: StatusPending}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (it Item) Clone() Item {
	out := it
	if it.Attempts != nil {
		out.Attempts = make([]Attempt, len(it.Attempts))
		copy(out.Attempts, it.Attempts)
	}
	if it.Result != nil {
		r := *it.Result
		out.Result = &r
	}
	return out
}

// LastAttempt returns the most recent attempt, if any.
func (it Item) LastAttempt() (Attempt, bool) {
	if len(it.Attempts) == 0 {
		return Attempt{}, false
	}
	return it.Attempts[len(it.Attempts)-1], true
}

// Method reports which acquisition method produced the transcript.
func (it Item) Method() string {
	if it.Result == nil {
		return ""
	}
	return it.Result.Method
}
