package classify

import "yt-transcripts/internal/model"

// Action is what the tier chain does after a failed attempt.
type Action int

const (
	// Abort ends the chain, the item is permanently failed.
	Abort Action = iota
	// RetrySameTier backs off and tries the same tier again, up to its bound.
	RetrySameTier
	// NextTier falls through immediately.
	NextTier
	// DisableTier turns the tier off for the rest of the session and falls through.
	DisableTier
)

func (a Action) String() string {
	switch a {
	case Abort:
		return "abort"
	case RetrySameTier:
		return "retry_same_tier"
	case NextTier:
		return "next_tier"
	case DisableTier:
		return "disable_tier"
	}
	return "unknown"
}

var propagation = map[model.ErrorKind]Action{
	model.KindPermanentSource:     Abort,
	model.KindRateLimited:         RetrySameTier,
	model.KindNetwork:             RetrySameTier,
	model.KindNotFoundOnTier:      NextTier,
	model.KindPermanentCredential: DisableTier,
	model.KindQuotaExhausted:      DisableTier,
}

// Propagate returns the chain action for a kind. Unknown kinds fall through.
func Propagate(kind model.ErrorKind) Action {
	if action, ok := propagation[kind]; ok {
		return action
	}
	return NextTier
}
