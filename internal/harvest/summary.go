package harvest

import (
	"fmt"

	"yt-transcripts/internal/model"
)

var remediation = []struct {
	kind model.ErrorKind
	text string
}{
	{model.KindRateLimited, "%d items hit rate limits; resume the session later"},
	{model.KindNetwork, "%d items failed on network errors; resume the session to retry"},
	{model.KindQuotaExhausted, "%d items ran into the managed API quota; raise the quota or wait for it to reset"},
	{model.KindPermanentCredential, "%d items failed on credentials; check cookies, proxy auth and the managed API key"},
	{model.KindNotFoundOnTier, "%d items have no transcript on any enabled tier"},
	{model.KindPermanentSource, "%d items are permanently inaccessible (private, removed or invalid)"},
	{model.KindOutputError, "%d transcripts could not be written; check disk space and permissions, then resume"},
	{model.KindInternalFault, "%d items hit an internal fault; see attempts.jsonl for details"},
}

// Summarize turns the final item table into remediation lines, one per error
// kind present, plus a line for anything still pending.
func Summarize(counters model.Counters, items []model.Item) []string {
	byKind := map[model.ErrorKind]int{}
	for _, it := range items {
		if it.Status == model.StatusFailedRetryable || it.Status == model.StatusFailedPermanent {
			byKind[it.ErrorKind]++
		}
	}

	lines := []string{fmt.Sprintf("%d of %d items succeeded", counters.Succeeded, counters.Total)}
	known := 0
	for _, r := range remediation {
		if n := byKind[r.kind]; n > 0 {
			lines = append(lines, fmt.Sprintf(r.text, n))
			known += n
		}
	}
	failed := counters.FailedRetryable + counters.FailedPermanent
	if other := failed - known; other > 0 {
		lines = append(lines, fmt.Sprintf("%d items failed with an unclassified error", other))
	}
	if waiting := counters.Pending + counters.InProgress; waiting > 0 {
		lines = append(lines, fmt.Sprintf("%d items were not processed; resume the session to continue", waiting))
	}
	return lines
}
