package cli

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"yt-transcripts/internal/harvest"
	"yt-transcripts/internal/model"
)

// eventLog keeps the most recent transition lines, newest first.
type eventLog struct {
	mu     sync.Mutex
	limit  int
	events []string
}

func newEventLog(limit int) *eventLog {
	return &eventLog{limit: limit, events: make([]string, 0, limit)}
}

func (l *eventLog) Add(ev harvest.Event) {
	line := describeEvent(ev)
	if line == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append([]string{line}, l.events...)
	if len(l.events) > l.limit {
		l.events = l.events[:l.limit]
	}
}

func (l *eventLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// describeEvent renders transitions out of in_progress and requeues. Other
// transitions are bookkeeping and stay quiet.
func describeEvent(ev harvest.Event) string {
	prefix := fmt.Sprintf("[%d/%d]", ev.Counters.Done(), ev.Counters.Total)
	switch {
	case ev.To == model.StatusSucceeded:
		return fmt.Sprintf("%s done  %s (%s)", prefix, ev.Identity, ev.Method)
	case ev.To == model.StatusFailedRetryable:
		return fmt.Sprintf("%s fail  %s (retryable: %s)", prefix, ev.Identity, ev.Kind)
	case ev.To == model.StatusFailedPermanent:
		return fmt.Sprintf("%s fail  %s (permanent: %s)", prefix, ev.Identity, ev.Kind)
	case ev.From == model.StatusFailedRetryable && ev.To == model.StatusPending:
		return fmt.Sprintf("%s retry %s (%s)", prefix, ev.Identity, ev.Detail)
	}
	return ""
}

// linePrinter writes one line per finished item for non-interactive runs.
type linePrinter struct {
	mu sync.Mutex
	w  io.Writer
}

func newLinePrinter(w io.Writer) *linePrinter {
	return &linePrinter{w: w}
}

func (p *linePrinter) Print(ev harvest.Event) {
	line := describeEvent(ev)
	if line == "" {
		return
	}
	p.mu.Lock()
	fmt.Fprintln(p.w, line)
	p.mu.Unlock()
}

// estimateETA extrapolates the remaining time from the items finished so far.
func estimateETA(done, total int, elapsed time.Duration) string {
	if done <= 0 || total <= 0 || elapsed <= 0 {
		return ""
	}
	remaining := total - done
	if remaining <= 0 {
		return "0m"
	}
	perItem := elapsed.Seconds() / float64(done)
	return formatETASeconds(perItem * float64(remaining))
}

func formatETASeconds(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	secs := int64(math.Round(seconds))
	if secs < 60 {
		return "<1m"
	}
	minutes := secs / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	hours := minutes / 60
	remMinutes := minutes % 60
	if hours < 24 {
		if remMinutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh %dm", hours, remMinutes)
	}
	days := hours / 24
	remHours := hours % 24
	if remHours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, remHours)
}

func countsLine(c model.Counters) string {
	return strings.Join([]string{
		fmt.Sprintf("ok %d", c.Succeeded),
		fmt.Sprintf("retry %d", c.FailedRetryable),
		fmt.Sprintf("perm %d", c.FailedPermanent),
		fmt.Sprintf("pending %d", c.Pending),
		fmt.Sprintf("active %d", c.InProgress),
	}, " | ")
}
