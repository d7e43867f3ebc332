package ytdlp

import (
	"html"
	"regexp"
	"strings"
)

var (
	vttTagPattern   = regexp.MustCompile(`<[^>]*>`)
	vttSpacePattern = regexp.MustCompile(`\s+`)
)

// ParseVTT flattens a WebVTT document into plain transcript lines. Cue timings,
// styling tags and the rolling repeats of auto-generated tracks are dropped.
func ParseVTT(doc string) string {
	doc = strings.ReplaceAll(doc, "\r\n", "\n")
	doc = strings.ReplaceAll(doc, "\r", "\n")
	doc = strings.TrimPrefix(doc, "\ufeff")

	var out []string
	last := ""
	for _, block := range strings.Split(doc, "\n\n") {
		lines := strings.Split(strings.Trim(block, "\n"), "\n")
		if len(lines) == 0 || isVTTHeaderBlock(lines[0]) {
			continue
		}
		timing := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timing = i
				break
			}
		}
		if timing < 0 {
			continue
		}
		for _, line := range lines[timing+1:] {
			text := cleanCueLine(line)
			if text == "" || text == last {
				continue
			}
			out = append(out, text)
			last = text
		}
	}
	return strings.Join(out, "\n")
}

func isVTTHeaderBlock(first string) bool {
	first = strings.TrimSpace(first)
	for _, prefix := range []string{"WEBVTT", "NOTE", "STYLE", "REGION", "Kind:", "Language:"} {
		if strings.HasPrefix(first, prefix) {
			return true
		}
	}
	return false
}

func cleanCueLine(line string) string {
	line = vttTagPattern.ReplaceAllString(line, "")
	line = html.UnescapeString(line)
	line = strings.ReplaceAll(line, "\u00a0", " ")
	return strings.TrimSpace(vttSpacePattern.ReplaceAllString(line, " "))
}
