package notify

import (
	"html"
	"sort"
	"strings"

	"github.com/tranqv/homewire/internal/api"
)

// FormatMessageWithRanges renders a notification message as markup,
// wrapping each annotated range in <strong> and converting newlines to
// <br/>. Every text segment is HTML-escaped individually before
// concatenation: escaping the assembled string would mangle the inserted
// tags, and skipping it would let server-supplied content inject markup.
//
// The walk is defensive: ranges are sorted by offset, clamped to the
// message bounds, and any range already covered by the cursor (overlap,
// negative or degenerate extents) is skipped. The function is pure and
// never panics for any input.
func FormatMessageWithRanges(message string, ranges []api.Range) string {
	n := len(message)
	if len(ranges) == 0 || n == 0 {
		return breakLines(html.EscapeString(message))
	}

	sorted := make([]api.Range, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var b strings.Builder
	cursor := 0
	for _, r := range sorted {
		start := r.Offset
		if start < 0 {
			start = 0
		}
		if start >= n {
			// Ranges are sorted; everything past this point is out of bounds.
			break
		}
		end := start + r.Length
		if end > n {
			end = n
		}
		if end <= cursor || end <= start {
			continue
		}
		if start < cursor {
			start = cursor
		}
		b.WriteString(html.EscapeString(message[cursor:start]))
		b.WriteString("<strong>")
		b.WriteString(html.EscapeString(message[start:end]))
		b.WriteString("</strong>")
		cursor = end
	}
	b.WriteString(html.EscapeString(message[cursor:]))
	return breakLines(b.String())
}

func breakLines(markup string) string {
	return strings.ReplaceAll(markup, "\n", "<br/>")
}
