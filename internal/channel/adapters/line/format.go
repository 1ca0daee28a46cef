package line

import (
	"regexp"
	"strings"
)

// LINE clients render plain text only, so backend markdown is rewritten
// into reading marks. Tables are flattened into bullet lines, which is a
// one-way transform: a formatted table cannot be recovered. The other
// rules are idempotent.
var (
	boldPattern     = regexp.MustCompile(`\*\*(.*?)\*\*`)
	headingPattern  = regexp.MustCompile(`(?m)^#{1,6}\s+(.*)$`)
	tableSepPattern = regexp.MustCompile(`(?m)^\|[\s-]+\|[\s-]+\|.*$`)
	tableRowPattern = regexp.MustCompile(`(?m)^\|\s*(.*?)\s*\|\s*(.*?)\s*\|(?:\s*(.*?)\s*\|)?$`)
	blankPattern    = regexp.MustCompile(`\n{3,}`)
)

// Format rewrites markdown into LINE-friendly plain text.
func (a *Adapter) Format(text string) string {
	if text == "" {
		return ""
	}
	formatted := boldPattern.ReplaceAllString(text, "【$1】")
	formatted = headingPattern.ReplaceAllString(formatted, "\n■ $1")
	formatted = tableSepPattern.ReplaceAllString(formatted, "")
	formatted = tableRowPattern.ReplaceAllStringFunc(formatted, func(row string) string {
		cells := tableRowPattern.FindStringSubmatch(row)
		if cells == nil {
			return row
		}
		if cells[3] != "" {
			return "・" + cells[1] + " : " + cells[2] + " (" + cells[3] + ")"
		}
		return "・" + cells[1] + " : " + cells[2]
	})
	formatted = blankPattern.ReplaceAllString(formatted, "\n\n")
	return strings.TrimSpace(formatted)
}
