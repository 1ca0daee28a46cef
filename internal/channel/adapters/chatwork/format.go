package chatwork

import (
	"regexp"
	"strings"
)

// Chatwork renders its own tag markup instead of markdown, so backend
// markdown is rewritten into [info], [title], and [code] tags.
var (
	boldPattern     = regexp.MustCompile(`\*\*(.*?)\*\*`)
	heading3Pattern = regexp.MustCompile(`(?m)^###\s+(.*)$`)
	heading2Pattern = regexp.MustCompile(`(?m)^##\s+(.*)$`)
	codePattern     = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9]*\n)?(.*?)```")
)

// Format rewrites markdown into Chatwork tag markup.
func (a *Adapter) Format(text string) string {
	if text == "" {
		return ""
	}
	formatted := codePattern.ReplaceAllString(text, "[code]$1[/code]")
	formatted = boldPattern.ReplaceAllString(formatted, "[info]$1[/info]")
	formatted = heading3Pattern.ReplaceAllString(formatted, "[title]$1[/title]")
	formatted = heading2Pattern.ReplaceAllString(formatted, "[title]$1[/title]")
	return strings.TrimSpace(formatted)
}
