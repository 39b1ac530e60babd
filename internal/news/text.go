package news

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// StripHTML turns feed markup into plain text with collapsed whitespace.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	// Block-level tags become spaces so adjacent paragraphs don't fuse.
	r := strings.NewReplacer("<br>", " ", "<br/>", " ", "<br />", " ", "</p>", " ", "</div>", " ", "</li>", " ")
	cleaned := strictPolicy.Sanitize(r.Replace(s))
	cleaned = html.UnescapeString(cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

// Truncate cuts s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// FallbackSummary picks the first two reasonably long sentences of content.
func FallbackSummary(content string) string {
	c := strings.TrimSpace(content)
	if c == "" {
		return ""
	}
	sentences := strings.Split(c, ".")
	var picked []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if len(s) < 25 {
			continue
		}
		picked = append(picked, s)
		if len(picked) >= 2 {
			break
		}
	}
	if len(picked) == 0 {
		return Truncate(c, 160)
	}
	return strings.Join(picked, ". ") + "."
}
