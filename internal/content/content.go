// ABOUTME: Entry body processing: sanitizes untrusted feed HTML before storage
// ABOUTME: and renders stored bodies as Markdown for terminal display

package content

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
)

var (
	htmlTagPattern = regexp.MustCompile(`<\s*(p|div|span|a|br|img|h[1-6]|ul|ol|li|table|tr|td|th|strong|em|b|i|code|pre|blockquote)[^>]*>`)
	policy         = bluemonday.UGCPolicy()
)

// IsHTML reports whether s looks like HTML.
func IsHTML(s string) bool {
	if strings.Contains(s, "<!DOCTYPE") || strings.Contains(s, "<html") {
		return true
	}
	return htmlTagPattern.MatchString(s)
}

// Sanitize strips scripts, event handlers and other unsafe markup from a
// feed-provided description. Plain text passes through unchanged.
func Sanitize(s string) string {
	if s == "" || !strings.ContainsAny(s, "<&") {
		return s
	}
	return strings.TrimSpace(policy.Sanitize(s))
}

// ToMarkdown converts HTML to Markdown. Non-HTML input is returned as is.
func ToMarkdown(s string) string {
	if s == "" || !IsHTML(s) {
		return s
	}

	markdown, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		return s
	}
	return strings.TrimSpace(markdown)
}

// Render converts s to Markdown and styles it for a terminal. If styling
// fails the Markdown is returned.
func Render(s, style string) string {
	markdown := ToMarkdown(s)
	if markdown == "" {
		return ""
	}
	if style == "" {
		style = "dark"
	}
	rendered, err := glamour.Render(markdown, style)
	if err != nil {
		return markdown
	}
	return rendered
}
