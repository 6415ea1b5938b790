package cdr

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxTextLength bounds long text fields such as article bodies
	MaxTextLength = 50_000

	// MaxURLLength is the longest URL that is kept
	MaxURLLength = 2048

	// maxStripPasses bounds the unescape-and-strip loop for nested encodings
	maxStripPasses = 32

	ellipsis = "..."
)

var (
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0b-\x1f\x7f-\x9f]`)
	whitespaceRuns = regexp.MustCompile(`[\s\p{Z}]{10,}`)

	// markers that disqualify a URL even behind an http(s) scheme
	urlMarkers = []string{"javascript:", "data:", "vbscript:", "file:", "<script", "onerror="}

	strictPolicy = sync.OnceValue(bluemonday.StrictPolicy)
)

// SanitizeString strips every HTML element, removes control characters other
// than newline and tab, collapses long whitespace runs, and truncates the
// result to maxLen runes with a trailing ellipsis. maxLen <= 0 means MaxTextLength.
func SanitizeString(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxTextLength
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	clean := stripMarkup(s)
	clean = controlChars.ReplaceAllString(clean, "")
	clean = whitespaceRuns.ReplaceAllString(clean, "  ")
	if utf8.RuneCountInString(clean) > maxLen {
		clean = string([]rune(clean)[:maxLen]) + ellipsis
	}
	return strings.TrimSpace(clean)
}

// stripMarkup strips and unescapes until the text is stable, so entity-encoded
// tags are decoded and stripped as well. Text still changing after
// maxStripPasses is returned stripped and escaped, never freshly unescaped.
func stripMarkup(s string) string {
	p := strictPolicy()
	for range maxStripPasses {
		next := html.UnescapeString(p.Sanitize(s))
		if next == s {
			return s
		}
		s = next
	}
	return p.Sanitize(s)
}

// SanitizeURL returns the trimmed URL when it is an absolute http or https
// URL no longer than MaxURLLength with no embedded script markers.
func SanitizeURL(raw string) (string, bool) {
	u := strings.TrimSpace(raw)
	if u == "" || len(u) > MaxURLLength {
		return "", false
	}
	lower := strings.ToLower(u)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", false
	}
	for _, m := range urlMarkers {
		if strings.Contains(lower, m) {
			return "", false
		}
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	return u, true
}
