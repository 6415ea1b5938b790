package validators

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// suspiciousPattern matches markers that never belong in fetched data
var suspiciousPattern = regexp.MustCompile(`(?i)` + strings.Join([]string{
	`<script[^>]*>`,
	`javascript:`,
	`data:text/html`,
	`on(click|error|load|mouseover|focus|blur)\s*=`,
	`\.\./\.\./`,
	`file://`,
	`\\x[0-9a-f]{2}\\x[0-9a-f]{2}`,
	`eval\s*\(`,
	`document\.(write|cookie|location|body|head|getElementById|querySelector)`,
	`window\.(location|open|eval|execScript)`,
	`<iframe[^>]*>`,
	`<object[^>]*>`,
	`<embed[^>]*>`,
	`vbscript:`,
}, "|"))

var urlFields = map[string]struct{}{
	"url":        {},
	"source_url": {},
	"link":       {},
	"href":       {},
	"image_url":  {},
	"thumbnail":  {},
}

// urlScheme captures the scheme of an absolute URL
var urlScheme = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9+.\-]*):`)

const matchDetailLength = 50

type walker struct {
	limits     Limits
	violations []Violation
}

func (w *walker) add(kind Kind, location, detail string) {
	if location == "" {
		location = rootLocation
	}
	w.violations = append(w.violations, Violation{Kind: kind, Location: location, Detail: truncateDetail(detail)})
}

func (w *walker) walk(value any, path string, depth int) {
	switch v := value.(type) {
	case map[string]any:
		if depth > w.limits.MaxDepth {
			w.add(KindDepth, path, fmt.Sprintf("nesting depth exceeds %d", w.limits.MaxDepth))
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			if m := suspiciousPattern.FindString(k); m != "" {
				w.add(KindSuspicious, child, "key matches "+quoteMatch(m))
			}
			w.walk(v[k], child, depth+1)
		}
	case []any:
		if depth > w.limits.MaxDepth {
			w.add(KindDepth, path, fmt.Sprintf("nesting depth exceeds %d", w.limits.MaxDepth))
			return
		}
		if len(v) > w.limits.MaxArrayLength {
			w.add(KindArrayLength, path, fmt.Sprintf("%d items exceeds %d", len(v), w.limits.MaxArrayLength))
		}
		for i, item := range v {
			w.walk(item, fmt.Sprintf("%s[%d]", path, i), depth+1)
		}
	case string:
		w.checkString(v, path)
	}
}

func (w *walker) checkString(s, path string) {
	if n := utf8.RuneCountInString(s); n > w.limits.MaxStringLength {
		w.add(KindStringLength, path, fmt.Sprintf("%d characters exceeds %d", n, w.limits.MaxStringLength))
	}

	flagged := false
	if m := suspiciousPattern.FindString(s); m != "" {
		w.add(KindSuspicious, path, "value matches "+quoteMatch(m))
		flagged = true
	}

	if !isURLField(path) {
		return
	}
	if len(s) > w.limits.MaxURLLength {
		w.add(KindURLLength, path, fmt.Sprintf("%d bytes exceeds %d", len(s), w.limits.MaxURLLength))
	}
	if strings.Contains(s, "..") || strings.HasPrefix(s, "/etc/") || strings.HasPrefix(s, "/proc/") {
		w.add(KindPathTraversal, path, s)
	}
	if m := urlScheme.FindStringSubmatch(s); m != nil && !flagged {
		switch scheme := strings.ToLower(m[1]); scheme {
		case "http", "https":
		default:
			w.add(KindDangerousURL, path, "scheme "+scheme)
		}
	}
}

// isURLField reports whether any element of a JSON path names a URL field
func isURLField(path string) bool {
	for _, part := range strings.FieldsFunc(strings.ToLower(path), func(r rune) bool {
		return r == '.' || r == '[' || r == ']'
	}) {
		if _, ok := urlFields[part]; ok {
			return true
		}
	}
	return false
}

func quoteMatch(m string) string {
	if r := []rune(m); len(r) > matchDetailLength {
		m = string(r[:matchDetailLength])
	}
	return fmt.Sprintf("%q", m)
}
