package cdr

import (
	"fmt"
	"html"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "plain text", input: "Trade talks resume", want: "Trade talks resume"},
		{name: "markup stripped", input: "<p>Hello <b>world</b></p>", want: "Hello world"},
		{name: "script content removed", input: "<script>alert(1)</script>Safe", want: "Safe"},
		{name: "encoded script removed", input: "&lt;script&gt;alert(1)&lt;/script&gt;Safe", want: "Safe"},
		{name: "entities decoded", input: "Tom &amp; Jerry", want: "Tom & Jerry"},
		{name: "ampersand kept", input: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "control characters removed", input: "a\x07b\x1bc\u0085d\ne\tf", want: "abcd\ne\tf"},
		{name: "long whitespace collapsed", input: "a" + strings.Repeat(" ", 12) + "b", want: "a  b"},
		{name: "short whitespace kept", input: "a     b", want: "a     b"},
		{name: "truncated with ellipsis", input: strings.Repeat("x", 30), maxLen: 10, want: strings.Repeat("x", 10) + "..."},
		{name: "truncated by rune", input: "中文中文中", maxLen: 2, want: "中文..."},
		{name: "trimmed", input: "  padded  ", want: "padded"},
		{name: "chinese kept", input: "<em>加拿大</em>与中国", want: "加拿大与中国"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, SanitizeString(tt.input, tt.maxLen))
		})
	}
}

func TestSanitizeStringNestedEncodings(t *testing.T) {
	t.Parallel()

	encode := func(s string, levels int) string {
		for range levels {
			s = html.EscapeString(s)
		}
		return s
	}

	for _, levels := range []int{1, 2, 4, 5, 8, 40} {
		t.Run(fmt.Sprintf("%d levels", levels), func(t *testing.T) {
			t.Parallel()

			got := SanitizeString(encode("<script>alert(1)</script>Safe", levels), 500)
			assert.NotContains(t, got, "<")
			assert.NotContains(t, got, ">")
			assert.Contains(t, got, "Safe")
		})
	}
}

func TestSanitizeURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "https", input: "https://example.com/a?b=1", want: "https://example.com/a?b=1", ok: true},
		{name: "http trimmed", input: "  http://example.com/x  ", want: "http://example.com/x", ok: true},
		{name: "javascript scheme", input: "javascript:alert(1)"},
		{name: "data scheme", input: "data:text/html;base64,PHNjcmlwdD4="},
		{name: "ftp scheme", input: "ftp://example.com/file"},
		{name: "protocol relative", input: "//example.com/a"},
		{name: "missing host", input: "https://"},
		{name: "embedded script", input: "https://example.com/?q=<script>"},
		{name: "embedded javascript", input: "https://example.com/javascript:void(0)"},
		{name: "embedded handler", input: "https://example.com/x?onerror=alert(1)"},
		{name: "too long", input: "https://example.com/" + strings.Repeat("a", MaxURLLength)},
		{name: "empty", input: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := SanitizeURL(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
