package validators

import (
	"fmt"
	"regexp"
	"strings"
)

const maxSourceNameLength = 64

// Source names must start with a lowercase letter or digit and may contain
// underscores and hyphens after that
var sourceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateSourceName validates the name of a source as it appears in staged
// file names ({source}.json) and in envelope metadata.
// Returns the validated name (trimmed) and an error if validation fails.
//
// Examples of valid names:
//   - parliament
//   - chinese_news
//   - global-affairs
//
// Examples of invalid names:
//   - ../escape (path separator)
//   - News (uppercase)
//   - _hidden (leading underscore)
func ValidateSourceName(name string) (string, error) {
	name = strings.TrimSpace(name)

	if name == "" {
		return "", fmt.Errorf("source name cannot be empty")
	}
	if len(name) > maxSourceNameLength {
		return "", fmt.Errorf("source name must be at most %d characters long", maxSourceNameLength)
	}
	if !sourceNamePattern.MatchString(name) {
		return "", fmt.Errorf("source name %q must match %s", name, sourceNamePattern)
	}
	return name, nil
}
