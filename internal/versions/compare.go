// Package versions compares the envelope versions written by the fetch stage
// with the version of the build that reads them.
package versions

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Compare returns -1, 0 or 1 as candidate is older than, equal to or newer
// than current. Both must be semantic versions; a leading "v" is accepted.
func Compare(candidate, current string) (int, error) {
	c, err := semver.NewVersion(candidate)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", candidate, err)
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", current, err)
	}
	return c.Compare(cur), nil
}

// IsNewer reports whether candidate is strictly newer than current.
// Versions that do not parse are never newer.
func IsNewer(candidate, current string) bool {
	n, err := Compare(candidate, current)
	return err == nil && n > 0
}
