package validators

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSourceName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		sourceName  string
		want        string
		expectError string
	}{
		{name: "simple", sourceName: "parliament", want: "parliament"},
		{name: "underscore", sourceName: "chinese_news", want: "chinese_news"},
		{name: "hyphen and digits", sourceName: "global-affairs2", want: "global-affairs2"},
		{name: "trimmed", sourceName: "  mfa ", want: "mfa"},
		{name: "empty", sourceName: "   ", expectError: "cannot be empty"},
		{name: "traversal", sourceName: "../escape", expectError: "must match"},
		{name: "uppercase", sourceName: "News", expectError: "must match"},
		{name: "leading underscore", sourceName: "_hidden", expectError: "must match"},
		{name: "too long", sourceName: strings.Repeat("a", 65), expectError: "at most 64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateSourceName(tt.sourceName)
			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
