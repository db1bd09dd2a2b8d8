// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package security_test

import (
	"strings"
	"testing"

	"github.com/crucible-dev/crucible/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		tool    string
		want    bool
	}{
		{"exact flat name", "read", "read", true},
		{"mismatched flat name", "read", "write", false},
		{"in-segment glob", "exec*", "exec_command", true},
		{"in-segment glob no match", "exec*", "shell", false},
		{"segment wildcard", "mcp.*", "mcp.github.create_issue", true},
		{"segment wildcard single", "mcp.*", "mcp.github", true},
		{"segment wildcard needs one segment", "mcp.*", "mcp", false},
		{"middle wildcard", "mcp.*.read", "mcp.github.read", true},
		{"empty pattern", "", "read", false},
		{"empty name", "read", "", false},
		{"leading dot rejected", ".read", ".read", false},
		{"consecutive dots rejected", "a..b", "a..b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := security.MatchPattern(tt.pattern, tt.tool)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchPattern_SegmentLimit(t *testing.T) {
	long := strings.Repeat("a.", 33) + "a"

	_, err := security.MatchPattern(long, "a")
	require.Error(t, err)

	_, err = security.MatchPattern("a", long)
	require.Error(t, err)
}

func TestPatternSet_Contains(t *testing.T) {
	set := security.NewPatternSet("read", "mcp.*", "exec*")

	assert.True(t, set.Contains("read"))
	assert.True(t, set.Contains("mcp.github.search"))
	assert.True(t, set.Contains("exec_command"))
	assert.False(t, set.Contains("write"))

	assert.True(t, security.NewPatternSet().Empty())
	assert.False(t, set.Empty())
}
