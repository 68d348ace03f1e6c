package secrets

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildScopePath(t *testing.T) {
	tests := []struct {
		scope Scope
		want  string
	}{
		{"build", "build"},
		{"did:plc:foo/repo", "did_plc_foo_repo"},
		{"release.yml", "release_yml"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, buildScopePath(tt.scope))
	}

	assert.Equal(t, "did_plc_foo_repo/TOKEN", buildSecretPath("did:plc:foo/repo", "TOKEN"))
}

func TestDecodeSecret(t *testing.T) {
	s := decodeSecret("build", "TOKEN", map[string]any{
		"value":      "abc",
		"created_by": "alice",
		"created_at": "2025-01-02T03:04:05Z",
	})

	assert.Equal(t, "TOKEN", s.Key)
	assert.Equal(t, "abc", s.Value)
	assert.Equal(t, "alice", s.CreatedBy)
	assert.Equal(t, Scope("build"), s.Scope)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), s.CreatedAt)

	// missing fields decode to zero values
	s = decodeSecret("build", "OTHER", map[string]any{"created_at": 12})
	assert.Equal(t, "OTHER", s.Key)
	assert.Empty(t, s.Value)
	assert.True(t, s.CreatedAt.IsZero())
}

func TestNewVaultManagerValidation(t *testing.T) {
	logger := slog.Default()

	_, err := NewVaultManager("", "role", "secret", logger)
	assert.Error(t, err)

	_, err = NewVaultManager("http://127.0.0.1:8200", "", "secret", logger)
	assert.Error(t, err)

	_, err = NewVaultManager("http://127.0.0.1:8200", "role", "", logger)
	assert.Error(t, err)
}
