// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package secrets

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "credentials", "api_key"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Get()
	assert.False(t, ok)
	assert.False(t, s.Has())

	require.NoError(t, s.Set("sk-test-abcdefghijklmnop"))
	got, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "sk-test-abcdefghijklmnop", got)
	assert.True(t, s.Has())
}

func TestFileStorePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions not meaningful on windows")
	}
	s := newTestStore(t)
	require.NoError(t, s.Set("sk-test-abcdefghijklmnop"))

	info, err := os.Stat(s.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreSetTrimsWhitespace(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set("  sk-test-abcdefghijklmnop\n"))

	got, ok := s.Get()
	assert.True(t, ok)
	assert.Equal(t, "sk-test-abcdefghijklmnop", got)
}

func TestFileStoreRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.Set("   "))
	assert.False(t, s.Has())
}

func TestFileStoreDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set("sk-test-abcdefghijklmnop"))
	require.NoError(t, s.Delete())
	assert.False(t, s.Has())

	// Deleting again is fine.
	assert.NoError(t, s.Delete())
}

func TestLooksLikeKey(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"typical key", "sk-proj-abcdefghijklmnopqrstuvwxyz012345", true},
		{"padded key", "  sk-proj-abcdefghijklmnopqrstuvwxyz  ", true},
		{"empty", "", false},
		{"too short", "sk-abc", false},
		{"sentence pasted by accident", "please paste your api key here thanks", false},
		{"embedded newline", "sk-abcdefghij\nklmnopqrstuvwxyz", false},
		{"non-ascii", "sk-ключключключключключ", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LooksLikeKey(tc.candidate))
		})
	}
}

func TestMasked(t *testing.T) {
	assert.Equal(t, "not set", Masked(""))

	m := Masked("sk-test-abcdefghijklmnop")
	assert.True(t, strings.HasPrefix(m, "sk-****"))
	assert.NotContains(t, m, "abcdef")
	assert.Len(t, m, len("sk-****")+8)

	// Deterministic per secret, distinct across secrets.
	assert.Equal(t, m, Masked("sk-test-abcdefghijklmnop"))
	assert.NotEqual(t, m, Masked("sk-test-something-else-entirely"))
}
