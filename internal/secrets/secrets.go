// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package secrets stores the API credential.
//
// The credential lives in a single file with owner-only permissions. It is
// handed out as a value and never logged; callers that need to show the user
// something display the masked form.
package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/traychat/traychat/internal/util"
)

// MinKeyLength is the shortest candidate LooksLikeKey will accept.
const MinKeyLength = 20

// ErrNotFound indicates no credential is stored.
var ErrNotFound = errors.New("no credential stored")

// Store is the credential gateway.
type Store interface {
	// Get returns the stored credential, or ok=false when none exists.
	Get() (secret string, ok bool)
	// Set stores or replaces the credential.
	Set(secret string) error
	// Delete removes the credential. Deleting a missing credential is
	// not an error.
	Delete() error
	// Has reports whether a credential is stored.
	Has() bool
}

// FileStore keeps the credential in a file with 0600 permissions.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Get implements Store.
func (f *FileStore) Get() (string, bool) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", false
	}
	secret := strings.TrimSpace(string(data))
	return secret, secret != ""
}

// Set implements Store.
// SECURITY: File is written atomically with owner-only permissions.
func (f *FileStore) Set(secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("credential is empty")
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}
	if err := util.AtomicWriteFile(f.path, []byte(secret), 0o600); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

// Delete implements Store.
func (f *FileStore) Delete() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Has implements Store.
func (f *FileStore) Has() bool {
	_, ok := f.Get()
	return ok
}

// LooksLikeKey is an advisory shape check for a candidate credential before
// it is sent to the probe endpoint. It catches obvious paste accidents
// (empty strings, sentences, truncated fragments), not forgeries.
func LooksLikeKey(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if len(candidate) < MinKeyLength {
		return false
	}
	if strings.ContainsAny(candidate, " \t\n\r") {
		return false
	}
	for _, r := range candidate {
		if r < '!' || r > '~' {
			return false
		}
	}
	return true
}

// Masked renders a secret for display: fingerprint only, no fragments.
// SECURITY: Never reveals any part of the credential itself.
func Masked(secret string) string {
	if secret == "" {
		return "not set"
	}
	h := sha256.Sum256([]byte(secret))
	return "sk-****" + hex.EncodeToString(h[:4])
}
