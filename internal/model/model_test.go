// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

// TestNewMessage verifies identity fields are populated.
func TestNewMessage(t *testing.T) {
	msg := NewUserMessage("sess_abc", "hello")

	if msg.ID == "" || !strings.HasPrefix(msg.ID, "msg_") {
		t.Errorf("unexpected message ID %q", msg.ID)
	}
	if msg.Role != RoleUser {
		t.Errorf("role = %q, expected user", msg.Role)
	}
	if msg.SessionID != "sess_abc" {
		t.Errorf("session id = %q", msg.SessionID)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if msg.Content != "hello" {
		t.Errorf("content = %q", msg.Content)
	}
}

// TestMessageIDsUnique verifies generated IDs don't collide.
func TestMessageIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		msg := NewAssistantPlaceholder("sess_x")
		if seen[msg.ID] {
			t.Fatalf("duplicate message ID %q", msg.ID)
		}
		seen[msg.ID] = true
	}
}

// TestSetContentSealed verifies a sealed message drops further mutation.
func TestSetContentSealed(t *testing.T) {
	msg := NewAssistantPlaceholder("sess_x")
	msg.SetContent("partial")
	msg.Seal()
	msg.SetContent("after seal")

	if msg.Content != "partial" {
		t.Errorf("content = %q, expected mutation dropped after Seal", msg.Content)
	}
}

// TestContentCeiling verifies pathological content is truncated, not kept.
func TestContentCeiling(t *testing.T) {
	huge := strings.Repeat("x", MaxContentRunes+500)
	msg := NewUserMessage("sess_x", huge)

	if got := len([]rune(msg.Content)); got != MaxContentRunes {
		t.Errorf("content length = %d, expected %d", got, MaxContentRunes)
	}

	msg2 := NewAssistantPlaceholder("sess_x")
	msg2.SetContent(huge)
	if got := len([]rune(msg2.Content)); got != MaxContentRunes {
		t.Errorf("SetContent length = %d, expected %d", got, MaxContentRunes)
	}
}

// TestRoleValid verifies role validation.
func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !r.Valid() {
			t.Errorf("Role %q should be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Error("unknown role should be invalid")
	}
}

// TestTitleFromSeed verifies the word-boundary truncation rule.
func TestTitleFromSeed(t *testing.T) {
	tests := []struct {
		name     string
		seed     string
		expected string
	}{
		{"short seed unchanged", "hello there", "hello there"},
		{"empty seed gets default", "", "New conversation"},
		{"whitespace seed gets default", "   \n  ", "New conversation"},
		{
			"long seed truncated at word boundary",
			"Explain quantum computing in depth please " + strings.Repeat("z", 60),
			"Explain quantum computing in depth please...",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := TitleFromSeed(tc.seed)
			if got != tc.expected {
				t.Errorf("TitleFromSeed(%q) = %q, expected %q", tc.seed, got, tc.expected)
			}
			if len([]rune(got)) > TitleMaxRunes {
				t.Errorf("title %q exceeds %d runes", got, TitleMaxRunes)
			}
		})
	}
}

// TestNewSessionTimestamps verifies session timestamps start equal.
func TestNewSessionTimestamps(t *testing.T) {
	s := NewSession("first message")
	if !strings.HasPrefix(s.ID, "sess_") {
		t.Errorf("unexpected session ID %q", s.ID)
	}
	if !s.LastMessageAt.Equal(s.CreatedAt) {
		t.Error("LastMessageAt should equal CreatedAt for a fresh session")
	}
}
