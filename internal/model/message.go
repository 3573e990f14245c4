// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxContentRunes bounds message content length. Content beyond the ceiling
// is truncated rather than rejected so a runaway stream degrades instead of
// failing the whole turn.
const MaxContentRunes = 100_000

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a session.
//
// Identity fields (ID, Role, SessionID, CreatedAt) are immutable after
// creation. Content is mutable only while the message is the most recent one
// in its session and not yet sealed; sealing happens when the stream that
// produced it ends, or implicitly when a newer message is appended.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`

	Content string `json:"content"`

	// Sealed marks the end of incremental mutation. Not persisted: a loaded
	// message is by definition no longer streaming.
	Sealed bool `json:"-"`
}

// NewMessage creates a message with a generated ID.
func NewMessage(role Role, sessionID, content string) *Message {
	return &Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      role,
		SessionID: sessionID,
		CreatedAt: time.Now(),
		Content:   clampContent(content),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(sessionID, content string) *Message {
	return NewMessage(RoleUser, sessionID, content)
}

// NewAssistantPlaceholder creates an empty assistant message to stream into.
func NewAssistantPlaceholder(sessionID string) *Message {
	return NewMessage(RoleAssistant, sessionID, "")
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(sessionID, content string) *Message {
	return NewMessage(RoleSystem, sessionID, content)
}

// SetContent replaces the message content, enforcing the content ceiling.
// No-ops on a sealed message.
func (m *Message) SetContent(content string) {
	if m.Sealed {
		return
	}
	m.Content = clampContent(content)
}

// Seal freezes the message content. Further SetContent calls are dropped.
func (m *Message) Seal() {
	m.Sealed = true
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// clampContent truncates content to the configured rune ceiling.
func clampContent(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxContentRunes {
		return s
	}
	return string(runes[:MaxContentRunes])
}
