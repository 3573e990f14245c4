// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/traychat/traychat/internal/util"
)

// TitleMaxRunes is the display-title length bound, ellipsis included.
const TitleMaxRunes = 50

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is one logical conversation. Sessions hold only metadata; their
// messages are kept and persisted separately, keyed by session ID.
type Session struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// NewSession creates a session titled from the seed text (normally the first
// user message of the conversation).
func NewSession(seedText string) *Session {
	now := time.Now()
	return &Session{
		ID:            "sess_" + uuid.NewString(),
		Title:         TitleFromSeed(seedText),
		CreatedAt:     now,
		LastMessageAt: now,
	}
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch(at time.Time) {
	s.LastMessageAt = at
}

// TitleFromSeed derives a session title: first line of the seed, truncated
// at a word boundary to TitleMaxRunes with an ellipsis marker.
func TitleFromSeed(seed string) string {
	title := util.TruncateAtWord(seed, TitleMaxRunes)
	if title == "" {
		return "New conversation"
	}
	return title
}
