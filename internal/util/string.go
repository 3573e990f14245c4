// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strings"

// UNICODE: Rune-aware truncation preserves multi-byte characters.
// All truncation here counts characters, not bytes, so UTF-8 strings are
// never cut mid-character.

// TruncateRunes truncates a string to a maximum number of runes.
// If the string is truncated, "..." is appended within the limit.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateAtWord truncates a string to at most maxRunes runes including the
// "..." marker, cutting at the last word boundary before the limit so a word
// is never split. Newlines are flattened to spaces first.
func TruncateAtWord(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}

	cut := maxRunes - 3
	head := runes[:cut]

	// Back off to the last space so the cut never lands mid-word. If the
	// text is one giant token, fall back to a hard cut.
	if idx := lastSpace(head); idx > 0 {
		head = head[:idx]
	}
	return strings.TrimRight(string(head), " ") + "..."
}

// lastSpace returns the index of the last space rune, or -1.
func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}

// RuneLen returns the number of runes in a string.
// Safer than len() for UTF-8 strings.
func RuneLen(s string) int {
	return len([]rune(s))
}
