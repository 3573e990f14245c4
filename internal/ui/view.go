// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/traychat/traychat/internal/model"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57")).
			Padding(0, 1)

	headerInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("213"))

	userTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	inputFrameStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240"))
)

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	b.WriteString(inputFrameStyle.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	return b.String()
}

func (m *Model) renderHeader() string {
	title := "New conversation"
	if active, ok := m.history.ActiveSession(); ok {
		title = active.Title
	}
	// Truncate by display width so wide runes don't overflow the bar.
	maxTitle := m.width - 20
	if maxTitle < 10 {
		maxTitle = 10
	}
	title = runewidth.Truncate(title, maxTitle, "...")

	left := headerStyle.Render("traychat")
	right := headerInfoStyle.Render(" " + m.cfg.Chat.Model)
	return left + " " + title + right
}

func (m *Model) renderStatus() string {
	if m.status != "" {
		return errorStyle.Render(m.status)
	}
	if m.streaming {
		return statusStyle.Render(m.spin.View() + "thinking... (esc to stop)")
	}
	count := len(m.history.Sessions())
	parts := []string{"enter send", "ctrl+n new", "ctrl+o switch", "ctrl+x clear", "ctrl+c quit"}
	if count > 1 {
		parts = append(parts, strconv.Itoa(count)+" sessions")
	}
	return statusStyle.Render(strings.Join(parts, " · "))
}

// renderTranscript renders all messages of the active session.
func (m *Model) renderTranscript() string {
	active := m.history.ActiveSessionID()
	if active == "" {
		return statusStyle.Render("\n  Start a new conversation by typing below.\n")
	}

	msgs := m.history.Messages(active)
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderMessage(msg))
	}
	return b.String()
}

func (m *Model) renderMessage(msg *model.Message) string {
	switch msg.Role {
	case model.RoleUser:
		return userLabelStyle.Render("You") + "\n" + userTextStyle.Render(msg.Content)
	case model.RoleAssistant:
		body := msg.Content
		if body == "" {
			body = statusStyle.Render("...")
		} else if m.cfg.UI.RenderMarkdown {
			body = m.renderer.Render(body)
		}
		return assistantLabelStyle.Render("Assistant") + "\n" + body
	default:
		return statusStyle.Render(msg.Role.DisplayName()) + "\n" + msg.Content
	}
}
