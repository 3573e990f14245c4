// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/traychat/traychat/internal/api"
	"github.com/traychat/traychat/internal/chat"
	"github.com/traychat/traychat/internal/config"
	"github.com/traychat/traychat/internal/markdown"
	"github.com/traychat/traychat/internal/store"
)

const inputHeight = 3

// =============================================================================
// MESSAGES
// =============================================================================

// storeEventMsg carries a store notification into the Bubble Tea loop.
type storeEventMsg store.Event

// turnDoneMsg reports a finished conversation turn.
type turnDoneMsg struct {
	err error
}

// ConfigReloadedMsg delivers a hot-reloaded configuration into the loop.
// Sent by the entrypoint's config watcher via Program.Send.
type ConfigReloadedMsg struct {
	Config *config.Config
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the root Bubble Tea model.
type Model struct {
	cfg     *config.Config
	ctrl    *chat.Controller
	history *store.Store

	input    textarea.Model
	vp       viewport.Model
	spin     spinner.Model
	renderer *markdown.Renderer
	throttle *RenderThrottle

	events chan store.Event

	width  int
	height int
	ready  bool

	streaming bool
	status    string
}

// New creates the root model. The store subscription feeds a buffered
// channel; if the UI falls behind, dropped events are fine because every
// refresh re-reads full store state.
func New(cfg *config.Config, ctrl *chat.Controller, history *store.Store) *Model {
	input := textarea.New()
	input.Placeholder = "Ask anything..."
	input.ShowLineNumbers = false
	input.SetHeight(inputHeight)
	input.CharLimit = 0
	input.Focus()

	spin := spinner.New(spinner.WithSpinner(spinner.Dot))

	m := &Model{
		cfg:      cfg,
		ctrl:     ctrl,
		history:  history,
		input:    input,
		spin:     spin,
		renderer: markdown.NewRenderer(80, cfg.UI.Theme),
		throttle: NewRenderThrottle(30),
		events:   make(chan store.Event, 64),
	}

	history.Subscribe(func(e store.Event) {
		select {
		case m.events <- e:
		default:
		}
	})

	return m
}

// UpdateConfig applies a hot-reloaded configuration.
func (m *Model) UpdateConfig(cfg *config.Config) {
	themeChanged := m.cfg.UI.Theme != cfg.UI.Theme
	m.cfg = cfg
	m.ctrl.UpdateConfig(cfg)

	if themeChanged {
		width := m.width - 2
		if width < 20 {
			width = 80
		}
		m.renderer = markdown.NewRenderer(width, cfg.UI.Theme)
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForEvent())
}

func (m *Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return storeEventMsg(<-m.events)
	}
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refreshTranscript()

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case storeEventMsg:
		m.throttle.MarkDirty()
		if !m.streaming && m.throttle.Force() {
			m.refreshTranscript()
		}
		cmds = append(cmds, m.waitForEvent())

	case renderTickMsg:
		if m.throttle.ShouldRender() {
			m.refreshTranscript()
		}
		if m.streaming {
			cmds = append(cmds, renderTickCmd())
		}

	case ConfigReloadedMsg:
		m.UpdateConfig(msg.Config)
		m.refreshTranscript()

	case turnDoneMsg:
		m.streaming = false
		m.throttle.Force()
		m.refreshTranscript()
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.status = api.UserMessage(msg.err)
		}

	case spinner.TickMsg:
		if m.streaming {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleKey processes global key bindings; returns handled=false for keys
// that should fall through to the input and viewport.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		m.ctrl.Cancel()
		return tea.Quit, true

	case "esc":
		if m.streaming {
			m.ctrl.Cancel()
			return nil, true
		}
		return nil, false

	case "enter":
		return m.submit(), true

	case "ctrl+n":
		// New conversation; the next message opens a fresh session.
		if !m.streaming {
			m.history.Deactivate()
			m.status = ""
			m.refreshTranscript()
		}
		return nil, true

	case "ctrl+x":
		if !m.streaming {
			if err := m.history.ClearActiveSession(); err != nil {
				m.status = "Could not clear the conversation."
			}
			m.refreshTranscript()
		}
		return nil, true

	case "ctrl+o":
		if !m.streaming {
			m.switchToNextSession()
		}
		return nil, true
	}
	return nil, false
}

func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.ctrl.InFlight() {
		return nil
	}
	m.input.Reset()
	m.status = ""
	m.streaming = true

	send := func() tea.Msg {
		_, err := m.ctrl.Send(context.Background(), text)
		return turnDoneMsg{err: err}
	}
	return tea.Batch(send, m.spin.Tick, renderTickCmd())
}

// switchToNextSession cycles through sessions in recency order.
func (m *Model) switchToNextSession() {
	sessions := m.history.Sessions()
	if len(sessions) == 0 {
		return
	}
	active := m.history.ActiveSessionID()
	next := sessions[0].ID
	for i, sess := range sessions {
		if sess.ID == active {
			next = sessions[(i+1)%len(sessions)].ID
			break
		}
	}
	if err := m.history.SwitchSession(next); err == nil {
		m.status = ""
		m.refreshTranscript()
	}
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	contentWidth := width - 2
	if contentWidth < 20 {
		contentWidth = 20
	}
	m.renderer.SetWidth(contentWidth)
	m.input.SetWidth(width - 2)

	vpHeight := height - inputHeight - 4 // header, status, input chrome
	if vpHeight < 3 {
		vpHeight = 3
	}
	if !m.ready {
		m.vp = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.vp.Width = width
		m.vp.Height = vpHeight
	}
}

// refreshTranscript re-reads the active session and re-renders the viewport.
func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	m.vp.SetContent(m.renderTranscript())
	m.vp.GotoBottom()
}
