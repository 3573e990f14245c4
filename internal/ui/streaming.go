// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui implements the terminal interface.
//
// This file implements render throttling for streaming replies. Store
// events arrive per chunk, which can be hundreds per second; re-rendering
// the transcript on each one causes flicker and wasted CPU. The throttle
// coalesces dirty notifications into renders at a capped frame rate.
package ui

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// RENDER THROTTLE
// =============================================================================

// RenderThrottle coalesces chunk-level updates into frame-rate renders.
//
// Thread-safety: MarkDirty is called from the store's observer goroutine
// while ShouldRender runs in the Bubble Tea loop, so state is mutex-guarded.
type RenderThrottle struct {
	mu       sync.Mutex
	dirty    bool
	last     time.Time
	interval time.Duration
}

// NewRenderThrottle creates a throttle capped at maxFPS frames per second.
func NewRenderThrottle(maxFPS int) *RenderThrottle {
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = 30
	}
	return &RenderThrottle{
		interval: time.Duration(1000/maxFPS) * time.Millisecond,
		last:     time.Now(),
	}
}

// MarkDirty records that content changed since the last render.
func (r *RenderThrottle) MarkDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// ShouldRender reports whether a render is due, and claims it if so.
func (r *RenderThrottle) ShouldRender() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty || time.Since(r.last) < r.interval {
		return false
	}
	r.dirty = false
	r.last = time.Now()
	return true
}

// Force claims a render unconditionally if anything is dirty. Used when a
// stream finishes so the final state is never left behind a frame cap.
func (r *RenderThrottle) Force() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.dirty {
		return false
	}
	r.dirty = false
	r.last = time.Now()
	return true
}

// renderTickMsg drives throttled renders while a reply streams.
type renderTickMsg struct {
	Time time.Time
}

// renderTickCmd emits renderTickMsg at roughly 30fps.
func renderTickCmd() tea.Cmd {
	return tea.Tick(33*time.Millisecond, func(t time.Time) tea.Msg {
		return renderTickMsg{Time: t}
	})
}
