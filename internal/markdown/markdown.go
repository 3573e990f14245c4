// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package markdown renders assistant replies for terminal display.
//
// Replies are split into prose and fenced code blocks. Prose goes through
// glamour; code blocks get chroma syntax highlighting. Splitting happens
// here rather than in glamour so a streaming reply with an unclosed fence
// still renders sensibly.
package markdown

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
)

// BlockKind distinguishes prose from code.
type BlockKind int

// Block kinds.
const (
	KindProse BlockKind = iota
	KindCode
)

// Block is one segment of a reply.
type Block struct {
	Kind     BlockKind
	Language string // set for code blocks when the fence names one
	Text     string
}

// SplitBlocks splits text into prose and fenced code blocks. An unclosed
// fence at the end of the text (mid-stream) yields a code block with
// whatever has arrived.
func SplitBlocks(text string) []Block {
	var blocks []Block
	var current []string
	var language string
	inCode := false

	flush := func(kind BlockKind, lang string) {
		joined := strings.Join(current, "\n")
		if strings.TrimSpace(joined) != "" {
			blocks = append(blocks, Block{Kind: kind, Language: lang, Text: joined})
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "```") {
			if inCode {
				flush(KindCode, language)
				language = ""
				inCode = false
			} else {
				flush(KindProse, "")
				language = strings.TrimSpace(strings.TrimPrefix(line, "```"))
				inCode = true
			}
			continue
		}
		current = append(current, line)
	}

	if inCode {
		flush(KindCode, language)
	} else {
		flush(KindProse, "")
	}
	return blocks
}

// =============================================================================
// RENDERER
// =============================================================================

// Renderer renders reply text for a terminal of a given width.
type Renderer struct {
	width   int
	theme   string
	glamour *glamour.TermRenderer
}

// NewRenderer creates a renderer. theme is "dark", "light", or "auto".
// A glamour initialization failure degrades to plain text rendering.
func NewRenderer(width int, theme string) *Renderer {
	r := &Renderer{width: width, theme: theme}
	r.glamour = newGlamour(width, theme)
	return r
}

func newGlamour(width int, theme string) *glamour.TermRenderer {
	style := glamour.WithStandardStyle(theme)
	if theme == "auto" {
		style = glamour.WithAutoStyle()
	}
	g, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil
	}
	return g
}

// SetWidth rebuilds the renderer for a new terminal width.
func (r *Renderer) SetWidth(width int) {
	if width == r.width {
		return
	}
	r.width = width
	r.glamour = newGlamour(width, r.theme)
}

// Render renders reply text: prose through glamour, code through chroma.
func (r *Renderer) Render(text string) string {
	var out strings.Builder
	for i, block := range SplitBlocks(text) {
		if i > 0 {
			out.WriteString("\n")
		}
		switch block.Kind {
		case KindCode:
			out.WriteString(Highlight(block.Text, block.Language))
		default:
			out.WriteString(r.renderProse(block.Text))
		}
	}
	return out.String()
}

func (r *Renderer) renderProse(text string) string {
	if r.glamour == nil {
		return text
	}
	rendered, err := r.glamour.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(rendered, "\n")
}

// =============================================================================
// SYNTAX HIGHLIGHTING
// =============================================================================

// Highlight applies ANSI syntax highlighting to code. Unknown languages are
// detected from content; highlighting failures return the code unchanged.
func Highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}
