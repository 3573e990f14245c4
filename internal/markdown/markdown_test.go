// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package markdown

import (
	"strings"
	"testing"
)

func TestSplitBlocksProseOnly(t *testing.T) {
	blocks := SplitBlocks("hello there\nsecond line")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Kind != KindProse {
		t.Error("expected prose block")
	}
	if blocks[0].Text != "hello there\nsecond line" {
		t.Errorf("text = %q", blocks[0].Text)
	}
}

func TestSplitBlocksMixed(t *testing.T) {
	text := "Here is an example:\n```go\nfmt.Println(\"hi\")\n```\nThat's it."
	blocks := SplitBlocks(text)
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d: %+v", len(blocks), blocks)
	}
	if blocks[0].Kind != KindProse || blocks[0].Text != "Here is an example:" {
		t.Errorf("block 0 = %+v", blocks[0])
	}
	if blocks[1].Kind != KindCode || blocks[1].Language != "go" {
		t.Errorf("block 1 = %+v", blocks[1])
	}
	if blocks[1].Text != "fmt.Println(\"hi\")" {
		t.Errorf("code text = %q", blocks[1].Text)
	}
	if blocks[2].Kind != KindProse || blocks[2].Text != "That's it." {
		t.Errorf("block 2 = %+v", blocks[2])
	}
}

// An unclosed fence mid-stream still yields a code block.
func TestSplitBlocksUnclosedFence(t *testing.T) {
	text := "Starting:\n```python\nprint(\"partial"
	blocks := SplitBlocks(text)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	last := blocks[len(blocks)-1]
	if last.Kind != KindCode || last.Language != "python" {
		t.Errorf("last block = %+v", last)
	}
	if last.Text != "print(\"partial" {
		t.Errorf("code text = %q", last.Text)
	}
}

func TestSplitBlocksEmpty(t *testing.T) {
	if blocks := SplitBlocks(""); len(blocks) != 0 {
		t.Errorf("expected no blocks, got %+v", blocks)
	}
	if blocks := SplitBlocks("   \n  "); len(blocks) != 0 {
		t.Errorf("expected no blocks for whitespace, got %+v", blocks)
	}
}

func TestHighlightKeepsContent(t *testing.T) {
	code := "func main() {\n\tfmt.Println(\"hi\")\n}"
	out := Highlight(code, "go")
	if out == "" {
		t.Fatal("highlight returned nothing")
	}
	// Content must survive highlighting (modulo escape codes).
	if !strings.Contains(stripANSI(out), "Println") {
		t.Errorf("highlighted output lost content: %q", out)
	}
}

func TestHighlightUnknownLanguage(t *testing.T) {
	out := Highlight("some opaque text", "nosuchlang")
	if !strings.Contains(stripANSI(out), "some opaque text") {
		t.Errorf("output lost content: %q", out)
	}
}

func TestRendererRoundTrip(t *testing.T) {
	r := NewRenderer(80, "dark")
	out := r.Render("Hello **world**\n```go\nx := 1\n```")
	plain := stripANSI(out)
	if !strings.Contains(plain, "world") {
		t.Errorf("prose lost: %q", plain)
	}
	if !strings.Contains(plain, "x := 1") {
		t.Errorf("code lost: %q", plain)
	}
}

func TestRendererSetWidth(t *testing.T) {
	r := NewRenderer(80, "dark")
	r.SetWidth(40)
	if out := r.Render("just some text"); !strings.Contains(stripANSI(out), "just some text") {
		t.Errorf("render after resize lost content: %q", out)
	}
}

// stripANSI removes terminal escape sequences for content assertions.
func stripANSI(s string) string {
	var out strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}
