// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// streamServer serves the given lines as a newline-delimited event stream.
func streamServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
	}))
}

func deltaLine(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`, content)
}

// TestCompleteStreamOrder verifies fragments arrive in order and the final
// text is their concatenation.
func TestCompleteStreamOrder(t *testing.T) {
	server := streamServer(t, []string{
		deltaLine("Hel"),
		deltaLine("lo"),
		deltaLine(" world"),
		"data: [DONE]",
	})
	defer server.Close()

	client := newTestClient(server.URL)
	var fragments []string
	got, err := client.CompleteStream(context.Background(), testMessages(), Options{Model: "m"}, func(fragment string) {
		fragments = append(fragments, fragment)
	})
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	if got != "Hello world" {
		t.Errorf("accumulated = %q, expected %q", got, "Hello world")
	}
	if len(fragments) != 3 || fragments[0] != "Hel" || fragments[1] != "lo" || fragments[2] != " world" {
		t.Errorf("fragments = %v", fragments)
	}
}

// TestCompleteStreamSkipsMalformed verifies one corrupt line doesn't abort
// the stream.
func TestCompleteStreamSkipsMalformed(t *testing.T) {
	server := streamServer(t, []string{
		deltaLine("Hello"),
		"data: {corrupt json!!",
		deltaLine(" world"),
		"data: [DONE]",
	})
	defer server.Close()

	client := newTestClient(server.URL)
	got, err := client.CompleteStream(context.Background(), testMessages(), Options{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	if got != "Hello world" {
		t.Errorf("accumulated = %q, expected malformed line skipped", got)
	}
}

// TestCompleteStreamIgnoresNonDataLines verifies comment/event lines are
// passed over silently.
func TestCompleteStreamIgnoresNonDataLines(t *testing.T) {
	server := streamServer(t, []string{
		": keep-alive",
		"event: message",
		deltaLine("Hi"),
		"",
		"data: [DONE]",
	})
	defer server.Close()

	client := newTestClient(server.URL)
	got, err := client.CompleteStream(context.Background(), testMessages(), Options{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	if got != "Hi" {
		t.Errorf("accumulated = %q, expected %q", got, "Hi")
	}
}

// TestCompleteStreamEOFWithoutSentinel verifies a stream that closes without
// the end marker still succeeds with the accumulated text.
func TestCompleteStreamEOFWithoutSentinel(t *testing.T) {
	server := streamServer(t, []string{
		deltaLine("partial "),
		deltaLine("answer"),
		// No [DONE]; connection just closes.
	})
	defer server.Close()

	client := newTestClient(server.URL)
	got, err := client.CompleteStream(context.Background(), testMessages(), Options{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("expected lenient success, got %v", err)
	}
	if got != "partial answer" {
		t.Errorf("accumulated = %q", got)
	}
}

// TestCompleteStreamTrailingWhitespace verifies only the final text is
// trimmed, never the individual fragments.
func TestCompleteStreamTrailingWhitespace(t *testing.T) {
	server := streamServer(t, []string{
		deltaLine("  Hello"),
		deltaLine(" there  "),
		"data: [DONE]",
	})
	defer server.Close()

	client := newTestClient(server.URL)
	var fragments []string
	got, err := client.CompleteStream(context.Background(), testMessages(), Options{Model: "m"}, func(fragment string) {
		fragments = append(fragments, fragment)
	})
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	if got != "Hello there" {
		t.Errorf("accumulated = %q, expected trimmed", got)
	}
	if fragments[0] != "  Hello" || fragments[1] != " there  " {
		t.Errorf("fragments were trimmed: %v", fragments)
	}
}

// TestCompleteStreamStatusError verifies a non-2xx streaming response maps
// through the same error taxonomy as non-streaming calls.
func TestCompleteStreamStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CompleteStream(context.Background(), testMessages(), Options{Model: "m"}, nil)

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Errorf("expected RateLimitError, got %v", err)
	}
}

// TestCompleteStreamCancellation verifies cancellation mid-stream surfaces
// context.Canceled and stops fragment delivery.
func TestCompleteStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "%s\n", deltaLine("first"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(server.URL)

	count := 0
	_, err := client.CompleteStream(ctx, testMessages(), Options{Model: "m"}, func(fragment string) {
		count++
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if count != 1 {
		t.Errorf("fragments after cancel = %d, expected 1", count)
	}
}

// TestCompleteStreamNoCredential verifies the precondition check fires
// before any request is made.
func TestCompleteStreamNoCredential(t *testing.T) {
	client := NewClient(staticCreds(""))

	_, err := client.CompleteStream(context.Background(), testMessages(), Options{Model: "m"}, nil)
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
}

// TestCompleteStreamLongFragment verifies lines near the size cap survive.
func TestCompleteStreamLongFragment(t *testing.T) {
	long := strings.Repeat("a", 16*1024)
	server := streamServer(t, []string{
		deltaLine(long),
		"data: [DONE]",
	})
	defer server.Close()

	client := newTestClient(server.URL)
	got, err := client.CompleteStream(context.Background(), testMessages(), Options{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("CompleteStream failed: %v", err)
	}
	if got != long {
		t.Errorf("long fragment mangled: len=%d, expected %d", len(got), len(long))
	}
}
