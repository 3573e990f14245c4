// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxLineSize caps a single stream line (64KB).
const MaxLineSize = 64 * 1024

// streamSentinel is the literal end-of-stream marker payload.
const streamSentinel = "[DONE]"

// dataPrefix marks event lines carrying a payload; all other lines are
// ignored per the endpoint contract.
const dataPrefix = "data: "

// streamChunk is the wire format of one incremental delta.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// content returns the first choice's delta content, if any.
func (c *streamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// ChunkHandler receives each content fragment, in arrival order, before the
// next line is read from the transport.
type ChunkHandler func(fragment string)

// CompleteStream performs a streaming chat completion.
//
// onChunk is invoked synchronously for every content fragment; the final
// return value is the full accumulated text, trimmed. A stream that closes
// without the end-of-stream sentinel still returns the accumulated text as
// success - the upstream service is permissive about truncated streams.
// Malformed individual lines are skipped; one corrupt chunk never aborts an
// otherwise-good stream.
func (c *Client) CompleteStream(ctx context.Context, messages []ChatMessage, opts Options, onChunk ChunkHandler) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: empty message list", ErrInvalidResponse)
	}

	key, ok := c.creds.Get()
	if !ok || key == "" {
		return "", ErrNoCredential
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return "", &DecodingError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	c.setHeaders(req, key)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	c.logRequest(req)
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := readBounded(resp.Body)
		return "", mapStatusError(resp.StatusCode, resp.Header, respBody)
	}

	return c.readStream(ctx, resp.Body, onChunk)
}

// readStream consumes the event stream line by line. One suspension point
// per received line; fragments are delivered to onChunk in arrival order
// before the next line is read.
func (c *Client) readStream(ctx context.Context, body io.Reader, onChunk ChunkHandler) (string, error) {
	var accumulated strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return strings.TrimSpace(accumulated.String()), ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))

		if payload == streamSentinel {
			return strings.TrimSpace(accumulated.String()), nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Skip malformed lines.
			continue
		}

		if fragment := chunk.content(); fragment != "" {
			accumulated.WriteString(fragment)
			if onChunk != nil {
				onChunk(fragment)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return strings.TrimSpace(accumulated.String()), err
		}
		return strings.TrimSpace(accumulated.String()), &NetworkError{Err: err}
	}

	// Body closed without the sentinel: lenient success with whatever
	// arrived.
	return strings.TrimSpace(accumulated.String()), nil
}
