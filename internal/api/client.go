// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the chat-completion client.
//
// The client targets exactly one endpoint contract: POST {base}/chat/completions
// with role/content messages, returning either a single JSON body or an SSE
// style stream of "data: {json}" lines terminated by "data: [DONE]". GET
// {base}/models serves as the key-validation probe.
//
// The client holds no state across calls beyond its configuration; the
// credential is fetched from the injected store on every request.
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Configuration constants for the completion API.
const (
	// DefaultBaseURL is the base URL for the completion API.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// KeyTestTimeout bounds the key-validation probe.
	KeyTestTimeout = 10 * time.Second

	// MaxResponseSize caps non-streaming response bodies.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB

	userAgent = "traychat/0.1.0"
)

// CredentialSource is the client's read-only view of the credential gateway.
// The full gateway (set/delete) belongs to the settings layer.
type CredentialSource interface {
	// Get returns the stored API key, or ok=false when none is stored.
	Get() (secret string, ok bool)
}

// ChatMessage represents a single message in a completion request.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", or "system"
	Content string `json:"content"`
}

// Options holds per-request generation parameters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int // 0 = omit
}

// chatRequest is the wire format for the completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// chatResponse is the wire format of a non-streaming completion.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// apiErrorResponse is the error envelope some failures carry.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a client for the chat-completion API.
//
// It never retries internally; it maps each outcome to the typed errors in
// errors.go and lets the caller decide based on IsRetryable.
type Client struct {
	baseURL      string
	creds        CredentialSource
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
}

// NewClient creates a client reading its API key from creds.
func NewClient(creds CredentialSource) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	return &Client{
		baseURL: DefaultBaseURL,
		creds:   creds,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   DefaultTimeout,
		},
		// No timeout for streaming - controlled via context.
		streamClient: &http.Client{
			Transport: transport,
		},
		// Pace outbound requests; interactive use never hits this.
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 4),
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimSuffix(strings.TrimSpace(url), "/")
	return c
}

// WithTimeout sets the non-streaming request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithLimiter replaces the outbound request pacer.
func (c *Client) WithLimiter(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// KeyFingerprint returns a loggable fingerprint of the stored key.
// SECURITY: Never exposes key fragments - SHA-256 prefix only.
func (c *Client) KeyFingerprint() string {
	key, ok := c.creds.Get()
	if !ok || key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}

// Complete performs a non-streaming chat completion and returns the first
// choice's content, trimmed.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, opts Options) (string, error) {
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
	})
	if err != nil {
		return "", &DecodingError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	c.setHeaders(req, key)

	c.logRequest(req)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	respBody, err := readBounded(resp.Body)
	if err != nil {
		return "", &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", mapStatusError(resp.StatusCode, resp.Header, respBody)
	}

	var decoded chatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", &DecodingError{Err: err}
	}
	if len(decoded.Choices) == 0 {
		return "", ErrInvalidResponse
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}

// TestCredential probes the models endpoint with a candidate key.
// Returns true on 2xx, false on 401. Other non-2xx statuses surface as
// ServerError; transport failures as NetworkError.
func (c *Client) TestCredential(ctx context.Context, candidate string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, KeyTestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	c.setHeaders(req, candidate)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return false, nil
	default:
		return false, &ServerError{Status: resp.StatusCode}
	}
}

// setHeaders sets the required headers for API requests.
func (c *Client) setHeaders(req *http.Request, key string) {
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// logRequest logs an API request without exposing sensitive data.
// Never logs headers (auth) or bodies (conversation content).
func (c *Client) logRequest(req *http.Request) {
	log.Printf("api: %s %s", req.Method, req.URL.Path)
}

// logResponse logs status and duration only.
func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("api: %d (%v)", resp.StatusCode, duration)
}

// readBounded reads a response body with a size cap.
func readBounded(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseSize))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded %d bytes", MaxResponseSize)
	}
	return body, nil
}

// mapStatusError converts a non-2xx response into the error taxonomy:
// 401 -> ErrUnauthorized, 429 -> RateLimitError (with Retry-After when
// parseable), everything else -> ServerError carrying the status.
func mapStatusError(status int, header http.Header, body []byte) error {
	message := ""
	var envelope apiErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil {
		message = envelope.Error.Message
	}

	switch status {
	case http.StatusUnauthorized:
		if message != "" {
			return fmt.Errorf("%w: %s", ErrUnauthorized, message)
		}
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(header.Get("Retry-After"))}
	default:
		return &ServerError{Status: status, Message: message}
	}
}

// parseRetryAfter parses a Retry-After header as seconds or an HTTP date.
// Returns zero when absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
