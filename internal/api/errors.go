// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
	"time"
)

// Error variables for terminal client failures. Terminal errors are never
// retried; retry policy lives with the caller and keys off IsRetryable.
var (
	// ErrNoCredential indicates no API key could be retrieved from the
	// credential store.
	ErrNoCredential = errors.New("API key not configured")

	// ErrInvalidEndpoint indicates the configured base URL cannot be used
	// to build a request.
	ErrInvalidEndpoint = errors.New("invalid API endpoint")

	// ErrInvalidResponse indicates a well-formed HTTP response without a
	// usable completion choice.
	ErrInvalidResponse = errors.New("response contained no completion choice")

	// ErrUnauthorized indicates the API key was rejected (HTTP 401).
	ErrUnauthorized = errors.New("authentication failed")
)

// RateLimitError is returned on HTTP 429. RetryAfter is zero when the
// server did not send a parseable Retry-After header.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// ServerError is returned for 5xx responses and any unmapped non-2xx status.
type ServerError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server error (HTTP %d)", e.Status)
}

// NetworkError wraps transport-level failures (DNS, reset, timeout).
type NetworkError struct {
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DecodingError wraps a malformed response body.
type DecodingError struct {
	Err error
}

// Error implements the error interface.
func (e *DecodingError) Error() string {
	return fmt.Sprintf("failed to decode response: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodingError) Unwrap() error {
	return e.Err
}

// StreamingError reports a failure inside an established stream.
type StreamingError struct {
	Message string
}

// Error implements the error interface.
func (e *StreamingError) Error() string {
	return "streaming error: " + e.Message
}

// IsRetryable classifies an error for caller retry policy.
// Retryable: rate limits, server errors, network failures. Everything else
// (missing credential, auth rejection, malformed responses, cancellation)
// is terminal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}

	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return true
	}

	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// UserMessage renders an error as a short plain-language notification.
// Never includes the credential or raw response bodies.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredential):
		return "No API key configured. Add one in settings."
	case errors.Is(err, ErrUnauthorized):
		return "API key was rejected. Check it in settings."
	case errors.Is(err, ErrInvalidEndpoint):
		return "The API endpoint is misconfigured."
	case errors.Is(err, ErrInvalidResponse):
		return "The service returned an unexpected response."
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		if rateErr.RetryAfter > 0 {
			return fmt.Sprintf("Rate limit exceeded, retry in %d seconds.", int(rateErr.RetryAfter.Seconds()))
		}
		return "Rate limit exceeded. Try again shortly."
	}

	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return fmt.Sprintf("The service reported an error (HTTP %d).", srvErr.Status)
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "Could not reach the service. Check your connection."
	}

	var decErr *DecodingError
	if errors.As(err, &decErr) {
		return "The service response could not be read."
	}

	return "Request failed: " + err.Error()
}
