// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// Error variables for provider failures. Callers branch on these with
// errors.Is; the wrapped ProviderError carries the HTTP detail.
var (
	// ErrNotConfigured indicates the provider has no usable credentials
	// or no model selected.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrAuthFailed indicates the backend rejected the credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the backend asked us to slow down.
	ErrRateLimited = errors.New("rate limited")

	// ErrMalformedRequest indicates the backend rejected the request shape
	// (bad model id, oversized payload, unsupported parameter).
	ErrMalformedRequest = errors.New("malformed request")

	// ErrTransport indicates a network or server-side failure before any
	// usable response was produced.
	ErrTransport = errors.New("transport error")

	// ErrDecodeFailed indicates a response arrived but could not be parsed.
	ErrDecodeFailed = errors.New("response decode failed")

	// ErrProviderNotFound indicates an unknown provider id.
	ErrProviderNotFound = errors.New("provider not found")

	// ErrBuiltinProvider indicates an operation valid only for custom
	// providers was attempted on a builtin one.
	ErrBuiltinProvider = errors.New("builtin providers cannot be deleted")
)

// ProviderError carries the HTTP detail of a classified backend failure.
type ProviderError struct {
	Kind    error  // one of the sentinel errors above
	Status  int    // HTTP status code, 0 for pre-response failures
	Message string // backend-supplied message, possibly empty
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%v (HTTP %d)", e.Kind, e.Status)
}

// Unwrap exposes the sentinel for errors.Is.
func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// apiErrorBody is the common error envelope shape; both the OpenAI and
// Anthropic families nest a message under "error".
type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// classifyStatus maps an HTTP status to a typed error before any body
// parse is attempted. The body, when parseable, only enriches the message.
func classifyStatus(status int, body []byte) error {
	kind := ErrTransport
	switch {
	case status == 401 || status == 403:
		kind = ErrAuthFailed
	case status == 429:
		kind = ErrRateLimited
	case status >= 400 && status < 500:
		kind = ErrMalformedRequest
	}

	perr := &ProviderError{Kind: kind, Status: status}
	var envelope apiErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		perr.Message = envelope.Error.Message
	} else if len(body) > 0 {
		perr.Message = truncateBody(body)
	}
	return perr
}

const maxErrorBodyRunes = 200

func truncateBody(body []byte) string {
	runes := []rune(string(body))
	if len(runes) > maxErrorBodyRunes {
		runes = runes[:maxErrorBodyRunes]
	}
	return string(runes)
}
