// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/stream"
)

// Configuration constants for outbound requests.
const (
	// DefaultTimeout bounds buffered (non-streaming) requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize bounds buffered response bodies.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for all buffered requests.
	sharedHTTPClient = &http.Client{
		Transport: pooledTransport(),
		Timeout:   DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; streaming request lifetime is
	// controlled entirely via context.
	sharedStreamingClient = &http.Client{
		Transport: pooledTransport(),
	}
)

func pooledTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// =============================================================================
// SYSTEM PROMPT
// =============================================================================

// formattingRules is appended to every system prompt, custom or not, so
// the streaming and buffered paths produce consistently renderable output.
const formattingRules = "Answer in plain prose or Markdown. " +
	"Use fenced code blocks for code. " +
	"Do not repeat the provided document content back verbatim unless asked."

// systemPrompt combines the user's custom prompt with the fixed
// formatting rules. Both request paths go through here.
func systemPrompt(cfg *model.ProviderConfig) string {
	custom := strings.TrimSpace(cfg.SystemPrompt)
	if custom == "" {
		return formattingRules
	}
	return custom + "\n\n" + formattingRules
}

// =============================================================================
// ADAPTER
// =============================================================================

// Adapter executes requests against one configured provider. It is a thin
// stateless layer over the wire strategy table; all mutable provider state
// lives in the Registry.
type Adapter struct {
	cfg     *model.ProviderConfig
	spec    *wireSpec
	limiter *rate.Limiter
}

// NewAdapter wraps a provider config. The limiter may be nil, in which
// case requests are not paced.
func NewAdapter(cfg *model.ProviderConfig, limiter *rate.Limiter) *Adapter {
	return &Adapter{cfg: cfg, spec: specFor(cfg.Type), limiter: limiter}
}

// IsReady reports whether the adapter can serve requests.
func (a *Adapter) IsReady() bool {
	return a.cfg.IsReady()
}

// Config returns the underlying provider config.
func (a *Adapter) Config() *model.ProviderConfig {
	return a.cfg
}

// pace blocks until the rate limiter admits one request.
func (a *Adapter) pace(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) baseURL() string {
	if ep := a.cfg.CurrentEndpoint(); ep != nil && ep.BaseURL != "" {
		return strings.TrimSuffix(ep.BaseURL, "/")
	}
	return a.spec.defaultBaseURL
}

func (a *Adapter) currentKey() model.APIKey {
	if ep := a.cfg.CurrentEndpoint(); ep != nil {
		return ep.CurrentKey()
	}
	return model.APIKey{}
}

// wireTurns converts conversation messages to wire messages. Error
// messages and empty placeholders never go on the wire.
func wireTurns(messages []*model.ChatMessage) []wireTurn {
	turns := make([]wireTurn, 0, len(messages))
	for _, m := range messages {
		if m.Role == model.RoleError || strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, wireTurn{Role: string(m.Role), Content: m.Content})
	}
	return turns
}

// newRequest builds a chat request against the provider's current
// endpoint, with headers and body per the strategy table.
func (a *Adapter) newRequest(ctx context.Context, messages []*model.ChatMessage, streaming bool) (*http.Request, error) {
	body := a.spec.buildBody(a.cfg, wireTurns(messages), systemPrompt(a.cfg), streaming)
	if a.spec.extraFields != nil {
		a.spec.extraFields(a.cfg, body)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrMalformedRequest, err)
	}

	url := a.baseURL() + a.spec.chatPath(a.cfg.ModelOrDefault(), streaming)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	a.spec.setHeaders(req.Header, a.currentKey())
	return req, nil
}

// checkResponse classifies a non-success response into a typed error.
// The limited body read keeps hostile servers from exhausting memory.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	return classifyStatus(resp.StatusCode, body)
}

// readBody reads a buffered response body within the size limit.
func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("%w: response exceeded %d bytes", ErrTransport, MaxResponseSize)
	}
	return body, nil
}

// StreamComplete sends the conversation and decodes the streamed reply
// through cb. Cancelling ctx aborts the stream and reports
// stream.ErrAborted. The response body is never buffered.
func (a *Adapter) StreamComplete(ctx context.Context, messages []*model.ChatMessage, cb stream.Callbacks) error {
	if !a.IsReady() {
		return ErrNotConfigured
	}
	if err := a.pace(ctx); err != nil {
		return err
	}

	req, err := a.newRequest(ctx, messages, true)
	if err != nil {
		return err
	}
	a.logRequest(req)

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return stream.ErrAborted
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}

	return stream.NewDecoder(a.spec.format, cb).Decode(ctx, resp.Body)
}

// ChatComplete sends the conversation and returns the full buffered reply.
// Used for short internal generations such as session titles.
func (a *Adapter) ChatComplete(ctx context.Context, messages []*model.ChatMessage) (string, error) {
	if !a.IsReady() {
		return "", ErrNotConfigured
	}
	if err := a.pace(ctx); err != nil {
		return "", err
	}

	req, err := a.newRequest(ctx, messages, false)
	if err != nil {
		return "", err
	}
	a.logRequest(req)

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return "", err
	}
	body, err := readBody(resp)
	if err != nil {
		return "", err
	}
	return a.spec.parseCompletion(body)
}

// ListModels queries the provider's model listing endpoint.
func (a *Adapter) ListModels(ctx context.Context) ([]model.ModelEntry, error) {
	if !a.cfg.HasCredentials() {
		return nil, ErrNotConfigured
	}
	if err := a.pace(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL()+a.spec.modelsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	a.spec.setHeaders(req.Header, a.currentKey())
	a.logRequest(req)

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return nil, err
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	return a.spec.parseModels(body)
}

// TestConnection verifies the endpoint and credentials without running a
// completion. A successful model listing is proof enough.
func (a *Adapter) TestConnection(ctx context.Context) error {
	_, err := a.ListModels(ctx)
	return err
}

// logRequest logs an outbound request.
// SECURITY: Never log headers or bodies; the key appears only as a
// fingerprint.
func (a *Adapter) logRequest(req *http.Request) {
	log.Printf("provider %s: %s %s (key=%s)",
		a.cfg.ID, req.Method, req.URL.Path, a.currentKey().Fingerprint())
}
