// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// =============================================================================
// PROVIDER TYPES
// =============================================================================

// ProviderType identifies the wire protocol family a provider speaks.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderGemini     ProviderType = "gemini"
	ProviderOpenRouter ProviderType = "openrouter"
)

// =============================================================================
// CREDENTIALS
// =============================================================================

// APIKey is a named credential. Names let users keep several keys per
// endpoint (personal, team, trial) and rotate between them.
type APIKey struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Fingerprint returns a short SHA-256 fingerprint of the key for logging.
// SECURITY: Never log key material; use the fingerprint instead.
func (k APIKey) Fingerprint() string {
	if k.Key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(k.Key))
	return hex.EncodeToString(h[:4])
}

// Endpoint is one base URL plus the keys valid against it.
type Endpoint struct {
	BaseURL         string   `json:"base_url"`
	APIKeys         []APIKey `json:"api_keys,omitempty"`
	CurrentKeyIndex int      `json:"current_key_index,omitempty"`
}

// CurrentKey returns the selected API key, or a zero value when none is
// configured.
func (e *Endpoint) CurrentKey() APIKey {
	if len(e.APIKeys) == 0 {
		return APIKey{}
	}
	i := e.CurrentKeyIndex
	if i < 0 || i >= len(e.APIKeys) {
		i = 0
	}
	return e.APIKeys[i]
}

// RotateKey advances CurrentKeyIndex to the next key, wrapping around.
func (e *Endpoint) RotateKey() {
	if len(e.APIKeys) < 2 {
		return
	}
	e.CurrentKeyIndex = (e.CurrentKeyIndex + 1) % len(e.APIKeys)
}

// =============================================================================
// MODEL METADATA
// =============================================================================

// ModelEntry describes one model a provider can serve. IsCustom marks
// user-added models as distinct from vendor-advertised ones.
type ModelEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	ContextSize int    `json:"context_size,omitempty"`
	IsCustom    bool   `json:"is_custom,omitempty"`
}

// =============================================================================
// PROVIDER CONFIG
// =============================================================================

// ProviderConfig holds everything needed to talk to one backend: identity,
// credentials and routing, generation parameters, and model metadata.
//
// Built-in providers are created at first use and cannot be destroyed;
// custom providers are created and deleted explicitly by the user.
type ProviderConfig struct {
	ID        string       `json:"id"`
	Type      ProviderType `json:"type"`
	Enabled   bool         `json:"enabled"`
	IsBuiltin bool         `json:"is_builtin"`

	// Routing. CurrentEndpointIndex selects the authoritative endpoint;
	// there is deliberately no transient UI-local copy of this state.
	Endpoints            []Endpoint `json:"endpoints"`
	CurrentEndpointIndex int        `json:"current_endpoint_index,omitempty"`

	// Generation parameters
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
	SystemPrompt    string  `json:"system_prompt,omitempty"`
	StreamingOutput bool    `json:"streaming_output"`

	// ReasoningEffort requests extended thinking from backends that
	// support it ("low", "medium", "high"; empty disables).
	ReasoningEffort string `json:"reasoning_effort,omitempty"`

	// Models
	AvailableModels []string     `json:"available_models,omitempty"`
	Models          []ModelEntry `json:"models,omitempty"`
	SelectedModel   string       `json:"selected_model,omitempty"`
}

// CurrentEndpoint returns the selected endpoint, or nil when none exist.
func (p *ProviderConfig) CurrentEndpoint() *Endpoint {
	if len(p.Endpoints) == 0 {
		return nil
	}
	i := p.CurrentEndpointIndex
	if i < 0 || i >= len(p.Endpoints) {
		i = 0
	}
	return &p.Endpoints[i]
}

// RotateEndpoint advances to the next endpoint, wrapping around.
func (p *ProviderConfig) RotateEndpoint() {
	if len(p.Endpoints) < 2 {
		return
	}
	p.CurrentEndpointIndex = (p.CurrentEndpointIndex + 1) % len(p.Endpoints)
}

// HasCredentials reports whether some endpoint has a non-empty key.
func (p *ProviderConfig) HasCredentials() bool {
	ep := p.CurrentEndpoint()
	return ep != nil && strings.TrimSpace(ep.CurrentKey().Key) != ""
}

// IsReady reports whether the provider can serve requests: enabled, with
// credentials and at least one model configured.
func (p *ProviderConfig) IsReady() bool {
	return p.Enabled && p.HasCredentials() &&
		(len(p.AvailableModels) > 0 || len(p.Models) > 0)
}

// ModelOrDefault returns the selected model, falling back to the first
// available one.
func (p *ProviderConfig) ModelOrDefault() string {
	if p.SelectedModel != "" {
		return p.SelectedModel
	}
	if len(p.AvailableModels) > 0 {
		return p.AvailableModels[0]
	}
	if len(p.Models) > 0 {
		return p.Models[0].ID
	}
	return ""
}

// AddCustomModel registers a user-added model ID, skipping duplicates.
func (p *ProviderConfig) AddCustomModel(id string) {
	for _, m := range p.Models {
		if m.ID == id {
			return
		}
	}
	p.Models = append(p.Models, ModelEntry{ID: id, IsCustom: true})
	for _, am := range p.AvailableModels {
		if am == id {
			return
		}
	}
	p.AvailableModels = append(p.AvailableModels, id)
}

// RemoveCustomModel removes a user-added model. Vendor-advertised models
// are left alone.
func (p *ProviderConfig) RemoveCustomModel(id string) bool {
	for i, m := range p.Models {
		if m.ID == id && m.IsCustom {
			p.Models = append(p.Models[:i], p.Models[i+1:]...)
			for j, am := range p.AvailableModels {
				if am == id {
					p.AvailableModels = append(p.AvailableModels[:j], p.AvailableModels[j+1:]...)
					break
				}
			}
			if p.SelectedModel == id {
				p.SelectedModel = ""
			}
			return true
		}
	}
	return false
}

// =============================================================================
// PARTIAL UPDATES
// =============================================================================

// ProviderUpdate is a partial merge-update for a ProviderConfig. Nil fields
// are left untouched.
type ProviderUpdate struct {
	Enabled         *bool         `json:"enabled,omitempty"`
	Endpoints       *[]Endpoint   `json:"endpoints,omitempty"`
	Temperature     *float64      `json:"temperature,omitempty"`
	MaxTokens       *int          `json:"max_tokens,omitempty"`
	SystemPrompt    *string       `json:"system_prompt,omitempty"`
	StreamingOutput *bool         `json:"streaming_output,omitempty"`
	ReasoningEffort *string       `json:"reasoning_effort,omitempty"`
	SelectedModel   *string       `json:"selected_model,omitempty"`
	AvailableModels *[]string     `json:"available_models,omitempty"`
	Models          *[]ModelEntry `json:"models,omitempty"`
}

// Apply merges the update into the config.
func (p *ProviderConfig) Apply(u ProviderUpdate) {
	if u.Enabled != nil {
		p.Enabled = *u.Enabled
	}
	if u.Endpoints != nil {
		p.Endpoints = *u.Endpoints
		if p.CurrentEndpointIndex >= len(p.Endpoints) {
			p.CurrentEndpointIndex = 0
		}
	}
	if u.Temperature != nil {
		p.Temperature = *u.Temperature
	}
	if u.MaxTokens != nil {
		p.MaxTokens = *u.MaxTokens
	}
	if u.SystemPrompt != nil {
		p.SystemPrompt = *u.SystemPrompt
	}
	if u.StreamingOutput != nil {
		p.StreamingOutput = *u.StreamingOutput
	}
	if u.ReasoningEffort != nil {
		p.ReasoningEffort = *u.ReasoningEffort
	}
	if u.SelectedModel != nil {
		p.SelectedModel = *u.SelectedModel
	}
	if u.AvailableModels != nil {
		p.AvailableModels = *u.AvailableModels
	}
	if u.Models != nil {
		p.Models = *u.Models
	}
}

// Clone returns a deep copy of the config.
func (p *ProviderConfig) Clone() *ProviderConfig {
	c := *p
	c.Endpoints = make([]Endpoint, len(p.Endpoints))
	for i, ep := range p.Endpoints {
		c.Endpoints[i] = ep
		c.Endpoints[i].APIKeys = append([]APIKey(nil), ep.APIKeys...)
	}
	c.AvailableModels = append([]string(nil), p.AvailableModels...)
	c.Models = append([]ModelEntry(nil), p.Models...)
	return &c
}
