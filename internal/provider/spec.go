// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/stream"
)

// =============================================================================
// WIRE STRATEGY TABLE
// =============================================================================

// wireTurn is one request message on the wire. Every backend family speaks
// some variation of role+content.
type wireTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// wireSpec is the full wire-level strategy for one provider type: where to
// send requests, how to authenticate, how to shape the body, and how to
// read the answers back. Provider behavior differences live in this table,
// not in a type hierarchy.
type wireSpec struct {
	format         stream.Format
	defaultBaseURL string

	// chatPath returns the request path relative to the base URL.
	chatPath   func(modelID string, streaming bool) string
	modelsPath string

	setHeaders func(h http.Header, key model.APIKey)

	// buildBody assembles the request payload. system may be empty.
	buildBody func(cfg *model.ProviderConfig, turns []wireTurn, system string, streaming bool) map[string]any

	// extraFields mutates the body for provider-specific knobs. Optional.
	extraFields func(cfg *model.ProviderConfig, body map[string]any)

	// parseCompletion extracts the assistant text from a buffered
	// (non-streaming) completion response.
	parseCompletion func(body []byte) (string, error)

	parseModels func(body []byte) ([]model.ModelEntry, error)
}

// anthropicVersion is the pinned API version header value.
const anthropicVersion = "2023-06-01"

// anthropicDefaultMaxTokens is used when the config leaves MaxTokens
// unset; the Anthropic family requires the field.
const anthropicDefaultMaxTokens = 4096

// thinkingBudgets maps reasoning effort to an Anthropic thinking budget.
var thinkingBudgets = map[string]int{
	"low":    1024,
	"medium": 4096,
	"high":   16384,
}

var wireSpecs = map[model.ProviderType]*wireSpec{
	model.ProviderOpenAI: {
		format:          stream.FormatDelta,
		defaultBaseURL:  "https://api.openai.com/v1",
		chatPath:        func(string, bool) string { return "/chat/completions" },
		modelsPath:      "/models",
		setHeaders:      bearerHeaders,
		buildBody:       buildDeltaBody,
		parseCompletion: parseDeltaCompletion,
		parseModels:     parseDataModels,
	},

	model.ProviderOpenRouter: {
		format:         stream.FormatDelta,
		defaultBaseURL: "https://openrouter.ai/api/v1",
		chatPath:       func(string, bool) string { return "/chat/completions" },
		modelsPath:     "/models",
		setHeaders: func(h http.Header, key model.APIKey) {
			bearerHeaders(h, key)
			h.Set("HTTP-Referer", "https://docchat.local")
			h.Set("X-Title", "docchat")
		},
		buildBody: buildDeltaBody,
		extraFields: func(cfg *model.ProviderConfig, body map[string]any) {
			if cfg.ReasoningEffort != "" {
				body["reasoning"] = map[string]any{"effort": cfg.ReasoningEffort}
			}
		},
		parseCompletion: parseDeltaCompletion,
		parseModels:     parseDataModels,
	},

	model.ProviderAnthropic: {
		format:         stream.FormatBlocks,
		defaultBaseURL: "https://api.anthropic.com/v1",
		chatPath:       func(string, bool) string { return "/messages" },
		modelsPath:     "/models",
		setHeaders: func(h http.Header, key model.APIKey) {
			h.Set("x-api-key", key.Key)
			h.Set("anthropic-version", anthropicVersion)
			h.Set("Content-Type", "application/json")
		},
		buildBody: func(cfg *model.ProviderConfig, turns []wireTurn, system string, streaming bool) map[string]any {
			maxTokens := cfg.MaxTokens
			if maxTokens <= 0 {
				maxTokens = anthropicDefaultMaxTokens
			}
			body := map[string]any{
				"model":      cfg.ModelOrDefault(),
				"messages":   turns,
				"max_tokens": maxTokens,
				"stream":     streaming,
			}
			if system != "" {
				body["system"] = system
			}
			if cfg.Temperature > 0 {
				body["temperature"] = cfg.Temperature
			}
			return body
		},
		extraFields: func(cfg *model.ProviderConfig, body map[string]any) {
			if budget, ok := thinkingBudgets[cfg.ReasoningEffort]; ok {
				body["thinking"] = map[string]any{
					"type":          "enabled",
					"budget_tokens": budget,
				}
				// Extended thinking rejects a temperature override.
				delete(body, "temperature")
			}
		},
		parseCompletion: parseBlocksCompletion,
		parseModels:     parseDataModels,
	},

	model.ProviderGemini: {
		format:         stream.FormatCandidates,
		defaultBaseURL: "https://generativelanguage.googleapis.com/v1beta",
		chatPath: func(modelID string, streaming bool) string {
			if streaming {
				return fmt.Sprintf("/models/%s:streamGenerateContent", modelID)
			}
			return fmt.Sprintf("/models/%s:generateContent", modelID)
		},
		modelsPath: "/models",
		setHeaders: func(h http.Header, key model.APIKey) {
			h.Set("x-goog-api-key", key.Key)
			h.Set("Content-Type", "application/json")
		},
		buildBody:       buildCandidatesBody,
		parseCompletion: parseCandidatesCompletion,
		parseModels:     parseGeminiModels,
	},
}

// specFor returns the wire strategy for a provider, falling back to the
// delta family for unknown types so custom OpenAI-compatible endpoints
// work without registration.
func specFor(t model.ProviderType) *wireSpec {
	if s, ok := wireSpecs[t]; ok {
		return s
	}
	return wireSpecs[model.ProviderOpenAI]
}

func bearerHeaders(h http.Header, key model.APIKey) {
	h.Set("Authorization", "Bearer "+key.Key)
	h.Set("Content-Type", "application/json")
}

// =============================================================================
// BODY BUILDERS
// =============================================================================

func buildDeltaBody(cfg *model.ProviderConfig, turns []wireTurn, system string, streaming bool) map[string]any {
	msgs := turns
	if system != "" {
		msgs = append([]wireTurn{{Role: "system", Content: system}}, turns...)
	}
	body := map[string]any{
		"model":    cfg.ModelOrDefault(),
		"messages": msgs,
		"stream":   streaming,
	}
	if cfg.Temperature > 0 {
		body["temperature"] = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		body["max_tokens"] = cfg.MaxTokens
	}
	return body
}

func buildCandidatesBody(cfg *model.ProviderConfig, turns []wireTurn, system string, streaming bool) map[string]any {
	contents := make([]map[string]any, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]string{{"text": t.Content}},
		})
	}

	body := map[string]any{"contents": contents}
	if system != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]string{{"text": system}},
		}
	}

	gen := map[string]any{}
	if cfg.Temperature > 0 {
		gen["temperature"] = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		gen["maxOutputTokens"] = cfg.MaxTokens
	}
	if len(gen) > 0 {
		body["generationConfig"] = gen
	}
	return body
}

// =============================================================================
// COMPLETION PARSERS
// =============================================================================

func parseDeltaCompletion(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrDecodeFailed)
	}
	return resp.Choices[0].Message.Content, nil
}

func parseBlocksCompletion(body []byte) (string, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func parseCandidatesCompletion(body []byte) (string, error) {
	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates in response", ErrDecodeFailed)
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// =============================================================================
// MODEL LIST PARSERS
// =============================================================================

// parseDataModels handles the {"data": [...]} envelope shared by the
// OpenAI, OpenRouter, and Anthropic model listings.
func parseDataModels(body []byte) ([]model.ModelEntry, error) {
	var resp struct {
		Data []struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			DisplayName   string `json:"display_name"`
			ContextLength int    `json:"context_length"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	entries := make([]model.ModelEntry, 0, len(resp.Data))
	for _, m := range resp.Data {
		name := m.Name
		if name == "" {
			name = m.DisplayName
		}
		entries = append(entries, model.ModelEntry{
			ID:          m.ID,
			Name:        name,
			ContextSize: m.ContextLength,
		})
	}
	return entries, nil
}

func parseGeminiModels(body []byte) ([]model.ModelEntry, error) {
	var resp struct {
		Models []struct {
			Name            string `json:"name"`
			DisplayName     string `json:"displayName"`
			InputTokenLimit int    `json:"inputTokenLimit"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	entries := make([]model.ModelEntry, 0, len(resp.Models))
	for _, m := range resp.Models {
		// "models/gemini-1.5-pro" -> "gemini-1.5-pro"
		id := strings.TrimPrefix(m.Name, "models/")
		entries = append(entries, model.ModelEntry{
			ID:          id,
			Name:        m.DisplayName,
			ContextSize: m.InputTokenLimit,
		})
	}
	return entries, nil
}
