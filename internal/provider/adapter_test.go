// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/stream"
)

func testConfig(t model.ProviderType, baseURL string) *model.ProviderConfig {
	return &model.ProviderConfig{
		ID:      "test-" + string(t),
		Type:    t,
		Enabled: true,
		Endpoints: []model.Endpoint{{
			BaseURL: baseURL,
			APIKeys: []model.APIKey{{Name: "default", Key: "sk-test-key-000"}},
		}},
		AvailableModels: []string{"test-model"},
		StreamingOutput: true,
		Temperature:     0.7,
	}
}

func userTurn(content string) []*model.ChatMessage {
	return []*model.ChatMessage{model.NewUserMessage(content)}
}

type collected struct {
	text      strings.Builder
	reasoning strings.Builder
	done      bool
}

func (c *collected) callbacks() stream.Callbacks {
	return stream.Callbacks{
		OnText:      func(s string) error { c.text.WriteString(s); return nil },
		OnReasoning: func(s string) error { c.reasoning.WriteString(s); return nil },
		OnDone:      func() { c.done = true },
	}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestStreamComplete_Delta(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"Hello"}}]}`+"\n\n")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":" world"}}]}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(model.ProviderOpenAI, srv.URL), nil)
	var c collected
	require.NoError(t, a.StreamComplete(context.Background(), userTurn("hi"), c.callbacks()))

	require.Equal(t, "Hello world", c.text.String())
	require.True(t, c.done)
	require.Equal(t, "Bearer sk-test-key-000", gotAuth)
	require.Equal(t, true, gotBody["stream"])
	require.Equal(t, "test-model", gotBody["model"])

	// system prompt always carries the formatting rules
	msgs := gotBody["messages"].([]any)
	first := msgs[0].(map[string]any)
	require.Equal(t, "system", first["role"])
	require.Contains(t, first["content"], formattingRules)
}

func TestStreamComplete_Blocks(t *testing.T) {
	var gotKey, gotVersion string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"mulling"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Answer"}}`+"\n\n")
		io.WriteString(w, `data: {"type":"message_stop"}`+"\n\n")
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(model.ProviderAnthropic, srv.URL), nil)
	var c collected
	require.NoError(t, a.StreamComplete(context.Background(), userTurn("hi"), c.callbacks()))

	require.Equal(t, "Answer", c.text.String())
	require.Equal(t, "mulling", c.reasoning.String())
	require.True(t, c.done)
	require.Equal(t, "sk-test-key-000", gotKey)
	require.Equal(t, anthropicVersion, gotVersion)

	// system goes in the top-level field, never the messages array
	require.NotEmpty(t, gotBody["system"])
	for _, m := range gotBody["messages"].([]any) {
		require.NotEqual(t, "system", m.(map[string]any)["role"])
	}
	require.NotZero(t, gotBody["max_tokens"], "max_tokens is mandatory for this family")
}

func TestStreamComplete_Candidates(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Partial"}]}}]}`+"\n")
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":" answer"}]},"finishReason":"STOP"}]}`+"\n")
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(model.ProviderGemini, srv.URL), nil)
	var c collected
	require.NoError(t, a.StreamComplete(context.Background(), userTurn("hi"), c.callbacks()))

	require.Equal(t, "Partial answer", c.text.String())
	require.True(t, c.done)
	require.Contains(t, gotPath, "test-model:streamGenerateContent")
}

func TestStreamComplete_NotConfigured(t *testing.T) {
	cfg := testConfig(model.ProviderOpenAI, "http://unreachable.invalid")
	cfg.Endpoints[0].APIKeys = nil

	a := NewAdapter(cfg, nil)
	err := a.StreamComplete(context.Background(), userTurn("hi"), stream.Callbacks{})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestStreamComplete_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "data: [DONE]\n")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewAdapter(testConfig(model.ProviderOpenAI, srv.URL), nil)
	err := a.StreamComplete(ctx, userTurn("hi"), stream.Callbacks{})
	require.ErrorIs(t, err, stream.ErrAborted)
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, ErrAuthFailed},
		{"forbidden", 403, ``, ErrAuthFailed},
		{"rate limited", 429, `{"error":{"message":"slow down"}}`, ErrRateLimited},
		{"bad request", 400, `{"error":{"message":"unknown model"}}`, ErrMalformedRequest},
		{"not found", 404, ``, ErrMalformedRequest},
		{"server error", 500, `oops`, ErrTransport},
		{"bad gateway", 502, ``, ErrTransport},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			a := NewAdapter(testConfig(model.ProviderOpenAI, srv.URL), nil)
			err := a.StreamComplete(context.Background(), userTurn("hi"), stream.Callbacks{})
			require.ErrorIs(t, err, tc.want)

			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, tc.status, perr.Status)
		})
	}
}

func TestErrorClassification_MessageExtraction(t *testing.T) {
	err := classifyStatus(429, []byte(`{"error":{"message":"quota exceeded"}}`))
	require.ErrorIs(t, err, ErrRateLimited)
	require.Contains(t, err.Error(), "quota exceeded")
}

// =============================================================================
// BUFFERED COMPLETION
// =============================================================================

func TestChatComplete_Delta(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Buffered reply"}}]}`)
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(model.ProviderOpenAI, srv.URL), nil)
	got, err := a.ChatComplete(context.Background(), userTurn("hi"))
	require.NoError(t, err)
	require.Equal(t, "Buffered reply", got)
	require.Equal(t, false, gotBody["stream"])
}

func TestChatComplete_Blocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"From "},{"type":"text","text":"blocks"}]}`)
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(model.ProviderAnthropic, srv.URL), nil)
	got, err := a.ChatComplete(context.Background(), userTurn("hi"))
	require.NoError(t, err)
	require.Equal(t, "From blocks", got)
}

func TestChatComplete_Candidates(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"From parts"}]}}]}`)
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(model.ProviderGemini, srv.URL), nil)
	got, err := a.ChatComplete(context.Background(), userTurn("hi"))
	require.NoError(t, err)
	require.Equal(t, "From parts", got)
	require.Contains(t, gotPath, ":generateContent")
}

func TestChatComplete_DecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json at all`)
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(model.ProviderOpenAI, srv.URL), nil)
	_, err := a.ChatComplete(context.Background(), userTurn("hi"))
	require.ErrorIs(t, err, ErrDecodeFailed)
}

// =============================================================================
// MODEL LISTING
// =============================================================================

func TestListModels_DataEnvelope(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"data":[{"id":"m-1","name":"Model One","context_length":8192},{"id":"m-2"}]}`)
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(model.ProviderOpenAI, srv.URL), nil)
	models, err := a.ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/models", gotPath)
	require.Len(t, models, 2)
	require.Equal(t, "m-1", models[0].ID)
	require.Equal(t, 8192, models[0].ContextSize)
}

func TestListModels_GeminiEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[{"name":"models/gem-pro","displayName":"Gem Pro","inputTokenLimit":32768}]}`)
	}))
	defer srv.Close()

	a := NewAdapter(testConfig(model.ProviderGemini, srv.URL), nil)
	models, err := a.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.Equal(t, "gem-pro", models[0].ID, "the models/ prefix must be stripped")
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test-key-000" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	good := NewAdapter(testConfig(model.ProviderOpenAI, srv.URL), nil)
	require.NoError(t, good.TestConnection(context.Background()))

	cfg := testConfig(model.ProviderOpenAI, srv.URL)
	cfg.Endpoints[0].APIKeys[0].Key = "sk-wrong"
	bad := NewAdapter(cfg, nil)
	require.ErrorIs(t, bad.TestConnection(context.Background()), ErrAuthFailed)
}

// =============================================================================
// REQUEST CONTENT
// =============================================================================

func TestWireTurns_FiltersErrorAndEmpty(t *testing.T) {
	messages := []*model.ChatMessage{
		model.NewUserMessage("question"),
		model.NewMessage(model.RoleError, "something broke"),
		model.NewAssistantPlaceholder(),
		model.NewMessage(model.RoleAssistant, "answer"),
	}

	turns := wireTurns(messages)
	require.Len(t, turns, 2)
	require.Equal(t, "user", turns[0].Role)
	require.Equal(t, "assistant", turns[1].Role)
}

func TestSystemPrompt_CustomPlusRules(t *testing.T) {
	cfg := testConfig(model.ProviderOpenAI, "")
	cfg.SystemPrompt = "You are a careful reviewer."

	got := systemPrompt(cfg)
	require.True(t, strings.HasPrefix(got, "You are a careful reviewer."))
	require.True(t, strings.HasSuffix(got, formattingRules))

	cfg.SystemPrompt = "  "
	require.Equal(t, formattingRules, systemPrompt(cfg))
}

func TestExtraFields_ReasoningEffort(t *testing.T) {
	cfg := testConfig(model.ProviderOpenRouter, "")
	cfg.ReasoningEffort = "high"

	body := buildDeltaBody(cfg, nil, "", true)
	specFor(model.ProviderOpenRouter).extraFields(cfg, body)
	require.Equal(t, map[string]any{"effort": "high"}, body["reasoning"])

	acfg := testConfig(model.ProviderAnthropic, "")
	acfg.ReasoningEffort = "medium"
	abody := specFor(model.ProviderAnthropic).buildBody(acfg, nil, "", true)
	specFor(model.ProviderAnthropic).extraFields(acfg, abody)
	thinking := abody["thinking"].(map[string]any)
	require.Equal(t, thinkingBudgets["medium"], thinking["budget_tokens"])
	require.NotContains(t, abody, "temperature")
}
