// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage(t *testing.T) {
	msg := NewUserMessage("hello")

	if !strings.HasPrefix(msg.ID, "msg_") {
		t.Errorf("ID should start with 'msg_', got %q", msg.ID)
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %q, want user", msg.Role)
	}
	if msg.IsComplete != nil {
		t.Error("new message should have unset completion state")
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestMessage_CompletionTriState(t *testing.T) {
	msg := NewAssistantPlaceholder()

	if msg.WasAborted() {
		t.Error("unset completion must not read as aborted")
	}

	msg.MarkAborted()
	if msg.IsComplete == nil || *msg.IsComplete {
		t.Error("MarkAborted should set IsComplete to false")
	}
	if !msg.WasAborted() {
		t.Error("WasAborted should be true after MarkAborted")
	}

	msg.MarkComplete()
	if msg.IsComplete == nil || !*msg.IsComplete {
		t.Error("MarkComplete should set IsComplete to true")
	}

	msg.ClearCompletion()
	if msg.IsComplete != nil {
		t.Error("ClearCompletion should reset to unset")
	}
}

func TestMessage_Versions(t *testing.T) {
	msg := NewMessage(RoleAssistant, "first answer")
	firstTS := msg.Timestamp

	msg.PushVersion()
	if len(msg.ContentVersions) != 1 {
		t.Fatalf("versions = %d, want 1", len(msg.ContentVersions))
	}
	if msg.CurrentVersionIndex != 0 {
		t.Errorf("CurrentVersionIndex = %d, want 0", msg.CurrentVersionIndex)
	}

	msg.Content = "second answer"
	msg.Timestamp = firstTS.Add(time.Minute)
	msg.PushVersion()

	if err := msg.SwitchVersion(0); err != nil {
		t.Fatalf("SwitchVersion failed: %v", err)
	}
	if msg.Content != "first answer" {
		t.Errorf("Content = %q after switch", msg.Content)
	}
	if !msg.Timestamp.Equal(firstTS) {
		t.Error("Timestamp should match version 0")
	}
	if msg.CurrentVersionIndex != 0 {
		t.Errorf("CurrentVersionIndex = %d, want 0", msg.CurrentVersionIndex)
	}

	if err := msg.SwitchVersion(5); err != ErrVersionOutOfRange {
		t.Errorf("expected ErrVersionOutOfRange, got %v", err)
	}
}

func TestMessage_QuestionText(t *testing.T) {
	assembled := "[Document: report.pdf]\nsome excerpt\n[PDF Content]\nbig text\n[Selected text]\nquoted\n[Question]\nWhat is X?"
	msg := NewUserMessage(assembled)

	if got := msg.QuestionText(); got != "What is X?" {
		t.Errorf("QuestionText = %q", got)
	}

	// No marker: whole content
	plain := NewUserMessage("just a question")
	if got := plain.QuestionText(); got != "just a question" {
		t.Errorf("QuestionText = %q", got)
	}
}

func TestStripContextMarkers(t *testing.T) {
	text := "[Document: a.pdf]\nbody\n[Selected lines 1-3]\n[PDF Content]\n[Question]\ntail"
	got := StripContextMarkers(text)
	if strings.Contains(got, "[Document") || strings.Contains(got, "[Selected") ||
		strings.Contains(got, MarkerPDFContent) || strings.Contains(got, MarkerQuestion) {
		t.Errorf("markers survived: %q", got)
	}
	if !strings.Contains(got, "body") || !strings.Contains(got, "tail") {
		t.Errorf("non-marker text lost: %q", got)
	}
}

// =============================================================================
// SESSION TESTS
// =============================================================================

func TestChatSession_Basics(t *testing.T) {
	s := NewChatSession(42)

	if s.ID == "" {
		t.Error("session ID should be set")
	}
	if s.ItemID != 42 {
		t.Errorf("ItemID = %d", s.ItemID)
	}
	if !s.IsEmpty() {
		t.Error("new session should be empty")
	}

	s.Append(NewUserMessage("q"))
	s.Append(NewAssistantPlaceholder())

	if s.IsEmpty() {
		t.Error("session with a non-empty message is not empty")
	}
	if last := s.LastNonEmpty(); last == nil || last.Content != "q" {
		t.Error("LastNonEmpty should skip the empty placeholder")
	}
	if first := s.FirstUserMessage(); first == nil || first.Content != "q" {
		t.Error("FirstUserMessage mismatch")
	}
}

func TestChatSession_SharesDocument(t *testing.T) {
	s := NewChatSession(1)
	s.DocumentIDs = []int{7, 9}

	if !s.SharesDocument(1) || !s.SharesDocument(9) {
		t.Error("SharesDocument should cover primary scope and DocumentIDs")
	}
	if s.SharesDocument(3) {
		t.Error("SharesDocument(3) should be false")
	}
}

// =============================================================================
// DOCUMENT SESSIONS TESTS
// =============================================================================

func TestDocumentSessions_RemoveActiveSelectsSurvivor(t *testing.T) {
	d := NewDocumentSessions(1)

	older := NewChatSession(1)
	older.UpdatedAt = time.Now().Add(-time.Hour)
	newer := NewChatSession(1)

	d.Upsert(older)
	d.Upsert(newer)
	d.ActiveSessionID = older.ID

	if !d.Remove(older.ID) {
		t.Fatal("Remove returned false")
	}
	if d.ActiveSessionID != newer.ID {
		t.Errorf("ActiveSessionID = %q, want surviving session %q", d.ActiveSessionID, newer.ID)
	}

	if !d.Remove(newer.ID) {
		t.Fatal("Remove returned false")
	}
	if d.ActiveSessionID != "" {
		t.Error("ActiveSessionID should be empty when no sessions remain")
	}
}

func TestDocumentSessions_UpsertSetsActive(t *testing.T) {
	d := NewDocumentSessions(1)
	s := NewChatSession(1)
	d.Upsert(s)

	if d.ActiveSessionID != s.ID {
		t.Error("first Upsert should set the active session")
	}

	// Upsert of an existing session replaces in place
	s2 := *s
	s2.Title = "renamed"
	d.Upsert(&s2)
	if len(d.Sessions) != 1 || d.Sessions[0].Title != "renamed" {
		t.Error("Upsert should replace the stored copy")
	}
}

// =============================================================================
// PROVIDER CONFIG TESTS
// =============================================================================

func TestProviderConfig_Rotation(t *testing.T) {
	p := &ProviderConfig{
		ID:      "openai",
		Type:    ProviderOpenAI,
		Enabled: true,
		Endpoints: []Endpoint{
			{BaseURL: "https://a.example", APIKeys: []APIKey{{Name: "k1", Key: "sk-1"}, {Name: "k2", Key: "sk-2"}}},
			{BaseURL: "https://b.example", APIKeys: []APIKey{{Name: "k3", Key: "sk-3"}}},
		},
		AvailableModels: []string{"m1"},
	}

	if !p.IsReady() {
		t.Fatal("provider with key and model should be ready")
	}

	ep := p.CurrentEndpoint()
	if ep.CurrentKey().Name != "k1" {
		t.Errorf("current key = %q", ep.CurrentKey().Name)
	}
	ep.RotateKey()
	if ep.CurrentKey().Name != "k2" {
		t.Errorf("after rotate, key = %q", ep.CurrentKey().Name)
	}
	ep.RotateKey()
	if ep.CurrentKey().Name != "k1" {
		t.Error("key rotation should wrap around")
	}

	p.RotateEndpoint()
	if p.CurrentEndpoint().BaseURL != "https://b.example" {
		t.Errorf("after endpoint rotate, base = %q", p.CurrentEndpoint().BaseURL)
	}
}

func TestProviderConfig_Apply(t *testing.T) {
	p := &ProviderConfig{ID: "x", Temperature: 0.7, SystemPrompt: "old"}

	temp := 0.2
	enabled := true
	p.Apply(ProviderUpdate{Temperature: &temp, Enabled: &enabled})

	if p.Temperature != 0.2 {
		t.Errorf("Temperature = %v", p.Temperature)
	}
	if !p.Enabled {
		t.Error("Enabled should be true")
	}
	if p.SystemPrompt != "old" {
		t.Error("nil fields must be left untouched")
	}
}

func TestProviderConfig_CustomModels(t *testing.T) {
	p := &ProviderConfig{ID: "x", Models: []ModelEntry{{ID: "vendor-model"}}}

	p.AddCustomModel("my-model")
	p.AddCustomModel("my-model") // duplicate ignored
	if len(p.Models) != 2 {
		t.Fatalf("models = %d, want 2", len(p.Models))
	}

	if p.RemoveCustomModel("vendor-model") {
		t.Error("vendor models must not be removable")
	}
	if !p.RemoveCustomModel("my-model") {
		t.Error("custom model should be removable")
	}
	if len(p.Models) != 1 {
		t.Errorf("models = %d after removal", len(p.Models))
	}
}

func TestAPIKey_Fingerprint(t *testing.T) {
	k := APIKey{Name: "k", Key: "sk-secret"}
	fp := k.Fingerprint()

	if len(fp) != 8 {
		t.Errorf("fingerprint length = %d, want 8", len(fp))
	}
	if strings.Contains(fp, "secret") {
		t.Error("fingerprint must not leak key material")
	}
	if (APIKey{}).Fingerprint() != "none" {
		t.Error("empty key fingerprint should be 'none'")
	}
}
