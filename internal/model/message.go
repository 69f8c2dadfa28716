// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"

	// RoleError marks a message that replaced a failed assistant turn.
	// Error messages are displayed but never sent back to a provider.
	RoleError Role = "error"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleError:
		return "Error"
	default:
		return string(r)
	}
}

// =============================================================================
// CONTENT VERSIONS
// =============================================================================

// ContentVersion is one entry in a message's regeneration history.
// The version list is append-only.
type ContentVersion struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// CHAT MESSAGE
// =============================================================================

// ChatMessage represents a single message in a session.
//
// IsComplete is tri-state: nil for messages that never streamed, true for a
// naturally finished assistant message, false for one aborted mid-stream
// (its Content holds whatever arrived before the abort).
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// ReasoningContent accumulates the model's "thinking" side channel,
	// kept separate from the answer text.
	ReasoningContent string `json:"reasoning_content,omitempty"`

	// Regeneration history. CurrentVersionIndex points into
	// ContentVersions when the list is non-empty.
	ContentVersions     []ContentVersion `json:"content_versions,omitempty"`
	CurrentVersionIndex int              `json:"current_version_index,omitempty"`

	IsComplete *bool `json:"is_complete,omitempty"`

	// IsHidden excludes the message from display but not from the
	// context sent to the provider.
	IsHidden bool `json:"is_hidden,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *ChatMessage {
	return &ChatMessage{
		ID:        generateMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *ChatMessage {
	return NewMessage(RoleUser, content)
}

// NewAssistantPlaceholder creates an empty assistant message that a stream
// will fill in.
func NewAssistantPlaceholder() *ChatMessage {
	return NewMessage(RoleAssistant, "")
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) *ChatMessage {
	return NewMessage(RoleSystem, content)
}

// NewErrorMessage creates an error-role message carrying failure text.
func NewErrorMessage(content string) *ChatMessage {
	return NewMessage(RoleError, content)
}

// =============================================================================
// STREAMING STATE
// =============================================================================

// MarkComplete flags the message as finished naturally.
func (m *ChatMessage) MarkComplete() {
	v := true
	m.IsComplete = &v
}

// MarkAborted flags the message as cut off mid-stream. The partial content
// accumulated so far is preserved.
func (m *ChatMessage) MarkAborted() {
	v := false
	m.IsComplete = &v
}

// ClearCompletion resets the tri-state completion flag.
func (m *ChatMessage) ClearCompletion() {
	m.IsComplete = nil
}

// WasAborted reports whether the message was cut off mid-stream.
func (m *ChatMessage) WasAborted() bool {
	return m.IsComplete != nil && !*m.IsComplete
}

// IsEmpty returns true if the message has no content.
func (m *ChatMessage) IsEmpty() bool {
	return len(m.Content) == 0
}

// =============================================================================
// VERSION HISTORY
// =============================================================================

// ErrVersionOutOfRange is returned by SwitchVersion for a bad index.
var ErrVersionOutOfRange = errors.New("content version index out of range")

// PushVersion appends the message's current content to the version history
// and points CurrentVersionIndex at the new entry.
func (m *ChatMessage) PushVersion() {
	m.ContentVersions = append(m.ContentVersions, ContentVersion{
		Content:   m.Content,
		Timestamp: m.Timestamp,
	})
	m.CurrentVersionIndex = len(m.ContentVersions) - 1
}

// SwitchVersion copies version k's content and timestamp into the live
// fields. It is a pure state change; callers persist separately.
func (m *ChatMessage) SwitchVersion(k int) error {
	if k < 0 || k >= len(m.ContentVersions) {
		return ErrVersionOutOfRange
	}
	m.Content = m.ContentVersions[k].Content
	m.Timestamp = m.ContentVersions[k].Timestamp
	m.CurrentVersionIndex = k
	return nil
}

// =============================================================================
// CONTEXT MARKERS
// =============================================================================

// User message content is assembled from marked sections, e.g.
//
//	[Document: report.pdf]
//	...excerpt...
//	[Question]
//	What does section 3 claim?
//
// QuestionText recovers the literal question for titles and previews.

const (
	MarkerPDFContent = "[PDF Content]"
	MarkerQuestion   = "[Question]"
)

var (
	markerDocumentRe = regexp.MustCompile(`(?m)^\[Document: [^\]]*\]$`)
	markerSelectedRe = regexp.MustCompile(`(?m)^\[Selected [^\]]*\]$`)
)

// QuestionText returns the literal question from an assembled user message,
// with all context markers and their sections stripped. If no [Question]
// marker is present the whole content is returned unchanged.
func (m *ChatMessage) QuestionText() string {
	content := m.Content
	if idx := strings.LastIndex(content, MarkerQuestion); idx >= 0 {
		return strings.TrimSpace(content[idx+len(MarkerQuestion):])
	}
	return strings.TrimSpace(content)
}

// StripContextMarkers removes marker lines from text, leaving surrounding
// content in place. Used when only the markers themselves must go.
func StripContextMarkers(text string) string {
	text = markerDocumentRe.ReplaceAllString(text, "")
	text = markerSelectedRe.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, MarkerPDFContent, "")
	text = strings.ReplaceAll(text, MarkerQuestion, "")
	return strings.TrimSpace(text)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateMessageID creates a unique message ID.
func generateMessageID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
