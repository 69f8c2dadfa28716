// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"time"

	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/util"
)

// =============================================================================
// SESSION METADATA
// =============================================================================

const (
	// PreviewMaxRunes bounds the preview fragment length.
	PreviewMaxRunes = 60

	// TitleMaxRunes bounds the fallback display name length.
	TitleMaxRunes = 40

	// DefaultDisplayName is used when a session has no title and no user
	// message to derive one from.
	DefaultDisplayName = "New conversation"
)

// SessionMeta is a derived, denormalized projection of one session, held
// only in the index. It must always be reconstructable from the per-item
// records.
type SessionMeta struct {
	SessionID    string    `json:"session_id"`
	ItemID       int       `json:"item_id"`
	DisplayName  string    `json:"display_name"`
	Preview      string    `json:"preview"`
	MessageCount int       `json:"message_count"`
	IsEmpty      bool      `json:"is_empty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DeriveMeta builds the index projection for one session.
func DeriveMeta(s *model.ChatSession) SessionMeta {
	return SessionMeta{
		SessionID:    s.ID,
		ItemID:       s.ItemID,
		DisplayName:  displayName(s),
		Preview:      preview(s),
		MessageCount: len(s.Messages),
		IsEmpty:      s.IsEmpty(),
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// preview returns the trailing fragment of the last non-empty message,
// collapsed to one line and ellipsis-suffixed when truncated.
func preview(s *model.ChatSession) string {
	last := s.LastNonEmpty()
	if last == nil {
		return ""
	}
	text := util.CollapseWhitespace(last.Content)
	runes := []rune(text)
	if len(runes) <= PreviewMaxRunes {
		return text
	}
	return string(runes[len(runes)-PreviewMaxRunes:]) + "..."
}

// displayName returns the session title, falling back to a truncated form
// of the first user question with context markers stripped.
func displayName(s *model.ChatSession) string {
	if s.Title != "" {
		return s.Title
	}
	first := s.FirstUserMessage()
	if first == nil {
		return DefaultDisplayName
	}
	question := util.CollapseWhitespace(model.StripContextMarkers(first.QuestionText()))
	if question == "" {
		return DefaultDisplayName
	}
	return util.TruncateRunes(question, TitleMaxRunes)
}
