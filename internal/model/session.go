// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CHAT SESSION
// =============================================================================

// GlobalItemID is the item scope for document-independent sessions.
const GlobalItemID = 0

// ChatSession is one conversation thread, scoped to a document (ItemID > 0)
// or global (ItemID == 0). On disk the session is owned by the session
// store; while a session is active the conversation controller's in-memory
// copy is authoritative.
type ChatSession struct {
	ID     string `json:"id"`
	ItemID int    `json:"item_id"`

	// DocumentIDs lists additional items this session is shared across.
	DocumentIDs []int `json:"document_ids,omitempty"`

	Messages []*ChatMessage `json:"messages"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Title is generated once, lazily, after the first completed turn.
	Title string `json:"title,omitempty"`

	// PDFAttached records that the document's text has already been folded
	// into the session context, guarding against re-attaching it.
	PDFAttached bool `json:"pdf_attached,omitempty"`
}

// NewChatSession creates an empty session for an item.
func NewChatSession(itemID int) *ChatSession {
	now := time.Now()
	return &ChatSession{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		Messages:  []*ChatMessage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message and bumps UpdatedAt.
func (s *ChatSession) Append(msg *ChatMessage) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
}

// RemoveMessage deletes the message with the given ID, if present.
func (s *ChatSession) RemoveMessage(id string) bool {
	for i, m := range s.Messages {
		if m.ID == id {
			s.Messages = append(s.Messages[:i], s.Messages[i+1:]...)
			s.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// FindMessage returns the message with the given ID and its index.
func (s *ChatSession) FindMessage(id string) (*ChatMessage, int) {
	for i, m := range s.Messages {
		if m.ID == id {
			return m, i
		}
	}
	return nil, -1
}

// LastNonEmpty returns the last message with content, or nil.
func (s *ChatSession) LastNonEmpty() *ChatMessage {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if !s.Messages[i].IsEmpty() {
			return s.Messages[i]
		}
	}
	return nil
}

// FirstUserMessage returns the first user-role message, or nil.
func (s *ChatSession) FirstUserMessage() *ChatMessage {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return m
		}
	}
	return nil
}

// IsEmpty reports whether the session has zero non-empty messages.
func (s *ChatSession) IsEmpty() bool {
	return s.LastNonEmpty() == nil
}

// SharesDocument reports whether the session covers the given item, either
// as its primary scope or through DocumentIDs.
func (s *ChatSession) SharesDocument(itemID int) bool {
	if s.ItemID == itemID {
		return true
	}
	for _, id := range s.DocumentIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// =============================================================================
// DOCUMENT SESSIONS
// =============================================================================

// DocumentSessions is the persisted unit: all sessions for one item plus
// which one is active.
//
// Invariant: while Sessions is non-empty, ActiveSessionID always names one
// of them; it is empty only when Sessions is empty.
type DocumentSessions struct {
	ItemID          int            `json:"item_id"`
	Sessions        []*ChatSession `json:"sessions"`
	ActiveSessionID string         `json:"active_session_id,omitempty"`
}

// NewDocumentSessions creates an empty record for an item.
func NewDocumentSessions(itemID int) *DocumentSessions {
	return &DocumentSessions{ItemID: itemID, Sessions: []*ChatSession{}}
}

// Find returns the session with the given ID, or nil.
func (d *DocumentSessions) Find(sessionID string) *ChatSession {
	for _, s := range d.Sessions {
		if s.ID == sessionID {
			return s
		}
	}
	return nil
}

// Active returns the active session, or nil when the record is empty.
func (d *DocumentSessions) Active() *ChatSession {
	if d.ActiveSessionID == "" {
		return nil
	}
	return d.Find(d.ActiveSessionID)
}

// Upsert replaces the stored copy of the session, or appends it.
func (d *DocumentSessions) Upsert(session *ChatSession) {
	for i, s := range d.Sessions {
		if s.ID == session.ID {
			d.Sessions[i] = session
			return
		}
	}
	d.Sessions = append(d.Sessions, session)
	if d.ActiveSessionID == "" {
		d.ActiveSessionID = session.ID
	}
}

// Remove deletes a session. When the active session is removed the most
// recently updated survivor becomes active; ActiveSessionID is cleared only
// when no sessions remain.
func (d *DocumentSessions) Remove(sessionID string) bool {
	idx := -1
	for i, s := range d.Sessions {
		if s.ID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	d.Sessions = append(d.Sessions[:idx], d.Sessions[idx+1:]...)

	if d.ActiveSessionID == sessionID {
		d.ActiveSessionID = ""
		var newest *ChatSession
		for _, s := range d.Sessions {
			if newest == nil || s.UpdatedAt.After(newest.UpdatedAt) {
				newest = s
			}
		}
		if newest != nil {
			d.ActiveSessionID = newest.ID
		}
	}
	return true
}
