// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/docchat/internal/model"
)

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

// ExportFormat selects the serialization of an exported session.
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportYAML ExportFormat = "yaml"
)

// Export serializes one session. Messages with empty content are filtered
// out so downstream consumers always receive a well-formed message list.
func (s *SessionStore) Export(itemID int, sessionID string, format ExportFormat) ([]byte, error) {
	session, err := s.Load(itemID, sessionID)
	if err != nil {
		return nil, err
	}

	clean := *session
	clean.Messages = make([]*model.ChatMessage, 0, len(session.Messages))
	for _, msg := range session.Messages {
		if !msg.IsEmpty() {
			clean.Messages = append(clean.Messages, msg)
		}
	}

	switch format {
	case ExportYAML:
		return yaml.Marshal(&clean)
	case ExportJSON, "":
		return json.MarshalIndent(&clean, "", "  ")
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// Import parses a previously exported session and persists it under its
// item. A session whose ID collides with an existing one gets a fresh ID.
func (s *SessionStore) Import(data []byte, format ExportFormat) (*model.ChatSession, error) {
	var session model.ChatSession

	switch format {
	case ExportYAML:
		if err := yaml.Unmarshal(data, &session); err != nil {
			return nil, fmt.Errorf("failed to parse session: %w", err)
		}
	case ExportJSON, "":
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, fmt.Errorf("failed to parse session: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}

	if session.ID == "" {
		fresh := model.NewChatSession(session.ItemID)
		session.ID = fresh.ID
	} else if _, err := s.Load(session.ItemID, session.ID); err == nil {
		fresh := model.NewChatSession(session.ItemID)
		session.ID = fresh.ID
	}

	if err := s.Save(&session); err != nil {
		return nil, err
	}
	return &session, nil
}
