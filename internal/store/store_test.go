// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/docchat/internal/kv"
	"github.com/jeranaias/docchat/internal/model"
)

func newTestStore(t *testing.T) (*SessionStore, kv.Store) {
	t.Helper()
	backend, err := kv.NewFileStore(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	return NewSessionStore(backend), backend
}

func sessionWith(t *testing.T, s *SessionStore, itemID int, contents ...string) *model.ChatSession {
	t.Helper()
	session, err := s.CreateNew(itemID)
	require.NoError(t, err)
	for i, c := range contents {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		session.Append(model.NewMessage(role, c))
	}
	require.NoError(t, s.Save(session))
	return session
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

func TestSessionStore_SaveLoad(t *testing.T) {
	s, _ := newTestStore(t)

	session := sessionWith(t, s, 7, "hello", "hi there")

	loaded, err := s.Load(7, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.ID, loaded.ID)
	require.Len(t, loaded.Messages, 2)
	require.Equal(t, "hello", loaded.Messages[0].Content)
}

func TestSessionStore_LoadMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Load(1, "nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStore_PerItemGranularity(t *testing.T) {
	s, backend := newTestStore(t)

	sessionWith(t, s, 3, "a")
	sessionWith(t, s, 3, "b")
	sessionWith(t, s, 9, "c")

	keys, err := backend.Keys()
	require.NoError(t, err)
	// one record per item plus the index, not one per session
	require.ElementsMatch(t, []string{"item-3", "item-9", "index"}, keys)
}

// =============================================================================
// ACTIVE SESSION
// =============================================================================

func TestSessionStore_ActiveSelection(t *testing.T) {
	s, _ := newTestStore(t)

	first := sessionWith(t, s, 1, "q1")
	second := sessionWith(t, s, 1, "q2")

	// CreateNew activates the newest session
	active, err := s.GetActive(1)
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)

	require.NoError(t, s.SetActive(1, first.ID))
	active, err = s.GetActive(1)
	require.NoError(t, err)
	require.Equal(t, first.ID, active.ID)

	require.ErrorIs(t, s.SetActive(1, "ghost"), ErrSessionNotFound)
}

func TestSessionStore_DeleteActiveSelectsSurvivor(t *testing.T) {
	s, _ := newTestStore(t)

	survivor := sessionWith(t, s, 1, "keep me")
	doomed := sessionWith(t, s, 1, "delete me")
	require.NoError(t, s.SetActive(1, doomed.ID))

	require.NoError(t, s.Delete(1, doomed.ID))

	active, err := s.GetActive(1)
	require.NoError(t, err)
	require.NotNil(t, active, "activeSessionID must never dangle while sessions remain")
	require.Equal(t, survivor.ID, active.ID)
}

func TestSessionStore_DeleteLastRemovesRecord(t *testing.T) {
	s, backend := newTestStore(t)

	only := sessionWith(t, s, 5, "solo")
	require.NoError(t, s.Delete(5, only.ID))

	ok, err := backend.Exists("item-5")
	require.NoError(t, err)
	require.False(t, ok, "empty per-item record should be removed")

	active, err := s.GetActive(5)
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestSessionStore_DeleteAllForItem(t *testing.T) {
	s, _ := newTestStore(t)

	sessionWith(t, s, 2, "a")
	sessionWith(t, s, 2, "b")
	other := sessionWith(t, s, 4, "keep")

	require.NoError(t, s.DeleteAllForItem(2))

	metas, err := s.List(-1, true)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, other.ID, metas[0].SessionID)
}

// =============================================================================
// LISTING AND METADATA
// =============================================================================

func TestSessionStore_ListExcludesEmpty(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.CreateNew(1) // stays empty
	require.NoError(t, err)
	full := sessionWith(t, s, 1, "question", "answer")

	metas, err := s.List(1, false)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, full.ID, metas[0].SessionID)

	for _, meta := range metas {
		require.False(t, meta.IsEmpty)
	}

	withEmpty, err := s.List(1, true)
	require.NoError(t, err)
	require.Len(t, withEmpty, 2)
}

func TestSessionStore_ListScopesByItem(t *testing.T) {
	s, _ := newTestStore(t)

	sessionWith(t, s, 1, "a")
	sessionWith(t, s, 2, "b")

	metas, err := s.List(1, false)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, 1, metas[0].ItemID)

	all, err := s.List(-1, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSessionStore_ListSortedByRecency(t *testing.T) {
	s, _ := newTestStore(t)

	old := sessionWith(t, s, 1, "old")
	old.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, s.Save(old))
	fresh := sessionWith(t, s, 1, "fresh")

	metas, err := s.List(1, false)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, fresh.ID, metas[0].SessionID)
	require.Equal(t, old.ID, metas[1].SessionID)
}

func TestDeriveMeta_Preview(t *testing.T) {
	session := model.NewChatSession(1)
	session.Append(model.NewUserMessage("short question"))
	session.Append(model.NewMessage(model.RoleAssistant, strings.Repeat("word ", 40)+"the very end"))

	meta := DeriveMeta(session)
	require.True(t, strings.HasSuffix(meta.Preview, "the very end..."),
		"preview should keep the trailing fragment, got %q", meta.Preview)
	require.LessOrEqual(t, len([]rune(meta.Preview)), PreviewMaxRunes+3)
}

func TestDeriveMeta_DisplayNameFallback(t *testing.T) {
	session := model.NewChatSession(1)
	session.Append(model.NewUserMessage("[Document: a.pdf]\nexcerpt\n[Question]\nWhat is entropy?"))

	meta := DeriveMeta(session)
	require.Equal(t, "What is entropy?", meta.DisplayName)

	session.Title = "Entropy chat"
	meta = DeriveMeta(session)
	require.Equal(t, "Entropy chat", meta.DisplayName)
}

func TestDeriveMeta_EmptySession(t *testing.T) {
	session := model.NewChatSession(1)
	meta := DeriveMeta(session)
	require.True(t, meta.IsEmpty)
	require.Equal(t, DefaultDisplayName, meta.DisplayName)
	require.Equal(t, "", meta.Preview)
}

// =============================================================================
// INDEX REBUILD
// =============================================================================

func TestIndex_RebuildIdempotent(t *testing.T) {
	s, backend := newTestStore(t)

	sessionWith(t, s, 1, "a", "b")
	sessionWith(t, s, 2, "c")
	_, err := s.CreateNew(3)
	require.NoError(t, err)

	require.NoError(t, s.RebuildIndex())
	first, err := backend.Get("index")
	require.NoError(t, err)

	require.NoError(t, s.RebuildIndex())
	second, err := backend.Get("index")
	require.NoError(t, err)

	require.Equal(t, string(first), string(second),
		"rebuilding twice in a row must produce identical index content")
}

func TestIndex_SelfHealsFromCorruption(t *testing.T) {
	s, backend := newTestStore(t)

	session := sessionWith(t, s, 1, "survives corruption")

	require.NoError(t, backend.Put("index", []byte("{{{ not json")))

	metas, err := s.List(1, false)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, session.ID, metas[0].SessionID)
}

func TestIndex_MissingIndexRebuilt(t *testing.T) {
	s, backend := newTestStore(t)

	sessionWith(t, s, 1, "x")
	require.NoError(t, backend.Delete("index"))

	metas, err := s.List(-1, false)
	require.NoError(t, err)
	require.Len(t, metas, 1)
}

func TestIndex_RebuildSkipsBadRecords(t *testing.T) {
	s, backend := newTestStore(t)

	good := sessionWith(t, s, 1, "fine")
	require.NoError(t, backend.Put("item-2", []byte("broken record")))
	require.NoError(t, backend.Delete("index"))

	metas, err := s.List(-1, false)
	require.NoError(t, err, "a bad per-item record must not be fatal")
	require.Len(t, metas, 1)
	require.Equal(t, good.ID, metas[0].SessionID)
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

func TestExport_FiltersEmptyMessages(t *testing.T) {
	s, _ := newTestStore(t)

	session := sessionWith(t, s, 1, "question")
	session.Append(model.NewAssistantPlaceholder()) // empty
	require.NoError(t, s.Save(session))

	data, err := s.Export(1, session.ID, ExportJSON)
	require.NoError(t, err)

	imported, err := s.Import(data, ExportJSON)
	require.NoError(t, err)
	require.Len(t, imported.Messages, 1, "empty messages must be filtered on export")
}

func TestExportImport_YAMLRoundtrip(t *testing.T) {
	s, _ := newTestStore(t)

	session := sessionWith(t, s, 1, "ping", "pong")
	session.Title = "Round trip"
	require.NoError(t, s.Save(session))

	data, err := s.Export(1, session.ID, ExportYAML)
	require.NoError(t, err)

	imported, err := s.Import(data, ExportYAML)
	require.NoError(t, err)
	require.Equal(t, "Round trip", imported.Title)
	require.Len(t, imported.Messages, 2)
	require.NotEqual(t, session.ID, imported.ID,
		"colliding session IDs must be reassigned on import")
}
